package bpmn

// StartEventRule triggers a start event holding a READY token.
type StartEventRule struct {
	BaseRule
}

// NewStartEventRule returns the start event rule.
func NewStartEventRule() *StartEventRule {
	return &StartEventRule{NewBaseRule(RuleConfig{
		TokensConsumedPerTransition: 1,
		TokensConsumedPerIncoming:   1,
	})}
}

// AssertCondition accepts READY tokens only.
func (r *StartEventRule) AssertCondition(tok *Token, _ *Instance) bool {
	return tok.Status == TokenReady
}

// ThrowEventRule triggers an intermediate throw event and sends its message.
type ThrowEventRule struct {
	BaseRule
}

// NewThrowEventRule returns the throw event rule.
func NewThrowEventRule() *ThrowEventRule {
	return &ThrowEventRule{NewBaseRule(RuleConfig{
		TokensConsumedPerTransition: 1,
		TokensConsumedPerIncoming:   1,
	})}
}

// HasAllRequiredTokens holds when any incoming flow carries a token.
func (r *ThrowEventRule) HasAllRequiredTokens(in *Inbox) bool {
	return in.Filled() > 0
}

// CatchArmRule parks a token arriving at a catch event until its message
// is delivered.
type CatchArmRule struct {
	BaseRule
}

// NewCatchArmRule returns the catch event arming rule.
func NewCatchArmRule() *CatchArmRule {
	return &CatchArmRule{NewBaseRule(RuleConfig{
		TokensConsumedPerTransition: 1,
		TokensConsumedPerIncoming:   1,
		PreserveToken:               true,
	})}
}

// HasAllRequiredTokens holds when any incoming flow carries a token.
func (r *CatchArmRule) HasAllRequiredTokens(in *Inbox) bool {
	return in.Filled() > 0
}

// CatchEventRule forwards a catch event token once its message arrived.
type CatchEventRule struct {
	BaseRule
}

// NewCatchEventRule returns the catch event trigger rule.
func NewCatchEventRule() *CatchEventRule {
	return &CatchEventRule{NewBaseRule(RuleConfig{
		TokensConsumedPerTransition: 1,
		TokensConsumedPerIncoming:   1,
	})}
}

// AssertCondition accepts READY tokens only.
func (r *CatchEventRule) AssertCondition(tok *Token, _ *Instance) bool {
	return tok.Status == TokenReady
}

// EndEventRule consumes a token arriving at an end event.
type EndEventRule struct {
	BaseRule
}

// NewEndEventRule returns the end event rule.
func NewEndEventRule() *EndEventRule {
	return &EndEventRule{NewBaseRule(RuleConfig{
		TokensConsumedPerTransition: 1,
		TokensConsumedPerIncoming:   1,
	})}
}

// HasAllRequiredTokens holds when any incoming flow carries a token.
func (r *EndEventRule) HasAllRequiredTokens(in *Inbox) bool {
	return in.Filled() > 0
}

func startTransition() *transition {
	return &transition{
		name:   "trigger",
		rule:   NewStartEventRule(),
		from:   StageReady,
		dest:   toOutgoing,
		events: eventSet{activated: EventTriggered},
	}
}

func throwTransition() *transition {
	return &transition{
		name:   "throw",
		rule:   NewThrowEventRule(),
		from:   StageIncoming,
		dest:   toOutgoing,
		events: eventSet{activated: EventTriggered},
		effect: sendMessage,
	}
}

func endTransition() *transition {
	return &transition{
		name:   "end",
		rule:   NewEndEventRule(),
		from:   StageIncoming,
		dest:   toRetire,
		events: eventSet{activated: EventTriggered},
		inline: true,
		effect: sendMessage,
	}
}

func catchTransitions() []*transition {
	return []*transition{
		{
			name:   "arm",
			rule:   NewCatchArmRule(),
			from:   StageIncoming,
			dest:   toStage,
			to:     StageWaiting,
			status: TokenActive,
			events: eventSet{activated: EventCatchTokenArrives},
			inline: true,
			effect: func(inst *Instance, n *Node, _ []*Token, out *Outcome) {
				out.Subscribe = append(out.Subscribe, subscriptionFor(n))
			},
		},
		{
			name:   "catch",
			rule:   NewCatchEventRule(),
			from:   StageReady,
			dest:   toOutgoing,
			events: eventSet{activated: EventCatchMessageConsumed},
			effect: func(inst *Instance, n *Node, _ []*Token, out *Outcome) {
				if !inst.waitingAt(n.ID) {
					out.Unsubscribe = append(out.Unsubscribe, subscriptionFor(n))
				}
			},
		},
	}
}

func subscriptionFor(n *Node) Subscription {
	return Subscription{Process: n.process, Node: n, Key: n.Message.ID}
}

// sendMessage queues the node's message, if any, with the triggering token
// as origin.
func sendMessage(_ *Instance, n *Node, picked []*Token, out *Outcome) {
	if n.Message == nil {
		return
	}
	s := Send{Message: *n.Message}
	if len(picked) > 0 {
		s.Origin = picked[0].Clone()
	}
	out.Sends = append(out.Sends, s)
}
