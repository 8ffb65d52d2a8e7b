package bpmn

// ActivityRule activates a task when a token arrives on any incoming flow.
type ActivityRule struct {
	BaseRule
}

// NewActivityRule returns the task activation rule.
func NewActivityRule() *ActivityRule {
	return &ActivityRule{NewBaseRule(RuleConfig{
		TokensConsumedPerTransition: 1,
		TokensConsumedPerIncoming:   1,
		PreserveToken:               true,
	})}
}

// HasAllRequiredTokens holds when any incoming flow carries a token.
func (r *ActivityRule) HasAllRequiredTokens(in *Inbox) bool {
	return in.Filled() > 0
}

// AssertCondition accepts READY tokens only.
func (r *ActivityRule) AssertCondition(tok *Token, _ *Instance) bool {
	return tok.Status == TokenReady
}

// ActivityCloseRule closes a task token completed by an external actor.
type ActivityCloseRule struct {
	BaseRule
}

// NewActivityCloseRule returns the task close rule.
func NewActivityCloseRule() *ActivityCloseRule {
	return &ActivityCloseRule{NewBaseRule(RuleConfig{
		TokensConsumedPerTransition: 1,
		TokensConsumedPerIncoming:   1,
		PreserveToken:               true,
	})}
}

// ActivityExitRule moves a closed task token to the outgoing flows.
type ActivityExitRule struct {
	BaseRule
}

// NewActivityExitRule returns the task exit rule.
func NewActivityExitRule() *ActivityExitRule {
	return &ActivityExitRule{NewBaseRule(RuleConfig{
		TokensConsumedPerTransition: 1,
		TokensConsumedPerIncoming:   1,
	})}
}

// AssertCondition accepts closed tokens that were not cancelled.
func (r *ActivityExitRule) AssertCondition(tok *Token, _ *Instance) bool {
	return tok.Status == TokenClosed && !tok.IsCancelled()
}

// CancelActivityRule moves a running task token that was closed by a cancel
// request to the closed stage, tagging it with the Cancel marker.
type CancelActivityRule struct {
	BaseRule
}

// NewCancelActivityRule returns the task cancel rule.
func NewCancelActivityRule() *CancelActivityRule {
	return &CancelActivityRule{NewBaseRule(RuleConfig{
		TokensConsumedPerTransition: 1,
		TokensConsumedPerIncoming:   1,
		PreserveToken:               true,
	})}
}

// AssertCondition accepts tokens whose status is CLOSED.
func (r *CancelActivityRule) AssertCondition(tok *Token, _ *Instance) bool {
	return tok.Status == TokenClosed
}

// OnTokenTransit sets the Cancel marker.
func (r *CancelActivityRule) OnTokenTransit(tok *Token) {
	tok.SetProperty(PropertyEventType, EventTypeCancel)
}

// CancelledExitRule retires cancelled task tokens without firing any flow.
type CancelledExitRule struct {
	BaseRule
}

// NewCancelledExitRule returns the cancelled task exit rule.
func NewCancelledExitRule() *CancelledExitRule {
	return &CancelledExitRule{NewBaseRule(RuleConfig{
		TokensConsumedPerTransition: 1,
		TokensConsumedPerIncoming:   1,
	})}
}

// AssertCondition accepts tokens carrying the Cancel marker.
func (r *CancelledExitRule) AssertCondition(tok *Token, _ *Instance) bool {
	return tok.IsCancelled()
}

func activityTransitions() []*transition {
	return []*transition{
		{
			name:   "activate",
			rule:   NewActivityRule(),
			from:   StageIncoming,
			dest:   toStage,
			to:     StageActive,
			status: TokenActive,
			events: eventSet{activated: EventActivityActivated},
			inline: true,
		},
		{
			name:   "close",
			rule:   NewActivityCloseRule(),
			from:   StageCompleted,
			dest:   toStage,
			to:     StageClosed,
			status: TokenClosed,
			events: eventSet{activated: EventActivityClosed},
		},
		{
			name:   "cancel",
			rule:   NewCancelActivityRule(),
			from:   StageActive,
			dest:   toStage,
			to:     StageClosed,
			status: TokenClosed,
			events: eventSet{activated: EventActivityCancelled},
		},
		{
			name: "exit",
			rule: NewActivityExitRule(),
			from: StageClosed,
			dest: toOutgoing,
		},
		{
			name: "cancelled-exit",
			rule: NewCancelledExitRule(),
			from: StageClosed,
			dest: toRetire,
		},
	}
}
