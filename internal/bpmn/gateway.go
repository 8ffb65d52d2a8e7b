package bpmn

// ParallelGatewayRule joins all incoming flows and splits into every
// outgoing flow whose guard holds.
type ParallelGatewayRule struct {
	BaseRule
}

// NewParallelGatewayRule returns the AND gateway rule.
func NewParallelGatewayRule() *ParallelGatewayRule {
	return &ParallelGatewayRule{NewBaseRule(RuleConfig{
		TokensConsumedPerTransition: AllTokens,
		TokensConsumedPerIncoming:   1,
	})}
}

// Route fires every outgoing flow whose guard holds.
func (r *ParallelGatewayRule) Route(n *Node, data DataStore) ([]*Flow, error) {
	return routeAll(n, data), nil
}

// InclusiveGatewayRule fires once every token that can still reach it has
// arrived.
type InclusiveGatewayRule struct {
	BaseRule
}

// NewInclusiveGatewayRule returns the OR gateway rule.
func NewInclusiveGatewayRule() *InclusiveGatewayRule {
	return &InclusiveGatewayRule{NewBaseRule(RuleConfig{
		TokensConsumedPerTransition: AllTokens,
		TokensConsumedPerIncoming:   1,
	})}
}

// HasAllRequiredTokens holds when at least one incoming flow carries a
// token and no empty incoming flow has a live token upstream of it.
func (r *InclusiveGatewayRule) HasAllRequiredTokens(in *Inbox) bool {
	if in.Filled() == 0 {
		return false
	}
	for _, p := range in.Places {
		if len(p.Tokens) > 0 || p.Flow == nil {
			continue
		}
		if in.Instance.pendingUpstream(in.Node, p.Flow) {
			return false
		}
	}
	return true
}

// ExclusiveGatewayRule passes each arriving token to exactly one outgoing
// flow.
type ExclusiveGatewayRule struct {
	BaseRule
}

// NewExclusiveGatewayRule returns the XOR gateway rule.
func NewExclusiveGatewayRule() *ExclusiveGatewayRule {
	return &ExclusiveGatewayRule{NewBaseRule(RuleConfig{
		TokensConsumedPerTransition: 1,
		TokensConsumedPerIncoming:   1,
	})}
}

// HasAllRequiredTokens holds when any incoming flow carries a token.
func (r *ExclusiveGatewayRule) HasAllRequiredTokens(in *Inbox) bool {
	return in.Filled() > 0
}

// Route picks the first non-default flow whose guard holds, falling back
// to the default flow.
func (r *ExclusiveGatewayRule) Route(n *Node, data DataStore) ([]*Flow, error) {
	return routeExclusive(n, data), nil
}

func gatewayTransition(name string, rule Rule) *transition {
	return &transition{
		name: name,
		rule: rule,
		from: StageIncoming,
		dest: toOutgoing,
		events: eventSet{
			activated: EventGatewayActivated,
			consumed:  EventGatewayTokenConsumed,
			passed:    EventGatewayTokenPassed,
		},
	}
}

func routeAll(n *Node, data DataStore) []*Flow {
	var flows []*Flow
	for _, f := range n.Outgoing {
		if f.Evaluate(data) {
			flows = append(flows, f)
		}
	}
	return flows
}

func routeInclusive(n *Node, data DataStore) []*Flow {
	var flows []*Flow
	for _, f := range n.Outgoing {
		if !f.Default && f.Evaluate(data) {
			flows = append(flows, f)
		}
	}
	if len(flows) == 0 {
		if d := n.defaultFlow(); d != nil {
			flows = append(flows, d)
		}
	}
	return flows
}

func routeExclusive(n *Node, data DataStore) []*Flow {
	for _, f := range n.Outgoing {
		if !f.Default && f.Evaluate(data) {
			return []*Flow{f}
		}
	}
	if d := n.defaultFlow(); d != nil {
		return []*Flow{d}
	}
	return nil
}
