package bpmn

// AllTokens as TokensConsumedPerTransition consumes every available token,
// up to TokensConsumedPerIncoming from each input place.
const AllTokens = -1

// RuleConfig holds the consumption policy of a rule.
type RuleConfig struct {
	// TokensConsumedPerTransition is the number of tokens consumed by one
	// firing, or AllTokens.
	TokensConsumedPerTransition int
	// TokensConsumedPerIncoming is the number of tokens an input place must
	// hold before it counts as satisfied.
	TokensConsumedPerIncoming int
	// PreserveToken forwards the consumed token instead of destroying it.
	PreserveToken bool
}

// Rule decides enablement and token side effects for one transition.
// Implementations embed BaseRule and override only the hooks that differ.
type Rule interface {
	Config() RuleConfig
	HasAllRequiredTokens(in *Inbox) bool
	AssertCondition(tok *Token, inst *Instance) bool
	OnTokenTransit(tok *Token)
	Route(n *Node, data DataStore) ([]*Flow, error)
}

// BaseRule provides the default hook implementations.
type BaseRule struct {
	cfg RuleConfig
}

// NewBaseRule returns a BaseRule with the given policy.
func NewBaseRule(cfg RuleConfig) BaseRule {
	return BaseRule{cfg: cfg}
}

// Config returns the rule's consumption policy.
func (r BaseRule) Config() RuleConfig { return r.cfg }

// HasAllRequiredTokens holds when every input place holds at least
// TokensConsumedPerIncoming eligible tokens.
func (r BaseRule) HasAllRequiredTokens(in *Inbox) bool {
	if len(in.Places) == 0 {
		return false
	}
	need := max(r.cfg.TokensConsumedPerIncoming, 1)
	for _, p := range in.Places {
		if len(p.Tokens) < need {
			return false
		}
	}
	return true
}

// AssertCondition accepts every token.
func (r BaseRule) AssertCondition(*Token, *Instance) bool { return true }

// OnTokenTransit does nothing.
func (r BaseRule) OnTokenTransit(*Token) {}

// Route fires every true non-default flow, or the default flow when none
// matched.
func (r BaseRule) Route(n *Node, data DataStore) ([]*Flow, error) {
	return routeInclusive(n, data), nil
}

// Place is one input of a transition: an incoming flow, or the source
// stage when Flow is nil.
type Place struct {
	Flow   *Flow
	Tokens []*Token
}

// Inbox is the set of eligible tokens a transition sees, grouped by place
// and kept in arrival order.
type Inbox struct {
	Node     *Node
	Instance *Instance
	Places   []Place
	tokens   []*Token
}

// Len returns the number of eligible tokens.
func (in *Inbox) Len() int { return len(in.tokens) }

// Filled returns the number of places holding at least one token.
func (in *Inbox) Filled() int {
	n := 0
	for _, p := range in.Places {
		if len(p.Tokens) > 0 {
			n++
		}
	}
	return n
}

type destination int

const (
	toStage destination = iota
	toOutgoing
	toRetire
)

// eventSet names the events a transition emits; empty means none.
type eventSet struct {
	activated EventType
	consumed  EventType
	passed    EventType
}

// transition binds a rule to a source stage and a destination.
type transition struct {
	name   string
	rule   Rule
	from   Stage
	dest   destination
	to     Stage
	status TokenStatus
	events eventSet

	// inline transitions run as part of the step that delivers a token to
	// the node instead of being scheduled on their own.
	inline bool

	// effect runs once the picked tokens are consumed, before any token
	// reaches the downstream nodes.
	effect func(inst *Instance, n *Node, picked []*Token, out *Outcome)
}

func (tr *transition) enabled(in *Inbox) bool {
	return in.Len() > 0 && tr.rule.HasAllRequiredTokens(in)
}

// selectTokens picks the tokens one firing consumes.
func (tr *transition) selectTokens(in *Inbox) []*Token {
	cfg := tr.rule.Config()
	if cfg.TokensConsumedPerTransition == AllTokens {
		per := max(cfg.TokensConsumedPerIncoming, 1)
		var picked []*Token
		for _, p := range in.Places {
			if len(p.Tokens) >= per {
				picked = append(picked, p.Tokens[:per]...)
			}
		}
		return picked
	}
	n := min(max(cfg.TokensConsumedPerTransition, 1), len(in.tokens))
	return append([]*Token(nil), in.tokens[:n]...)
}

// fire executes the transition. Routing is resolved before anything is
// mutated, so a failing transition leaves the instance untouched.
func (tr *transition) fire(inst *Instance, n *Node, in *Inbox, out *Outcome) error {
	cfg := tr.rule.Config()
	picked := tr.selectTokens(in)
	if len(picked) == 0 {
		return nil
	}

	var flows []*Flow
	if tr.dest == toOutgoing {
		var err error
		flows, err = tr.rule.Route(n, inst.data)
		if err != nil {
			return err
		}
		if len(flows) == 0 && len(n.Outgoing) > 0 {
			e := graphError(n.process, n.ID, "no outgoing flow of %s %q can be taken", n.Kind, n.ID)
			e.Instance = inst.id
			return e
		}
	}

	if tr.events.activated != "" {
		out.emit(tr.events.activated, inst, n.ID, picked[0], "")
	}
	for _, tok := range picked {
		tr.rule.OnTokenTransit(tok)
		if !cfg.PreserveToken {
			inst.consume(tok)
			if tr.events.consumed != "" {
				out.emit(tr.events.consumed, inst, n.ID, tok, "")
			}
		}
	}
	if tr.effect != nil {
		tr.effect(inst, n, picked, out)
	}

	switch tr.dest {
	case toStage:
		for _, tok := range picked {
			next := tok
			if !cfg.PreserveToken {
				next = inst.spawn(n.ID, tok)
				inst.add(next)
			}
			next.Stage = tr.to
			next.Status = tr.status
			next.Flow = ""
		}

	case toOutgoing:
		for _, f := range flows {
			tok := inst.spawn(n.ID, nil)
			if tr.events.passed != "" {
				out.emit(tr.events.passed, inst, n.ID, tok, f.ID)
			}
			if err := inst.deliver(f, tok, out); err != nil {
				return err
			}
		}

	case toRetire:
		for _, tok := range picked {
			if cfg.PreserveToken {
				inst.consume(tok)
			}
		}
	}
	return nil
}
