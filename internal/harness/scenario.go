package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ichavezg/nayra/internal/bpmn"
)

// Scenario is a scripted run of one or more processes.
type Scenario struct {
	// Name identifies the scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what the scenario shows.
	Description string `yaml:"description"`

	// Processes are the graphs the steps create instances of.
	Processes []ProcessDef `yaml:"processes"`

	// Steps run in order.
	Steps []Step `yaml:"steps"`

	// Assertions are evaluated after the last step.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// ProcessDef describes a process graph.
type ProcessDef struct {
	ID    string    `yaml:"id"`
	Name  string    `yaml:"name,omitempty"`
	Nodes []NodeDef `yaml:"nodes"`
	Flows []FlowDef `yaml:"flows,omitempty"`
}

// NodeDef describes a node. Kind is a bpmn.NodeKind value.
type NodeDef struct {
	ID      string      `yaml:"id"`
	Kind    string      `yaml:"kind"`
	Name    string      `yaml:"name,omitempty"`
	Message *MessageDef `yaml:"message,omitempty"`
}

// MessageDef describes a message or signal.
type MessageDef struct {
	ID string `yaml:"id"`
	// Kind is direct (default), broadcast or signal.
	Kind    string         `yaml:"kind,omitempty"`
	Payload map[string]any `yaml:"payload,omitempty"`
}

// FlowDef describes a flow. When holds key/value pairs that must all equal
// the instance data for the flow to be taken.
type FlowDef struct {
	ID      string         `yaml:"id,omitempty"`
	From    string         `yaml:"from"`
	To      string         `yaml:"to"`
	When    map[string]any `yaml:"when,omitempty"`
	Default bool           `yaml:"default,omitempty"`
}

// Step is one scenario action. Exactly one field is set.
type Step struct {
	Create   *CreateStep `yaml:"create,omitempty"`
	Run      *RunStep    `yaml:"run,omitempty"`
	Complete *TokenStep  `yaml:"complete,omitempty"`
	Cancel   *TokenStep  `yaml:"cancel,omitempty"`
	Send     *MessageDef `yaml:"send,omitempty"`
	Delay    *DelayStep  `yaml:"delay,omitempty"`
	Put      *PutStep    `yaml:"put,omitempty"`
	Expect   []string    `yaml:"expect,omitempty"`
}

// CreateStep starts an instance and names it As.
type CreateStep struct {
	As      string         `yaml:"as"`
	Process string         `yaml:"process"`
	Data    map[string]any `yaml:"data,omitempty"`
}

// RunStep drives the engine. MaxSteps bounds the transitions;
// Quiescent, when set, is the expected result.
type RunStep struct {
	MaxSteps  *int  `yaml:"max_steps,omitempty"`
	Quiescent *bool `yaml:"quiescent,omitempty"`
}

// TokenStep addresses the running task token at Node. ExpectError, when
// set, is the error kind the operation must fail with.
type TokenStep struct {
	Instance    string `yaml:"instance"`
	Node        string `yaml:"node"`
	ExpectError string `yaml:"expect_error,omitempty"`
}

// DelayStep schedules Message to be sent After the step runs and waits
// until it was sent.
type DelayStep struct {
	Message MessageDef    `yaml:"message"`
	After   time.Duration `yaml:"after"`
}

// PutStep writes Data into an instance's data store.
type PutStep struct {
	Instance string         `yaml:"instance"`
	Data     map[string]any `yaml:"data"`
}

// Step kinds.
const (
	StepCreate   = "create"
	StepRun      = "run"
	StepComplete = "complete"
	StepCancel   = "cancel"
	StepSend     = "send"
	StepDelay    = "delay"
	StepPut      = "put"
	StepExpect   = "expect"
)

// Kinds returns the names of the fields set on s.
func (s Step) Kinds() []string {
	var kinds []string
	if s.Create != nil {
		kinds = append(kinds, StepCreate)
	}
	if s.Run != nil {
		kinds = append(kinds, StepRun)
	}
	if s.Complete != nil {
		kinds = append(kinds, StepComplete)
	}
	if s.Cancel != nil {
		kinds = append(kinds, StepCancel)
	}
	if s.Send != nil {
		kinds = append(kinds, StepSend)
	}
	if s.Delay != nil {
		kinds = append(kinds, StepDelay)
	}
	if s.Put != nil {
		kinds = append(kinds, StepPut)
	}
	if s.Expect != nil {
		kinds = append(kinds, StepExpect)
	}
	return kinds
}

// Assertion validates the final state of a scenario.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Instance is an alias from a create step.
	Instance string `yaml:"instance,omitempty"`

	// Status is the expected instance status (instance_status).
	Status string `yaml:"status,omitempty"`

	// Event is the counted event type (event_count).
	Event string `yaml:"event,omitempty"`

	// Events is the expected relative order (event_order).
	Events []string `yaml:"events,omitempty"`

	// Node is the node whose tokens are counted (tokens_at).
	Node string `yaml:"node,omitempty"`

	// Count is the expected number (event_count, tokens_at, subscriptions).
	Count int `yaml:"count,omitempty"`

	// Expect is the subset of instance data to match (data).
	Expect map[string]any `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertInstanceStatus = "instance_status"
	AssertEventCount     = "event_count"
	AssertEventOrder     = "event_order"
	AssertTokensAt       = "tokens_at"
	AssertData           = "data"
	AssertSubscriptions  = "subscriptions"
)

// LoadScenario reads a scenario file, checks it against the CUE schema
// and decodes it strictly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario file: %w", err)
	}
	return ParseScenario(path, data)
}

// ParseScenario is LoadScenario for in-memory documents. filename is used
// in error positions only.
func ParseScenario(filename string, data []byte) (*Scenario, error) {
	if err := ValidateScenarioSchema(filename, data); err != nil {
		return nil, err
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks what the schema cannot: references between
// steps, processes and aliases, and that every process builds.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	processes := make(map[string]bool, len(s.Processes))
	for i, p := range s.Processes {
		if processes[p.ID] {
			return fmt.Errorf("processes[%d]: duplicate process id %q", i, p.ID)
		}
		processes[p.ID] = true
		if _, err := p.Build(); err != nil {
			return fmt.Errorf("processes[%d]: %w", i, err)
		}
	}

	aliases := make(map[string]bool)
	checkAlias := func(i int, kind, alias string) error {
		if !aliases[alias] {
			return fmt.Errorf("steps[%d].%s: unknown instance %q", i, kind, alias)
		}
		return nil
	}
	for i, step := range s.Steps {
		kinds := step.Kinds()
		if len(kinds) != 1 {
			return fmt.Errorf("steps[%d]: exactly one action is required, got %v", i, kinds)
		}
		var err error
		switch kinds[0] {
		case StepCreate:
			c := step.Create
			if !processes[c.Process] {
				return fmt.Errorf("steps[%d].create: unknown process %q", i, c.Process)
			}
			if aliases[c.As] {
				return fmt.Errorf("steps[%d].create: alias %q already used", i, c.As)
			}
			aliases[c.As] = true
		case StepComplete:
			err = checkAlias(i, StepComplete, step.Complete.Instance)
		case StepCancel:
			err = checkAlias(i, StepCancel, step.Cancel.Instance)
		case StepPut:
			err = checkAlias(i, StepPut, step.Put.Instance)
		}
		if err != nil {
			return err
		}
	}

	for i, a := range s.Assertions {
		if a.Instance != "" && !aliases[a.Instance] {
			return fmt.Errorf("assertions[%d]: unknown instance %q", i, a.Instance)
		}
	}
	return nil
}

// Build turns the definition into a validated process.
func (d ProcessDef) Build() (*bpmn.Process, error) {
	b := bpmn.NewBuilder(d.ID).Name(d.Name)
	for _, n := range d.Nodes {
		var opts []bpmn.NodeOption
		if n.Name != "" {
			opts = append(opts, bpmn.WithName(n.Name))
		}
		if n.Message != nil {
			msg, err := n.Message.Message()
			if err != nil {
				return nil, fmt.Errorf("node %q: %w", n.ID, err)
			}
			opts = append(opts, bpmn.WithMessage(msg))
		}
		b.Node(n.ID, bpmn.NodeKind(n.Kind), opts...)
	}
	for _, f := range d.Flows {
		var opts []bpmn.FlowOption
		if f.ID != "" {
			opts = append(opts, bpmn.WithFlowID(f.ID))
		}
		if len(f.When) > 0 {
			opts = append(opts, bpmn.WithCondition(whenCondition(f.When)))
		}
		if f.Default {
			opts = append(opts, bpmn.AsDefault())
		}
		b.Flow(f.From, f.To, opts...)
	}
	return b.Build()
}

func whenCondition(when map[string]any) bpmn.Condition {
	conds := make([]bpmn.Condition, 0, len(when))
	for k, v := range when {
		conds = append(conds, bpmn.Equals(k, fmt.Sprint(v)))
	}
	return bpmn.All(conds...)
}

// Message converts the definition to a bpmn.Message.
func (m MessageDef) Message() (bpmn.Message, error) {
	var kind bpmn.MessageKind
	if m.Kind != "" {
		if err := kind.UnmarshalText([]byte(m.Kind)); err != nil {
			return bpmn.Message{}, err
		}
	}
	msg := bpmn.DirectMessage(m.ID)
	if kind == bpmn.MessageBroadcast {
		msg = bpmn.BroadcastMessage(m.ID)
	}
	if len(m.Payload) > 0 {
		msg = msg.WithPayload(m.Payload)
	}
	return msg, nil
}
