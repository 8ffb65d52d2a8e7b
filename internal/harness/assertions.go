package harness

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/ichavezg/nayra/internal/engine"
	"github.com/ichavezg/nayra/internal/store"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)
	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %s %s\n", ev.Seq, ev.Instance, ev.Type, ev.Node)
		}
	}
	return buf.String()
}

// AssertionContext is the final state assertions are evaluated against.
type AssertionContext struct {
	Ctx     context.Context
	Engine  *engine.Engine
	Store   *store.Store
	Aliases map[string]string
}

// EvaluateAssertions checks every assertion and returns the failure
// messages. An empty slice means all passed.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var failures []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertInstanceStatus:
			err = assertInstanceStatus(a, actx)
		case AssertEventCount:
			err = assertEventCount(result.Trace, a)
		case AssertEventOrder:
			err = assertEventOrder(result.Trace, a)
		case AssertTokensAt:
			err = assertTokensAt(a, actx)
		case AssertData:
			err = assertData(a, actx)
		case AssertSubscriptions:
			err = assertSubscriptions(a, actx)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			failures = append(failures, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return failures
}

// assertInstanceStatus checks the status in the engine and in the store,
// so a sink that missed an update is caught too.
func assertInstanceStatus(a Assertion, actx *AssertionContext) error {
	id := actx.Aliases[a.Instance]
	inst, ok := actx.Engine.Instance(id)
	if !ok {
		return fmt.Errorf("instance %q not found", a.Instance)
	}
	if got := string(inst.Status()); got != a.Status {
		return &AssertionError{
			Type:     AssertInstanceStatus,
			Expected: fmt.Sprintf("%s is %s", a.Instance, a.Status),
			Actual:   got,
		}
	}
	if actx.Store == nil {
		return nil
	}
	rec, err := actx.Store.ReadInstance(actx.Ctx, id)
	if err != nil {
		return fmt.Errorf("read stored instance %q: %w", a.Instance, err)
	}
	if got := string(rec.Status); got != a.Status {
		return &AssertionError{
			Type:     AssertInstanceStatus,
			Expected: fmt.Sprintf("stored %s is %s", a.Instance, a.Status),
			Actual:   got,
		}
	}
	return nil
}

func filterTrace(trace []TraceEvent, alias string) []TraceEvent {
	if alias == "" {
		return trace
	}
	var out []TraceEvent
	for _, ev := range trace {
		if ev.Instance == alias {
			out = append(out, ev)
		}
	}
	return out
}

func assertEventCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, ev := range filterTrace(trace, a.Instance) {
		if ev.Type == a.Event {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertEventCount,
			Expected: fmt.Sprintf("%d %s events", a.Count, a.Event),
			Actual:   fmt.Sprintf("%d", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertEventOrder checks that the events occur as a subsequence of the
// trace. Other events may appear in between.
func assertEventOrder(trace []TraceEvent, a Assertion) error {
	events := filterTrace(trace, a.Instance)
	next := 0
	for _, ev := range events {
		if next < len(a.Events) && ev.Type == a.Events[next] {
			next++
		}
	}
	if next < len(a.Events) {
		return &AssertionError{
			Type:     AssertEventOrder,
			Expected: fmt.Sprintf("events in order: %v", a.Events),
			Actual:   fmt.Sprintf("%s not found after %v", a.Events[next], a.Events[:next]),
			Trace:    trace,
		}
	}
	return nil
}

func assertTokensAt(a Assertion, actx *AssertionContext) error {
	inst, ok := actx.Engine.Instance(actx.Aliases[a.Instance])
	if !ok {
		return fmt.Errorf("instance %q not found", a.Instance)
	}
	if got := len(inst.Tokens(a.Node)); got != a.Count {
		return &AssertionError{
			Type:     AssertTokensAt,
			Expected: fmt.Sprintf("%d tokens at %s/%s", a.Count, a.Instance, a.Node),
			Actual:   fmt.Sprintf("%d", got),
		}
	}
	return nil
}

// assertData checks that each expected key holds the expected value. Values
// are compared by their formatted form, so YAML ints match stored strings.
func assertData(a Assertion, actx *AssertionContext) error {
	inst, ok := actx.Engine.Instance(actx.Aliases[a.Instance])
	if !ok {
		return fmt.Errorf("instance %q not found", a.Instance)
	}
	keys := make([]string, 0, len(a.Expect))
	for k := range a.Expect {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		want := fmt.Sprint(a.Expect[k])
		got := inst.Data().Get(k)
		if got == nil || fmt.Sprint(got) != want {
			return &AssertionError{
				Type:     AssertData,
				Expected: fmt.Sprintf("%s.%s = %s", a.Instance, k, want),
				Actual:   fmt.Sprintf("%v", got),
			}
		}
	}
	return nil
}

func assertSubscriptions(a Assertion, actx *AssertionContext) error {
	if got := actx.Engine.Collaboration().Subscriptions(); got != a.Count {
		return &AssertionError{
			Type:     AssertSubscriptions,
			Expected: fmt.Sprintf("%d subscriptions", a.Count),
			Actual:   fmt.Sprintf("%d", got),
		}
	}
	return nil
}
