package engine

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ichavezg/nayra/internal/bpmn"
)

const chainLength = 8

// chainProcess forks into a task and a chain of exclusive gateways, so a
// worker keeps stepping the chain while the task is completed from outside.
func chainProcess(t *testing.T) *bpmn.Process {
	b := bpmn.NewBuilder("chain").
		StartEvent("start").
		ParallelGateway("fork").
		Task("a").
		EndEvent("end-a").
		EndEvent("end-chain").
		Flow("start", "fork").
		Flow("fork", "a").
		Flow("a", "end-a")
	prev := "fork"
	for i := range chainLength {
		id := fmt.Sprintf("g%d", i)
		b.ExclusiveGateway(id).Flow(prev, id)
		prev = id
	}
	b.Flow(prev, "end-chain")
	return mustBuild(t, b)
}

// completeWhenActive completes the task token of inst once it is active.
func completeWhenActive(e *Engine, inst *bpmn.Instance, node string) error {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		for _, tok := range inst.Tokens(node) {
			if tok.Stage == bpmn.StageActive {
				return e.Complete(inst.ID(), tok.ID)
			}
		}
		time.Sleep(100 * time.Microsecond)
	}
	return fmt.Errorf("%s: task %s never became active", inst.ID(), node)
}

func firstIndex(events []bpmn.Event, match func(bpmn.Event) bool) int {
	return slices.IndexFunc(events, match)
}

func TestEngine_RunKeepsPerInstanceLogOrder(t *testing.T) {
	p := chainProcess(t)

	for round := range 10 {
		e := newTestEngine(t, WithMaxSteps(2))
		const instances = 8

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- e.Run(ctx, 4) }()

		var wg sync.WaitGroup
		errs := make(chan error, instances)
		for range instances {
			inst := mustCreate(t, e, p, nil)
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs <- completeWhenActive(e, inst, "a")
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
		require.NoError(t, e.WaitIdle(waitCtx))
		waitCancel()
		cancel()
		<-done

		all := e.Events()
		for _, inst := range e.Instances() {
			require.Equal(t, bpmn.InstanceCompleted, inst.Status(), "round %d %s", round, inst.ID())

			var events []bpmn.Event
			for _, ev := range all {
				if ev.Instance == inst.ID() {
					events = append(events, ev)
				}
			}

			for i := 1; i < chainLength; i++ {
				prev, next := fmt.Sprintf("g%d", i-1), fmt.Sprintf("g%d", i)
				before := firstIndex(events, func(ev bpmn.Event) bool { return ev.Node == prev })
				after := firstIndex(events, func(ev bpmn.Event) bool { return ev.Node == next })
				require.NotEqual(t, -1, before)
				assert.Less(t, before, after, "round %d %s: %s logged after %s", round, inst.ID(), prev, next)
			}

			completedAt := firstIndex(events, func(ev bpmn.Event) bool { return ev.Node == "a" && ev.Type == completed })
			closedAt := firstIndex(events, func(ev bpmn.Event) bool { return ev.Node == "a" && ev.Type == closed })
			require.NotEqual(t, -1, completedAt)
			assert.Less(t, completedAt, closedAt, "round %d %s: task closed before it was completed", round, inst.ID())
		}
	}
}

func TestEngine_RunNeverDrivesOneInstanceTwice(t *testing.T) {
	b := bpmn.NewBuilder("loopless").StartEvent("start").EndEvent("end")
	prev := "start"
	for i := range chainLength {
		id := fmt.Sprintf("g%d", i)
		b.ExclusiveGateway(id).Flow(prev, id)
		prev = id
	}
	p := mustBuild(t, b.Flow(prev, "end"))

	guard := &exclusiveObserver{active: make(map[string]bool)}
	e := newTestEngine(t, WithMaxSteps(1), WithObserver(guard))
	for range 6 {
		mustCreate(t, e, p, nil)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx, 6) }()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()
	require.NoError(t, e.WaitIdle(waitCtx))
	cancel()
	<-done

	for _, inst := range e.Instances() {
		assert.Equal(t, bpmn.InstanceCompleted, inst.Status(), inst.ID())
	}
	assert.Zero(t, guard.overlaps(), "two workers stepped one instance")
}

// exclusiveObserver counts transitions observed while another transition of
// the same instance was still being observed.
type exclusiveObserver struct {
	NoopObserver

	mu      sync.Mutex
	active  map[string]bool
	overlap int
}

func (o *exclusiveObserver) OnTransition(_ context.Context, inst *bpmn.Instance, _ bpmn.Outcome) {
	o.mu.Lock()
	if o.active[inst.ID()] {
		o.overlap++
	}
	o.active[inst.ID()] = true
	o.mu.Unlock()

	time.Sleep(50 * time.Microsecond)

	o.mu.Lock()
	o.active[inst.ID()] = false
	o.mu.Unlock()
}

func (o *exclusiveObserver) overlaps() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.overlap
}

func TestEngine_WaitersStaySubscribedUnderConcurrentSends(t *testing.T) {
	p := mustBuild(t, bpmn.NewBuilder("waiter").
		StartEvent("start").
		CatchEvent("wait", bpmn.DirectMessage("go")).
		EndEvent("end").
		Flow("start", "wait").
		Flow("wait", "end"))
	e := newTestEngine(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx, 4) }()

	var wg sync.WaitGroup
	for range 40 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := e.CreateExecutionInstance(p, nil)
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, _ = e.Send(bpmn.DirectMessage("go"))
		}()
	}
	wg.Wait()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()
	require.NoError(t, e.WaitIdle(waitCtx))

	l := e.listenerFor(bpmn.Subscription{Process: "waiter", Node: mustNode(t, p, "wait"), Key: "go"})
	for _, inst := range e.Instances() {
		if inst.WaitingAt("wait") {
			require.True(t, e.Collaboration().Subscribed(l, "go"), "%s waits without a subscription", inst.ID())
		}
	}

	_, err := e.Send(bpmn.DirectMessage("go"))
	require.NoError(t, err)
	require.NoError(t, e.WaitIdle(waitCtx))
	for _, inst := range e.Instances() {
		assert.Equal(t, bpmn.InstanceCompleted, inst.Status(), inst.ID())
	}
	assert.Zero(t, e.Collaboration().Subscriptions())

	cancel()
	<-done
}
