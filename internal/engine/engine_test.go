package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ichavezg/nayra/internal/bpmn"
)

var (
	triggered      = bpmn.EventTriggered
	arrives        = bpmn.EventGatewayTokenArrives
	gwActivated    = bpmn.EventGatewayActivated
	consumed       = bpmn.EventGatewayTokenConsumed
	passed         = bpmn.EventGatewayTokenPassed
	activated      = bpmn.EventActivityActivated
	completed      = bpmn.EventActivityCompleted
	closed         = bpmn.EventActivityClosed
	cancelled      = bpmn.EventActivityCancelled
	catchArrives   = bpmn.EventCatchTokenArrives
	messageCatch   = bpmn.EventCatchMessageCatch
	messageConsume = bpmn.EventCatchMessageConsumed
)

// inclusiveProcess splits into two guarded tasks and joins them again.
func inclusiveProcess(t *testing.T) *bpmn.Process {
	return mustBuild(t, bpmn.NewBuilder("inclusive").
		StartEvent("start").
		InclusiveGateway("gatewayA").
		Task("activityA").
		Task("activityB").
		InclusiveGateway("gatewayB").
		EndEvent("end").
		Flow("start", "gatewayA").
		Flow("gatewayA", "activityA", bpmn.WithCondition(bpmn.Equals("A", "1"))).
		Flow("gatewayA", "activityB", bpmn.WithCondition(bpmn.Equals("B", "1"))).
		Flow("activityA", "gatewayB").
		Flow("activityB", "gatewayB").
		Flow("gatewayB", "end"))
}

func TestEngine_InclusiveGatewayAllPaths(t *testing.T) {
	e := newTestEngine(t)
	inst := mustCreate(t, e, inclusiveProcess(t), map[string]any{"A": "1", "B": "1"})

	assert.True(t, e.RunToNextState(Unbounded))
	assert.Equal(t, []bpmn.EventType{
		triggered,
		arrives,
		gwActivated,
		consumed,
		passed,
		activated,
		passed,
		activated,
	}, takeEvents(e))

	require.NoError(t, e.Complete(inst.ID(), onlyToken(t, inst, "activityA").ID))
	assert.False(t, e.RunToNextState(1), "budget runs out before the instance settles")
	assert.True(t, e.RunToNextState(Unbounded))
	assert.Equal(t, []bpmn.EventType{completed, closed, arrives}, takeEvents(e))

	require.NoError(t, e.Complete(inst.ID(), onlyToken(t, inst, "activityB").ID))
	assert.True(t, e.RunToNextState(Unbounded))
	assert.Equal(t, []bpmn.EventType{
		completed,
		closed,
		arrives,
		gwActivated,
		consumed,
		consumed,
		passed,
		triggered,
	}, takeEvents(e))
	assert.Equal(t, bpmn.InstanceCompleted, inst.Status())
}

func TestEngine_InclusiveGatewayOnlyB(t *testing.T) {
	e := newTestEngine(t)
	inst := mustCreate(t, e, inclusiveProcess(t), map[string]any{"A": "0", "B": "1"})

	e.RunToNextState(Unbounded)
	assert.Equal(t, []bpmn.EventType{triggered, arrives, gwActivated, consumed, passed, activated}, takeEvents(e))
	assert.Empty(t, inst.Tokens("activityA"))

	require.NoError(t, e.Complete(inst.ID(), onlyToken(t, inst, "activityB").ID))
	e.RunToNextState(Unbounded)
	assert.Equal(t, []bpmn.EventType{
		completed,
		closed,
		arrives,
		gwActivated,
		consumed,
		passed,
		triggered,
	}, takeEvents(e))
	assert.Equal(t, bpmn.InstanceCompleted, inst.Status())
}

func TestEngine_InclusiveGatewayDefaultFlow(t *testing.T) {
	build := func() *bpmn.Process {
		return mustBuild(t, bpmn.NewBuilder("default").
			StartEvent("start").
			InclusiveGateway("gatewayA", bpmn.WithName("A")).
			Task("activityA").
			Task("activityB").
			InclusiveGateway("gatewayB", bpmn.WithName("B")).
			EndEvent("end").
			Flow("start", "gatewayA").
			Flow("gatewayA", "activityA", bpmn.WithCondition(bpmn.Equals("A", "1"))).
			Flow("gatewayA", "activityB", bpmn.WithCondition(bpmn.Always), bpmn.AsDefault()).
			Flow("activityA", "gatewayB").
			Flow("activityB", "gatewayB").
			Flow("gatewayB", "end"))
	}
	want := []bpmn.EventType{triggered, arrives, gwActivated, consumed, passed, activated}
	e := newTestEngine(t)

	first := mustCreate(t, e, build(), map[string]any{"A": "2"})
	e.RunToNextState(Unbounded)
	assert.Equal(t, want, takeEvents(e))
	assert.Empty(t, first.Tokens("activityA"))
	assert.Len(t, first.Tokens("activityB"), 1, "default flow taken")

	second := mustCreate(t, e, build(), map[string]any{"A": "1"})
	e.RunToNextState(Unbounded)
	assert.Equal(t, want, takeEvents(e))
	assert.Len(t, second.Tokens("activityA"), 1)
	assert.Empty(t, second.Tokens("activityB"), "default flow skipped when a guard matched")
}

func TestEngine_ParallelJoin(t *testing.T) {
	p := mustBuild(t, bpmn.NewBuilder("parallel").
		StartEvent("start").
		ParallelGateway("fork").
		Task("a").
		Task("b").
		Task("c").
		ParallelGateway("join").
		EndEvent("end").
		Flow("start", "fork").
		Flow("fork", "a").
		Flow("fork", "b").
		Flow("fork", "c").
		Flow("a", "join").
		Flow("b", "join").
		Flow("c", "join").
		Flow("join", "end"))
	e := newTestEngine(t)
	inst := mustCreate(t, e, p, nil)
	e.RunToNextState(Unbounded)
	takeEvents(e)

	for _, task := range []string{"c", "a"} {
		require.NoError(t, e.Complete(inst.ID(), onlyToken(t, inst, task).ID))
		e.RunToNextState(Unbounded)
	}
	assert.Equal(t, []bpmn.EventType{completed, closed, arrives, completed, closed, arrives}, takeEvents(e))
	assert.Len(t, inst.Tokens("join"), 2, "join waits for b")

	require.NoError(t, e.Complete(inst.ID(), onlyToken(t, inst, "b").ID))
	e.RunToNextState(Unbounded)
	assert.Equal(t, []bpmn.EventType{
		completed, closed, arrives,
		gwActivated, consumed, consumed, consumed, passed,
		triggered,
	}, takeEvents(e))
	assert.Equal(t, bpmn.InstanceCompleted, inst.Status())
}

func TestEngine_StepBudget(t *testing.T) {
	p := mustBuild(t, bpmn.NewBuilder("chain").
		StartEvent("start").
		ExclusiveGateway("g1").
		ExclusiveGateway("g2").
		ExclusiveGateway("g3").
		EndEvent("end").
		Flow("start", "g1").
		Flow("g1", "g2").
		Flow("g2", "g3").
		Flow("g3", "end"))
	e := newTestEngine(t)
	inst := mustCreate(t, e, p, nil)

	runs := 0
	for !e.RunToNextState(1) {
		runs++
		require.Less(t, runs, 10)
	}
	// start, g1, g2 and g3 each take one step; the last call sees g3 fire
	// and nothing left.
	assert.Equal(t, 3, runs)
	assert.Equal(t, bpmn.InstanceCompleted, inst.Status())
	assert.True(t, e.RunToNextState(0), "nothing enabled means quiescent even with no budget")
}

func TestEngine_CancelActivity(t *testing.T) {
	p := mustBuild(t, bpmn.NewBuilder("cancel").
		StartEvent("start").
		Task("review").
		EndEvent("end").
		Flow("start", "review").
		Flow("review", "end"))
	e := newTestEngine(t)
	inst := mustCreate(t, e, p, nil)
	e.RunToNextState(Unbounded)
	takeEvents(e)

	tok := onlyToken(t, inst, "review")
	require.NoError(t, e.Cancel(inst.ID(), tok.ID))
	assert.False(t, e.RunToNextState(1))

	after := onlyToken(t, inst, "review")
	assert.Equal(t, tok.ID, after.ID)
	assert.Equal(t, bpmn.EventTypeCancel, after.Property(bpmn.PropertyEventType))
	assert.Equal(t, bpmn.StageClosed, after.Stage)

	assert.True(t, e.RunToNextState(Unbounded))
	assert.Equal(t, []bpmn.EventType{cancelled}, takeEvents(e), "a cancelled task never reaches the end event")
	assert.Equal(t, bpmn.InstanceCompleted, inst.Status())
}

func TestEngine_OperationErrors(t *testing.T) {
	e := newTestEngine(t)
	assert.ErrorIs(t, e.Complete("missing", "t"), ErrUnknownInstance)
	assert.ErrorIs(t, e.Cancel("missing", "t"), ErrUnknownInstance)

	p := mustBuild(t, bpmn.NewBuilder("p").StartEvent("start").Task("work").Flow("start", "work"))
	inst := mustCreate(t, e, p, nil)
	err := e.Complete(inst.ID(), "no-such-token")
	assert.True(t, bpmn.IsInvalidTokenOperation(err))
	assert.Empty(t, e.Events(), "a rejected operation logs nothing")
}

func TestEngine_FailureTerminatesOnlyItsInstance(t *testing.T) {
	broken := mustBuild(t, bpmn.NewBuilder("broken").
		StartEvent("start").
		ExclusiveGateway("route").
		Task("never").
		Flow("start", "route").
		Flow("route", "never", bpmn.WithCondition(bpmn.Equals("go", "yes"))))
	healthy := mustBuild(t, bpmn.NewBuilder("healthy").
		StartEvent("start").
		EndEvent("end").
		Flow("start", "end"))

	metrics := &Metrics{}
	sink := &memorySink{}
	e := newTestEngine(t, WithObserver(metrics), WithSink(sink))
	bad := mustCreate(t, e, broken, nil)
	good := mustCreate(t, e, healthy, nil)

	assert.True(t, e.RunToNextState(Unbounded))

	assert.Equal(t, bpmn.InstanceTerminated, bad.Status())
	require.Error(t, bad.Err())
	assert.True(t, bpmn.IsGraphInconsistency(bad.Err()))
	assert.Len(t, bad.Tokens("route"), 1)
	assert.Equal(t, bpmn.InstanceCompleted, good.Status())

	snap := metrics.Snapshot()
	assert.Equal(t, int64(2), snap.InstancesStarted)
	assert.Equal(t, int64(1), snap.InstancesFailed)
	assert.Equal(t, int64(1), snap.InstancesCompleted)
	assert.Equal(t, int64(0), snap.InstancesRunning)

	var terminated *InstanceRecord
	for _, rec := range sink.Records() {
		if rec.ID == bad.ID() && rec.Status == bpmn.InstanceTerminated {
			terminated = &rec
		}
	}
	require.NotNil(t, terminated)
	assert.Contains(t, terminated.Error, "GRAPH_INCONSISTENCY")
}

func TestEngine_EventBatchesAreSequenced(t *testing.T) {
	sink := &memorySink{}
	e := newTestEngine(t, WithSink(sink), WithClock(NewClockAt(100)))
	p := inclusiveProcess(t)
	mustCreate(t, e, p, map[string]any{"A": "1", "B": "1"})
	mustCreate(t, e, p, map[string]any{"A": "1", "B": "0"})

	e.RunToNextState(Unbounded)

	events := e.Events()
	require.NotEmpty(t, events)
	for i, ev := range events {
		assert.Equal(t, int64(101+i), ev.Seq)
	}

	var flattened []bpmn.Event
	for _, batch := range sink.Batches() {
		require.NotEmpty(t, batch)
		for _, ev := range batch[1:] {
			assert.Equal(t, batch[0].Instance, ev.Instance, "a batch belongs to one instance")
		}
		flattened = append(flattened, batch...)
	}
	assert.Equal(t, events, flattened)
}

func TestEngine_ClearEventsKeepsSequence(t *testing.T) {
	e := newTestEngine(t)
	p := mustBuild(t, bpmn.NewBuilder("p").StartEvent("start").Task("work").Flow("start", "work"))
	inst := mustCreate(t, e, p, nil)
	e.RunToNextState(Unbounded)
	last := e.Events()[len(e.Events())-1].Seq

	e.ClearEvents()
	require.NoError(t, e.Complete(inst.ID(), onlyToken(t, inst, "work").ID))

	events := e.Events()
	require.Len(t, events, 1)
	assert.Equal(t, last+1, events[0].Seq)
}

func TestEngine_MessageCorrelation(t *testing.T) {
	seller := mustBuild(t, bpmn.NewBuilder("seller").
		StartEvent("start").
		CatchEvent("wait-order", bpmn.DirectMessage("order")).
		Task("ship").
		Flow("start", "wait-order").
		Flow("wait-order", "ship"))
	buyer := mustBuild(t, bpmn.NewBuilder("buyer").
		StartEvent("start").
		ThrowEvent("place-order", bpmn.DirectMessage("order").WithPayload(map[string]any{"sku": "X1"})).
		EndEvent("end").
		Flow("start", "place-order").
		Flow("place-order", "end"))

	metrics := &Metrics{}
	e := newTestEngine(t, WithObserver(metrics))
	s := mustCreate(t, e, seller, nil)
	e.RunToNextState(Unbounded)
	assert.True(t, s.WaitingAt("wait-order"))
	assert.Equal(t, 1, e.Collaboration().Subscriptions())

	b := mustCreate(t, e, buyer, nil)
	assert.True(t, e.RunToNextState(Unbounded))

	events := e.Events()
	assert.Equal(t, []bpmn.EventType{
		triggered, catchArrives, messageCatch, messageConsume, activated,
	}, eventsOf(events, s.ID()))
	assert.Equal(t, []bpmn.EventType{triggered, triggered, triggered}, eventsOf(events, b.ID()))

	assert.Equal(t, "X1", s.Data().Get("sku"))
	assert.Len(t, s.Tokens("ship"), 1)
	assert.Equal(t, bpmn.InstanceCompleted, b.Status())
	assert.Zero(t, e.Collaboration().Subscriptions(), "no instance waits any more")
	assert.Equal(t, int64(1), metrics.Snapshot().MessageDeliveries)
}

func TestEngine_UnsubscribeKeepsOtherWaiters(t *testing.T) {
	p := mustBuild(t, bpmn.NewBuilder("waiter").
		StartEvent("start").
		CatchEvent("wait", bpmn.DirectMessage("go")).
		EndEvent("end").
		Flow("start", "wait").
		Flow("wait", "end"))
	e := newTestEngine(t)
	first := mustCreate(t, e, p, nil)
	second := mustCreate(t, e, p, nil)
	e.RunToNextState(Unbounded)
	require.Equal(t, 1, e.Collaboration().Subscriptions(), "one listener per catch event")

	// deliver to the first waiter only
	l := e.listenerFor(bpmn.Subscription{Process: "waiter", Node: mustNode(t, p, "wait"), Key: "go"})
	require.NoError(t, l.Execute(bpmn.DirectMessage("go"), first))
	e.RunToNextState(Unbounded)

	assert.Equal(t, bpmn.InstanceCompleted, first.Status())
	assert.True(t, second.WaitingAt("wait"))
	assert.Equal(t, 1, e.Collaboration().Subscriptions(), "second still waits")

	n, err := e.Send(bpmn.DirectMessage("go"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	e.RunToNextState(Unbounded)
	assert.Equal(t, bpmn.InstanceCompleted, second.Status())
	assert.Zero(t, e.Collaboration().Subscriptions())
}

func TestEngine_BroadcastReachesEveryWaiter(t *testing.T) {
	listener := mustBuild(t, bpmn.NewBuilder("listener").
		StartEvent("start").
		CatchEvent("alarm", bpmn.BroadcastMessage("fire")).
		EndEvent("end").
		Flow("start", "alarm").
		Flow("alarm", "end"))
	direct := mustBuild(t, bpmn.NewBuilder("direct").
		StartEvent("start").
		CatchEvent("wait", bpmn.DirectMessage("fire")).
		EndEvent("end").
		Flow("start", "wait").
		Flow("wait", "end"))

	e := newTestEngine(t)
	l1 := mustCreate(t, e, listener, nil)
	l2 := mustCreate(t, e, listener, nil)
	d := mustCreate(t, e, direct, nil)
	e.RunToNextState(Unbounded)

	n, err := e.Send(bpmn.BroadcastMessage("fire"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	e.RunToNextState(Unbounded)

	assert.Equal(t, bpmn.InstanceCompleted, l1.Status())
	assert.Equal(t, bpmn.InstanceCompleted, l2.Status())
	assert.True(t, d.WaitingAt("wait"), "direct catch ignores broadcasts")
}

func TestEngine_DelayedMessage(t *testing.T) {
	p := mustBuild(t, bpmn.NewBuilder("timer").
		StartEvent("start").
		CatchEvent("wake", bpmn.DirectMessage("wake-up")).
		EndEvent("end").
		Flow("start", "wake").
		Flow("wake", "end"))
	e := newTestEngine(t)
	inst := mustCreate(t, e, p, nil)
	e.RunToNextState(Unbounded)

	_, err := e.Delay(bpmn.DirectMessage("wake-up"), 10*time.Millisecond)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return !inst.WaitingAt("wake")
	}, 2*time.Second, 5*time.Millisecond)
	e.RunToNextState(Unbounded)
	assert.Equal(t, bpmn.InstanceCompleted, inst.Status())
}

func TestEngine_RunCompletesInstancesConcurrently(t *testing.T) {
	p := mustBuild(t, bpmn.NewBuilder("fanout").
		StartEvent("start").
		ParallelGateway("fork").
		ExclusiveGateway("x").
		ExclusiveGateway("y").
		ParallelGateway("join").
		EndEvent("end").
		Flow("start", "fork").
		Flow("fork", "x").
		Flow("fork", "y").
		Flow("x", "join").
		Flow("y", "join").
		Flow("join", "end"))

	metrics := &Metrics{}
	e := newTestEngine(t, WithObserver(metrics), WithMaxSteps(2))
	const instances = 25
	for range instances {
		mustCreate(t, e, p, nil)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx, 4) }()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()
	require.NoError(t, e.WaitIdle(waitCtx))

	for _, inst := range e.Instances() {
		assert.Equal(t, bpmn.InstanceCompleted, inst.Status(), inst.ID())
	}
	assert.Equal(t, int64(instances), metrics.Snapshot().InstancesCompleted)

	events := e.Events()
	for i := 1; i < len(events); i++ {
		assert.Less(t, events[i-1].Seq, events[i].Seq)
	}

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestEngine_RunPicksUpCompletions(t *testing.T) {
	p := mustBuild(t, bpmn.NewBuilder("approval").
		StartEvent("start").
		Task("approve").
		EndEvent("end").
		Flow("start", "approve").
		Flow("approve", "end"))
	e := newTestEngine(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx, 2) }()

	inst := mustCreate(t, e, p, nil)
	require.Eventually(t, func() bool {
		return len(inst.Tokens("approve")) == 1 && inst.Tokens("approve")[0].Stage == bpmn.StageActive
	}, 2*time.Second, 2*time.Millisecond)

	require.NoError(t, e.Complete(inst.ID(), onlyToken(t, inst, "approve").ID))
	require.Eventually(t, func() bool {
		return inst.Status() == bpmn.InstanceCompleted
	}, 2*time.Second, 2*time.Millisecond)

	e.Stop()
	assert.NoError(t, <-done)
}

func TestEngine_ConcurrentCompletions(t *testing.T) {
	p := mustBuild(t, bpmn.NewBuilder("many").
		StartEvent("start").
		Task("work").
		EndEvent("end").
		Flow("start", "work").
		Flow("work", "end"))
	e := newTestEngine(t)
	const n = 30
	insts := make([]*bpmn.Instance, n)
	for i := range n {
		insts[i] = mustCreate(t, e, p, nil)
	}
	e.RunToNextState(Unbounded)

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for _, inst := range insts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok := inst.Tokens("work")
			if len(tok) != 1 {
				errs <- fmt.Errorf("%s: %d tokens", inst.ID(), len(tok))
				return
			}
			errs <- e.Complete(inst.ID(), tok[0].ID)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	assert.True(t, e.RunToNextState(Unbounded))
	for _, inst := range insts {
		assert.Equal(t, bpmn.InstanceCompleted, inst.Status())
	}
}

func mustNode(t *testing.T, p *bpmn.Process, id string) *bpmn.Node {
	t.Helper()
	n, ok := p.Node(id)
	require.True(t, ok)
	return n
}
