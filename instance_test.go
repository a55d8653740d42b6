package statecraft

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"
)

type counterContext struct {
	Count int      `json:"count"`
	Log   []string `json:"log"`
}

// buildCounter builds the two-state machine used by most instance tests:
// idle --START--> active (increments Count), active --STOP--> idle.
func buildCounter(t *testing.T) *Machine[counterContext] {
	t.Helper()
	machine, err := NewMachine[counterContext]("counter").
		WithInitial("idle").
		WithAssign("increment", func(c *counterContext, e Event) { c.Count++ }).
		State("idle").
		On("START").Target("active").Assign("increment").
		Done().
		State("active").
		On("STOP").Target("idle").
		Done().
		Build()
	if err != nil {
		t.Fatalf("failed to build machine: %v", err)
	}
	return machine
}

func TestInstance_SendSettledWhenIdle(t *testing.T) {
	machine := buildCounter(t)
	inst, err := machine.Start()
	if err != nil {
		t.Fatalf("failed to start: %v", err)
	}

	p := inst.Send("START", nil)
	select {
	case <-p.Done():
	default:
		t.Fatal("expected the future to settle before Send returns on an idle instance")
	}

	result, err := p.Wait()
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if result.State != "active" {
		t.Errorf("expected active, got %s", result.State)
	}
	if result.Context.Count != 1 {
		t.Errorf("expected count 1, got %d", result.Context.Count)
	}
	// Start snapshot plus the committed transition.
	if inst.HistorySize() != 2 {
		t.Errorf("expected history size 2, got %d", inst.HistorySize())
	}
}

func TestInstance_EventPayload(t *testing.T) {
	type ctx struct{ Who string }
	machine, err := NewMachine[ctx]("test").
		WithInitial("idle").
		WithAssign("greet", func(c *ctx, e Event) {
			if who, ok := e.Payload["who"].(string); ok {
				c.Who = who
			}
		}).
		State("idle").
		On("HELLO").Target("idle").Assign("greet").
		Done().
		Build()
	if err != nil {
		t.Fatalf("failed to build machine: %v", err)
	}

	inst, _ := machine.Start()
	inst.Send("HELLO", map[string]any{"who": "world"})
	if inst.Context().Who != "world" {
		t.Errorf("expected payload to reach the action, got %q", inst.Context().Who)
	}
}

// TestInstance_QueueSerializesConcurrentSends verifies concurrent senders
// never overlap: every increment lands, which an unserialized runtime would
// lose to read-modify-write races.
func TestInstance_QueueSerializesConcurrentSends(t *testing.T) {
	machine, err := NewMachine[counterContext]("test").
		WithInitial("idle").
		WithAssign("increment", func(c *counterContext, e Event) { c.Count++ }).
		State("idle").
		On("BUMP").Assign("increment").
		Done().
		Build()
	if err != nil {
		t.Fatalf("failed to build machine: %v", err)
	}

	inst, _ := machine.Start()

	const senders = 20
	const perSender = 25
	var wg sync.WaitGroup
	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perSender; j++ {
				inst.Send("BUMP", nil).Wait()
			}
		}()
	}
	wg.Wait()

	if got := inst.Context().Count; got != senders*perSender {
		t.Errorf("expected %d increments, got %d", senders*perSender, got)
	}
}

// TestInstance_BlockingBatchOrdering verifies strict sequential execution:
// a slow action delays everything declared after it.
func TestInstance_BlockingBatchOrdering(t *testing.T) {
	machine, err := NewMachine[counterContext]("test").
		WithInitial("idle").
		State("idle").
		On("RUN").
		DoFunc(func(c *counterContext, e Event) (any, error) {
			c.Log = append(c.Log, "sync1")
			return "sync1", nil
		}).
		DoFunc(func(c *counterContext, e Event) (any, error) {
			time.Sleep(10 * time.Millisecond)
			c.Log = append(c.Log, "async1")
			return "async1", nil
		}).
		DoFunc(func(c *counterContext, e Event) (any, error) {
			c.Log = append(c.Log, "sync2")
			return "sync2", nil
		}).
		Done().
		Build()
	if err != nil {
		t.Fatalf("failed to build machine: %v", err)
	}

	inst, _ := machine.Start()
	result, err := inst.Send("RUN", nil).Wait()
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}

	want := []string{"sync1", "async1", "sync2"}
	for i, name := range want {
		if result.Context.Log[i] != name {
			t.Fatalf("expected order %v, got %v", want, result.Context.Log)
		}
		if result.Results[i].Value != name {
			t.Errorf("expected result %d to be %q, got %v", i, name, result.Results[i].Value)
		}
	}
}

func TestInstance_ClearQueue(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})

	machine, err := NewMachine[counterContext]("test").
		WithInitial("idle").
		State("idle").
		On("SLOW").DoFunc(func(c *counterContext, e Event) (any, error) {
			close(started)
			<-release
			return nil, nil
		}).
		On("NEXT").Target("idle").
		Done().
		Build()
	if err != nil {
		t.Fatalf("failed to build machine: %v", err)
	}

	inst, _ := machine.Start()

	slowCh := make(chan *Pending[counterContext], 1)
	go func() { slowCh <- inst.Send("SLOW", nil) }()
	<-started

	// SLOW is in flight; NEXT joins the queue.
	next := inst.Send("NEXT", nil)
	if cleared := inst.ClearQueue(); cleared != 1 {
		t.Errorf("expected 1 cleared event, got %d", cleared)
	}

	_, err = next.Wait()
	if !errors.Is(err, ErrQueueCleared) {
		t.Errorf("expected ErrQueueCleared, got %v", err)
	}
	var qerr *QueueClearedError
	if !errors.As(err, &qerr) || qerr.Event != "NEXT" {
		t.Errorf("expected QueueClearedError carrying NEXT, got %v", err)
	}

	// The in-flight transition is unaffected.
	close(release)
	select {
	case slow := <-slowCh:
		if _, err := slow.Wait(); err != nil {
			t.Errorf("in-flight transition must settle normally, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the SLOW send to return")
	}
}

func TestInstance_SendPriority(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})

	machine, err := NewMachine[counterContext]("test").
		WithInitial("idle").
		State("idle").
		On("SLOW").DoFunc(func(c *counterContext, e Event) (any, error) {
			close(started)
			<-release
			return nil, nil
		}).
		On("NEXT").Target("idle").
		On("URGENT").Target("alarm").
		Done().
		State("alarm").Done().
		Build()
	if err != nil {
		t.Fatalf("failed to build machine: %v", err)
	}

	inst, _ := machine.Start()
	go inst.Send("SLOW", nil)
	<-started

	queued := inst.Send("NEXT", nil)
	urgent := inst.SendPriority("URGENT", nil)
	close(release)

	if _, err := queued.Wait(); !errors.Is(err, ErrQueueCleared) {
		t.Errorf("expected queued event to be cleared, got %v", err)
	}
	result, err := urgent.Wait()
	if err != nil {
		t.Fatalf("priority send failed: %v", err)
	}
	if result.State != "alarm" {
		t.Errorf("expected alarm, got %s", result.State)
	}
}

func TestInstance_ActionErrorHaltsBatch(t *testing.T) {
	boom := errors.New("boom")
	machine, err := NewMachine[counterContext]("test").
		WithInitial("idle").
		State("idle").
		On("GO").Target("active").
		DoFunc(func(c *counterContext, e Event) (any, error) {
			c.Count++
			return "first", nil
		}).
		DoFunc(func(c *counterContext, e Event) (any, error) {
			return nil, boom
		}).
		DoFunc(func(c *counterContext, e Event) (any, error) {
			c.Count += 100 // must never run
			return nil, nil
		}).
		Done().
		State("active").Done().
		Build()
	if err != nil {
		t.Fatalf("failed to build machine: %v", err)
	}

	inst, _ := machine.Start()
	result, err := inst.Send("GO", nil).Wait()
	if err == nil {
		t.Fatal("expected the batch failure to reach the future")
	}

	var aerr *ActionError
	if !errors.As(err, &aerr) {
		t.Fatalf("expected *ActionError, got %v", err)
	}
	if aerr.Index != 1 {
		t.Errorf("expected failing index 1, got %d", aerr.Index)
	}
	if !errors.Is(err, boom) {
		t.Errorf("expected the cause to unwrap, got %v", err)
	}

	// The active path stays uncommitted; completed mutations stand.
	if result.State != "idle" {
		t.Errorf("expected uncommitted path idle, got %s", result.State)
	}
	if result.Context.Count != 1 {
		t.Errorf("expected completed mutations to stand, got %d", result.Context.Count)
	}
	if len(result.Results) != 1 || result.Results[0].Value != "first" {
		t.Errorf("expected the partial result list, got %v", result.Results)
	}
	// No snapshot for a failed transition.
	if inst.HistorySize() != 1 {
		t.Errorf("expected history size 1, got %d", inst.HistorySize())
	}
}

func TestInstance_ActionPanicBecomesError(t *testing.T) {
	machine, err := NewMachine[counterContext]("test").
		WithInitial("idle").
		State("idle").
		On("GO").Target("active").DoFunc(func(c *counterContext, e Event) (any, error) {
			panic("kaboom")
		}).
		Done().
		State("active").Done().
		Build()
	if err != nil {
		t.Fatalf("failed to build machine: %v", err)
	}

	inst, _ := machine.Start()
	_, err = inst.Send("GO", nil).Wait()
	if err == nil {
		t.Fatal("expected a panicking action to fail its batch")
	}
	if inst.State().Path != "idle" {
		t.Errorf("expected idle, got %s", inst.State().Path)
	}
}

func TestInstance_FireAndForget(t *testing.T) {
	fired := make(chan string, 2)
	handled := make(chan error, 1)

	machine, err := NewMachine[counterContext]("test").
		WithInitial("idle").
		WithFireErrorHandler(func(err error) { handled <- err }).
		WithAction("notify", func(c *counterContext, e Event) (any, error) {
			fired <- "notify"
			return nil, nil
		}).
		WithAction("failing", func(c *counterContext, e Event) (any, error) {
			return nil, fmt.Errorf("delivery failed")
		}).
		State("idle").
		On("GO").Target("active").Fire("failing").Fire("notify").
		Done().
		State("active").Done().
		Build()
	if err != nil {
		t.Fatalf("failed to build machine: %v", err)
	}

	inst, _ := machine.Start()
	result, err := inst.Send("GO", nil).Wait()
	if err != nil {
		t.Fatalf("fire failures must never reach the future: %v", err)
	}
	if result.State != "active" {
		t.Errorf("expected active, got %s", result.State)
	}

	// The failing action is isolated: the one after it still runs and the
	// handler observes the failure.
	select {
	case <-handled:
	case <-time.After(time.Second):
		t.Fatal("expected the fire error handler to be called")
	}
	select {
	case name := <-fired:
		if name != "notify" {
			t.Errorf("expected notify to run, got %s", name)
		}
	case <-time.After(time.Second):
		t.Fatal("expected the second fire action to run")
	}
}

// TestInstance_FireSeesContextSnapshot verifies fire-and-forget actions get
// a deep-cloned context; their mutations never reach the instance.
func TestInstance_FireSeesContextSnapshot(t *testing.T) {
	done := make(chan struct{})
	machine, err := NewMachine[counterContext]("test").
		WithInitial("idle").
		WithAction("mutate", func(c *counterContext, e Event) (any, error) {
			c.Count = 999
			close(done)
			return nil, nil
		}).
		State("idle").
		On("GO").Target("active").Fire("mutate").
		Done().
		State("active").Done().
		Build()
	if err != nil {
		t.Fatalf("failed to build machine: %v", err)
	}

	inst, _ := machine.Start()
	inst.Send("GO", nil)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("fire action did not run")
	}
	if inst.Context().Count != 0 {
		t.Errorf("fire mutation leaked into the instance: %d", inst.Context().Count)
	}
}

func TestInstance_Subscribe(t *testing.T) {
	machine := buildCounter(t)
	inst, _ := machine.Start()

	var notes []Notification
	unsubscribe := inst.Subscribe(func(n Notification) {
		notes = append(notes, n)
	})

	inst.Send("START", nil)
	inst.Send("UNKNOWN", nil) // dropped: no notification
	inst.Send("STOP", nil)

	if len(notes) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(notes))
	}
	if notes[0].From != "idle" || notes[0].To != "active" || notes[0].Event.Type != "START" {
		t.Errorf("unexpected first notification: %+v", notes[0])
	}
	if notes[1].From != "active" || notes[1].To != "idle" {
		t.Errorf("unexpected second notification: %+v", notes[1])
	}

	unsubscribe()
	inst.Send("START", nil)
	if len(notes) != 2 {
		t.Errorf("expected no notifications after unsubscribe, got %d", len(notes))
	}
}

// TestInstance_SubscriberPanicIsolated verifies one panicking subscriber
// does not starve the others or fail the transition.
func TestInstance_SubscriberPanicIsolated(t *testing.T) {
	machine := buildCounter(t)
	inst, _ := machine.Start()

	inst.Subscribe(func(n Notification) { panic("bad subscriber") })
	called := false
	inst.Subscribe(func(n Notification) { called = true })

	result, err := inst.Send("START", nil).Wait()
	if err != nil {
		t.Fatalf("transition must survive a panicking subscriber: %v", err)
	}
	if result.State != "active" {
		t.Errorf("expected active, got %s", result.State)
	}
	if !called {
		t.Error("expected the second subscriber to be notified")
	}
}

func TestInstance_NoNotificationOnFailedTransition(t *testing.T) {
	machine, err := NewMachine[counterContext]("test").
		WithInitial("idle").
		State("idle").
		On("GO").Target("active").DoFunc(func(c *counterContext, e Event) (any, error) {
			return nil, errors.New("boom")
		}).
		Done().
		State("active").Done().
		Build()
	if err != nil {
		t.Fatalf("failed to build machine: %v", err)
	}

	inst, _ := machine.Start()
	notified := false
	inst.Subscribe(func(n Notification) { notified = true })
	inst.Send("GO", nil)
	if notified {
		t.Error("failed transitions must not notify subscribers")
	}
}

func TestInstance_Done(t *testing.T) {
	machine, err := NewMachine[struct{}]("test").
		WithInitial("running").
		State("running").
		On("FINISH").Target("done").
		Done().
		State("done").Final().Done().
		Build()
	if err != nil {
		t.Fatalf("failed to build machine: %v", err)
	}

	inst, _ := machine.Start()
	if inst.Done() {
		t.Error("expected Done() false before reaching the final state")
	}
	inst.Send("FINISH", nil)
	if !inst.Done() {
		t.Error("expected Done() true in the final state")
	}
}

// TestInstance_AccessorsDuringProcessing hammers the read accessors while
// batches are mutating the context. Batches run against a working copy and
// commit it whole, so every read must see a fully committed value and the
// test is clean under the race detector.
func TestInstance_AccessorsDuringProcessing(t *testing.T) {
	machine, err := NewMachine[counterContext]("test").
		WithInitial("idle").
		WithAssign("bump", func(c *counterContext, e Event) {
			c.Count++
			c.Log = append(c.Log, "bump")
		}).
		State("idle").
		On("BUMP").Assign("bump").
		Done().
		Build()
	if err != nil {
		t.Fatalf("failed to build machine: %v", err)
	}

	inst, _ := machine.Start()

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			s := inst.State()
			if s.Context.Count != len(s.Context.Log) {
				t.Errorf("read a half-committed context: count %d, log %d",
					s.Context.Count, len(s.Context.Log))
				return
			}
			_ = inst.Context()
			_ = inst.Matches("idle")
		}
	}()

	for i := 0; i < 200; i++ {
		inst.Send("BUMP", nil).Wait()
	}
	close(stop)
	wg.Wait()

	if got := inst.Context().Count; got != 200 {
		t.Errorf("expected 200 increments, got %d", got)
	}
}

// TestInstance_ResultContextIsDetached verifies a context handed out with a
// result never changes retroactively when later batches run.
func TestInstance_ResultContextIsDetached(t *testing.T) {
	type auditContext struct {
		Seen map[string]int `json:"seen"`
	}
	machine, err := NewMachine[auditContext]("test").
		WithInitial("idle").
		WithAssign("record", func(c *auditContext, e Event) { c.Seen[string(e.Type)]++ }).
		State("idle").
		On("PING").Assign("record").
		Done().
		Build()
	if err != nil {
		t.Fatalf("failed to build machine: %v", err)
	}

	inst, err := machine.StartWith(auditContext{Seen: map[string]int{}})
	if err != nil {
		t.Fatalf("failed to start: %v", err)
	}

	result, err := inst.Send("PING", nil).Wait()
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	inst.Send("PING", nil).Wait()
	inst.Send("PING", nil).Wait()

	if got := result.Context.Seen["PING"]; got != 1 {
		t.Errorf("expected the returned context to stay at 1, got %d", got)
	}
	if got := inst.Context().Seen["PING"]; got != 3 {
		t.Errorf("expected the live context at 3, got %d", got)
	}
}

// TestInstance_SendPriorityOrdersAheadOfLaterSends verifies the priority
// event is enqueued in the same step that clears the queue, so it is always
// processed before anything sent afterwards.
func TestInstance_SendPriorityOrdersAheadOfLaterSends(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})

	machine, err := NewMachine[counterContext]("test").
		WithInitial("idle").
		WithAssign("mark", func(c *counterContext, e Event) {
			c.Log = append(c.Log, string(e.Type))
		}).
		State("idle").
		On("SLOW").DoFunc(func(c *counterContext, e Event) (any, error) {
			close(started)
			<-release
			return nil, nil
		}).
		On("URGENT").Assign("mark").
		On("AFTER").Assign("mark").
		Done().
		Build()
	if err != nil {
		t.Fatalf("failed to build machine: %v", err)
	}

	inst, _ := machine.Start()
	go inst.Send("SLOW", nil)
	<-started

	dropped := inst.Send("AFTER", nil)
	urgent := inst.SendPriority("URGENT", nil)
	later := inst.Send("AFTER", nil)
	close(release)

	if _, err := dropped.Wait(); !errors.Is(err, ErrQueueCleared) {
		t.Errorf("expected the earlier queued event to be cleared, got %v", err)
	}
	if _, err := urgent.Wait(); err != nil {
		t.Fatalf("priority send failed: %v", err)
	}
	if _, err := later.Wait(); err != nil {
		t.Fatalf("later send failed: %v", err)
	}

	want := []string{"URGENT", "AFTER"}
	if got := inst.Context().Log; !reflect.DeepEqual(got, want) {
		t.Errorf("expected processing order %v, got %v", want, got)
	}
}
