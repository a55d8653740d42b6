package statecraft

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/avigley/statecraft/internal/ir"
)

// Instance is one live run of a machine. It owns exactly one active path,
// one context value, one history ring and one FIFO event queue. At most one
// transition pipeline is in flight at any instant; Send calls arriving while
// an event is being processed are queued and settled in order.
//
// Instances are independent: nothing is shared between two instances of the
// same machine, so they may run fully in parallel.
type Instance[C any] struct {
	id      string
	machine *ir.MachineConfig[C]
	logger  *zap.Logger
	fireErr func(error)

	mu         sync.Mutex
	processing bool
	queue      []queuedEvent[C]
	path       string
	context    C
	history    *historyBuffer[C]

	subMu   sync.Mutex
	subs    map[int]func(Notification)
	nextSub int
}

type queuedEvent[C any] struct {
	event   Event
	pending *Pending[C]
}

// Pending is the future of a sent event. It settles when the event's turn
// in the queue completes, or rejects with a QueueClearedError when the
// event is discarded before processing starts.
type Pending[C any] struct {
	done   chan struct{}
	result TransitionResult[C]
	err    error
}

func newPending[C any]() *Pending[C] {
	return &Pending[C]{done: make(chan struct{})}
}

func (p *Pending[C]) settle(result TransitionResult[C], err error) {
	p.result = result
	p.err = err
	close(p.done)
}

// Wait blocks until the event has been processed or discarded
func (p *Pending[C]) Wait() (TransitionResult[C], error) {
	<-p.done
	return p.result, p.err
}

// Done returns a channel closed once the future has settled
func (p *Pending[C]) Done() <-chan struct{} {
	return p.done
}

// ID returns the unique identifier assigned to this instance at start
func (in *Instance[C]) ID() string {
	return in.id
}

// State returns the committed active path and context
func (in *Instance[C]) State() State[C] {
	in.mu.Lock()
	defer in.mu.Unlock()
	return State[C]{Path: in.path, Context: in.context}
}

// Context returns the committed context value
func (in *Instance[C]) Context() C {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.context
}

// Matches checks whether the active path is the given state or below it.
// Accepts either a full path or a plain state ID.
func (in *Instance[C]) Matches(id string) bool {
	return in.State().Matches(id)
}

// Done returns true once the instance occupies a final state
func (in *Instance[C]) Done() bool {
	in.mu.Lock()
	path := in.path
	in.mu.Unlock()
	state := in.machine.State(path)
	return state != nil && state.IsFinal()
}

// Send queues an event for processing. If the instance is idle the event is
// processed on the calling goroutine (including any queued events that
// arrive meanwhile) and the returned future is already settled; if a
// pipeline is in flight the event joins the FIFO queue and the future
// settles when its turn completes.
func (in *Instance[C]) Send(event EventType, payload map[string]any) *Pending[C] {
	ev := Event{Type: event, Payload: payload}
	p := newPending[C]()

	in.mu.Lock()
	if in.processing {
		in.queue = append(in.queue, queuedEvent[C]{event: ev, pending: p})
		in.mu.Unlock()
		return p
	}
	in.processing = true
	in.mu.Unlock()

	p.settle(in.process(ev))
	in.drain()
	return p
}

// SendPriority discards every queued event (rejecting their futures with
// the queue-cleared error) and then sends the given event, putting it ahead
// of anything queued afterwards. Clearing and enqueueing happen under one
// lock acquisition, so no concurrent Send can land between them.
func (in *Instance[C]) SendPriority(event EventType, payload map[string]any) *Pending[C] {
	ev := Event{Type: event, Payload: payload}
	p := newPending[C]()

	in.mu.Lock()
	cleared := in.queue
	in.queue = nil
	if in.processing {
		in.queue = append(in.queue, queuedEvent[C]{event: ev, pending: p})
		in.mu.Unlock()
		rejectCleared(cleared)
		return p
	}
	in.processing = true
	in.mu.Unlock()
	rejectCleared(cleared)

	p.settle(in.process(ev))
	in.drain()
	return p
}

// ClearQueue removes every event that has not yet started processing,
// rejecting each one's future with a QueueClearedError, and returns the
// number removed. A transition already in flight is never affected.
func (in *Instance[C]) ClearQueue() int {
	return len(in.detachQueue())
}

// detachQueue takes the queue under the lock and rejects the futures
// outside it.
func (in *Instance[C]) detachQueue() []queuedEvent[C] {
	in.mu.Lock()
	cleared := in.queue
	in.queue = nil
	in.mu.Unlock()
	rejectCleared(cleared)
	return cleared
}

func rejectCleared[C any](cleared []queuedEvent[C]) {
	for _, item := range cleared {
		item.pending.settle(TransitionResult[C]{}, &QueueClearedError{Event: item.event.Type})
	}
}

// drain processes queued events in FIFO order until the queue is empty,
// then returns the instance to idle.
func (in *Instance[C]) drain() {
	for {
		in.mu.Lock()
		if len(in.queue) == 0 {
			in.processing = false
			in.mu.Unlock()
			return
		}
		item := in.queue[0]
		in.queue = in.queue[1:]
		in.mu.Unlock()

		item.pending.settle(in.process(item.event))
	}
}

// process runs one full transition pipeline: resolve, execute the blocking
// batch against a working copy of the context, commit, snapshot, notify,
// then schedule fire-and-forget actions.
//
// Actions never write the committed context in place. The batch mutates a
// deep clone that is swapped in under the lock on commit, so a committed
// value is immutable from that point on and the accessors can hand it out
// without racing an in-flight batch.
func (in *Instance[C]) process(ev Event) (TransitionResult[C], error) {
	in.mu.Lock()
	from := in.path
	committed := in.context
	in.mu.Unlock()

	match := resolveEvent(in.machine, from, committed, ev)
	if match == nil {
		// No handler anywhere in the hierarchy: the event is dropped.
		return TransitionResult[C]{State: from, Context: committed}, nil
	}

	to := from
	var batch []ir.ActionRef[C]

	switch {
	case match.transition.IsInternal(), match.targetLeaf == from:
		// Internal and self-transitions commit without exit/entry actions.
		batch = match.transition.Actions
	default:
		to = match.targetLeaf
		exit, entry := exitEntrySets(in.machine, from, to)
		for _, s := range exit {
			batch = append(batch, s.Exit...)
		}
		batch = append(batch, match.transition.Actions...)
		for _, s := range entry {
			batch = append(batch, s.Entry...)
		}
	}

	work, err := deepClone(committed)
	if err != nil {
		return TransitionResult[C]{State: from, Context: committed},
			fmt.Errorf("context clone failed: %w", err)
	}

	results, err := runActions(batch, &work, ev)
	if err != nil {
		// Mutations applied by completed actions stand; the active path
		// stays uncommitted.
		in.mu.Lock()
		in.context = work
		in.mu.Unlock()
		return TransitionResult[C]{State: from, Context: work, Results: results}, err
	}

	in.mu.Lock()
	in.path = to
	in.context = work
	in.mu.Unlock()
	in.recordSnapshot()

	in.notify(Notification{From: from, To: to, Event: ev})

	if len(match.transition.Fire) > 0 {
		fireCtx, cloneErr := deepClone(work)
		if cloneErr != nil {
			in.logger.Error("fire-and-forget batch skipped: context clone failed",
				zap.String("event", string(ev.Type)), zap.Error(cloneErr))
		} else {
			go in.runFire(match.transition.Fire, fireCtx, ev)
		}
	}

	return TransitionResult[C]{State: to, Context: work, Results: results}, nil
}

// runFire executes a fire-and-forget batch detached from the triggering
// Send. Actions see a snapshot of the committed context; each failure is
// isolated, reported through the logger and the configured handler, and
// never reaches the caller's future.
func (in *Instance[C]) runFire(refs []ir.ActionRef[C], ctx C, ev Event) {
	for _, ref := range refs {
		if _, err := callAction(ref, &ctx, ev); err != nil {
			in.logger.Error("fire-and-forget action failed",
				zap.String("event", string(ev.Type)),
				zap.String("action", string(ref.Name)),
				zap.Error(err))
			if in.fireErr != nil {
				in.fireErr(err)
			}
		}
	}
}

// Subscribe registers a callback invoked exactly once per committed
// transition, after all blocking actions have completed. It returns an
// unsubscribe function. A callback that panics does not prevent the
// remaining subscribers from being notified.
func (in *Instance[C]) Subscribe(fn func(Notification)) func() {
	in.subMu.Lock()
	id := in.nextSub
	in.nextSub++
	in.subs[id] = fn
	in.subMu.Unlock()

	return func() {
		in.subMu.Lock()
		delete(in.subs, id)
		in.subMu.Unlock()
	}
}

func (in *Instance[C]) notify(n Notification) {
	in.subMu.Lock()
	ids := make([]int, 0, len(in.subs))
	for id := range in.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	callbacks := make([]func(Notification), 0, len(ids))
	for _, id := range ids {
		callbacks = append(callbacks, in.subs[id])
	}
	in.subMu.Unlock()

	for _, fn := range callbacks {
		in.notifyOne(fn, n)
	}
}

func (in *Instance[C]) notifyOne(fn func(Notification), n Notification) {
	defer func() {
		if r := recover(); r != nil {
			in.logger.Warn("subscriber panicked", zap.Any("panic", r))
		}
	}()
	fn(n)
}
