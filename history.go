package statecraft

import (
	"fmt"

	"go.uber.org/zap"
)

// Snapshot is a captured {state path, deep-cloned context} pair. Snapshots
// are immutable once created and serialize to plain JSON or YAML, so they
// can be persisted externally and later round-tripped through Restore.
type Snapshot[C any] struct {
	StatePath string `json:"statePath" yaml:"statePath"`
	Context   C      `json:"context" yaml:"context"`
}

// historyBuffer is a fixed-capacity ring of snapshots. The newest entry is
// appended at the tail; once full, each append evicts the oldest. The tail
// is always the current snapshot.
type historyBuffer[C any] struct {
	buf   []Snapshot[C]
	head  int // index of the oldest entry
	count int
}

func newHistoryBuffer[C any](capacity int) *historyBuffer[C] {
	if capacity < 1 {
		capacity = 1
	}
	return &historyBuffer[C]{buf: make([]Snapshot[C], capacity)}
}

func (h *historyBuffer[C]) push(s Snapshot[C]) {
	if h.count < len(h.buf) {
		h.buf[(h.head+h.count)%len(h.buf)] = s
		h.count++
		return
	}
	h.buf[h.head] = s
	h.head = (h.head + 1) % len(h.buf)
}

func (h *historyBuffer[C]) tail() (Snapshot[C], bool) {
	if h.count == 0 {
		var zero Snapshot[C]
		return zero, false
	}
	return h.buf[(h.head+h.count-1)%len(h.buf)], true
}

func (h *historyBuffer[C]) dropTail() {
	if h.count > 0 {
		h.count--
	}
}

func (h *historyBuffer[C]) len() int {
	return h.count
}

func (h *historyBuffer[C]) list() []Snapshot[C] {
	out := make([]Snapshot[C], h.count)
	for i := 0; i < h.count; i++ {
		out[i] = h.buf[(h.head+i)%len(h.buf)]
	}
	return out
}

// recordSnapshot appends the committed state to the history ring. A context
// that fails to clone loses its history entry but never fails the committed
// transition.
func (in *Instance[C]) recordSnapshot() {
	in.mu.Lock()
	path := in.path
	ctx := in.context
	in.mu.Unlock()

	cloned, err := deepClone(ctx)
	if err != nil {
		in.logger.Error("snapshot capture failed, history entry skipped", zap.Error(err))
		return
	}

	in.mu.Lock()
	in.history.push(Snapshot[C]{StatePath: path, Context: cloned})
	in.mu.Unlock()
}

// cloneSnapshot detaches a stored ring entry before handing it to a caller,
// so mutating the returned context can never edit retained history. The
// entry cloned on capture, so a failure here is not expected; the stored
// value is returned rather than nothing.
func (in *Instance[C]) cloneSnapshot(s Snapshot[C]) Snapshot[C] {
	ctx, err := deepClone(s.Context)
	if err != nil {
		in.logger.Error("history snapshot clone failed", zap.Error(err))
		return s
	}
	return Snapshot[C]{StatePath: s.StatePath, Context: ctx}
}

// History returns the retained snapshots, oldest first. Each entry is a
// detached copy.
func (in *Instance[C]) History() []Snapshot[C] {
	in.mu.Lock()
	stored := in.history.list()
	in.mu.Unlock()

	out := make([]Snapshot[C], len(stored))
	for i, s := range stored {
		out[i] = in.cloneSnapshot(s)
	}
	return out
}

// Snapshot returns a detached copy of the current (newest) snapshot
func (in *Instance[C]) Snapshot() Snapshot[C] {
	in.mu.Lock()
	s, _ := in.history.tail()
	in.mu.Unlock()
	return in.cloneSnapshot(s)
}

// HistorySize returns the number of retained snapshots
func (in *Instance[C]) HistorySize() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.history.len()
}

// Rollback discards the newest snapshot and assigns the previous one's path
// and context directly, with no guard evaluation and no exit/entry actions.
// Queued events are discarded with the queue-cleared error. With a single
// retained snapshot, Rollback is a no-op returning the current one.
func (in *Instance[C]) Rollback() Snapshot[C] {
	in.mu.Lock()
	if in.history.len() < 2 {
		s, _ := in.history.tail()
		in.mu.Unlock()
		return in.cloneSnapshot(s)
	}

	in.history.dropTail()
	restored, _ := in.history.tail()

	ctx, err := deepClone(restored.Context)
	if err != nil {
		// The snapshot cloned on capture, so this is not expected; fall
		// back to the stored value rather than losing the rollback.
		in.logger.Error("rollback context clone failed", zap.Error(err))
		ctx = restored.Context
	}
	in.path = restored.StatePath
	in.context = ctx
	cleared := in.queue
	in.queue = nil
	in.mu.Unlock()

	rejectCleared(cleared)
	return in.cloneSnapshot(restored)
}

// Restore validates the snapshot and assigns its path and context directly,
// side-effect-free like Rollback, then appends the restored snapshot as a
// new history entry. Queued events are discarded with the queue-cleared
// error. A malformed snapshot or unknown path is rejected without mutating
// the instance.
func (in *Instance[C]) Restore(snap Snapshot[C]) error {
	if snap.StatePath == "" {
		return fmt.Errorf("%w: missing state path", ErrInvalidSnapshot)
	}
	state := in.machine.State(snap.StatePath)
	if state == nil {
		return fmt.Errorf("%w: %q", ErrUnknownStatePath, snap.StatePath)
	}
	if state.IsCompound() {
		return fmt.Errorf("%w: %q is not a leaf state", ErrInvalidSnapshot, snap.StatePath)
	}

	ctx, err := deepClone(snap.Context)
	if err != nil {
		return fmt.Errorf("%w: context: %v", ErrInvalidSnapshot, err)
	}
	entry, err := deepClone(snap.Context)
	if err != nil {
		return fmt.Errorf("%w: context: %v", ErrInvalidSnapshot, err)
	}

	in.mu.Lock()
	in.path = snap.StatePath
	in.context = ctx
	in.history.push(Snapshot[C]{StatePath: snap.StatePath, Context: entry})
	cleared := in.queue
	in.queue = nil
	in.mu.Unlock()

	rejectCleared(cleared)
	return nil
}
