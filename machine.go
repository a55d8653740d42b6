package statecraft

import (
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/avigley/statecraft/internal/ir"
)

// Machine is a built, validated state machine definition. It is immutable;
// any number of independent instances can be started from it.
type Machine[C any] struct {
	config  *ir.MachineConfig[C]
	logger  *zap.Logger
	fireErr func(error)
}

// ID returns the machine identifier
func (m *Machine[C]) ID() string {
	return m.config.ID
}

// Config exposes the immutable internal representation for read-only
// consumers such as the export renderers.
func (m *Machine[C]) Config() *ir.MachineConfig[C] {
	return m.config
}

// Start creates an instance with the context value the machine was built
// with, enters the initial state (descending through designated initial
// children to a leaf, running entry actions on the way down) and records
// the first history snapshot.
func (m *Machine[C]) Start() (*Instance[C], error) {
	return m.StartWith(m.config.Context)
}

// StartWith is Start with an explicit initial context value
func (m *Machine[C]) StartWith(ctx C) (*Instance[C], error) {
	// Fail fast on a context that cannot round-trip through a snapshot;
	// every later capture assumes it can.
	if _, err := deepClone(ctx); err != nil {
		return nil, fmt.Errorf("statecraft: context is not snapshotable: %w", err)
	}

	leaf := m.config.InitialLeaf(m.config.Initial)
	if m.config.State(leaf) == nil {
		return nil, fmt.Errorf("statecraft: initial state %q not found", m.config.Initial)
	}

	in := &Instance[C]{
		id:      uuid.NewString(),
		machine: m.config,
		context: ctx,
		history: newHistoryBuffer[C](m.config.HistoryLimit),
		subs:    make(map[int]func(Notification)),
		fireErr: m.fireErr,
	}
	in.logger = m.logger.With(
		zap.String("machine", m.config.ID),
		zap.String("instance", in.id),
	)

	// Entry actions run boundary inward, root to leaf.
	var entry []ir.ActionRef[C]
	for _, path := range ir.PathChain(leaf) {
		if state := m.config.State(path); state != nil {
			entry = append(entry, state.Entry...)
		}
	}
	if _, err := runActions(entry, &in.context, Event{}); err != nil {
		return nil, fmt.Errorf("statecraft: entering initial state: %w", err)
	}

	in.path = leaf
	in.recordSnapshot()
	return in, nil
}
