package orchestrator

import (
	"fmt"
	"slices"

	"catalogsync/internal/catalog"
)

var transitions = map[catalog.RunState][]catalog.RunState{
	catalog.StateStart:    {catalog.StateIndexing, catalog.StateFailed},
	catalog.StateIndexing: {catalog.StatePlanning, catalog.StateFailed},
	// planning ends a dry run
	catalog.StatePlanning:   {catalog.StateFetching, catalog.StateDone},
	catalog.StateFetching:   {catalog.StatePersisting},
	catalog.StatePersisting: {catalog.StateDone, catalog.StateFailed},
}

// CanTransition reports whether a run may move from `from` to `to`.
func CanTransition(from, to catalog.RunState) bool {
	return slices.Contains(transitions[from], to)
}

type machine struct {
	state    catalog.RunState
	onChange func(from, to catalog.RunState)
}

func newMachine(onChange func(from, to catalog.RunState)) *machine {
	return &machine{state: catalog.StateStart, onChange: onChange}
}

// to panics on an illegal transition, that is always a programming error.
func (m *machine) to(next catalog.RunState) {
	if !CanTransition(m.state, next) {
		panic(fmt.Sprintf("illegal run state transition %s -> %s", m.state, next))
	}
	previous := m.state
	m.state = next
	if m.onChange != nil {
		m.onChange(previous, next)
	}
}
