package workflow

import (
	"context"
	"fmt"
	"sort"
)

// GuardFunc decides at fire time whether a guarded edge may be taken
type GuardFunc func(ctx context.Context) bool

type edge struct {
	to    State
	guard GuardFunc
}

// Builder collects edges. It is not safe for concurrent use; compile it with Table.
type Builder struct {
	edges map[State]map[Trigger][]edge
}

// NewBuilder creates an empty builder
func NewBuilder() *Builder {
	return &Builder{edges: make(map[State]map[Trigger][]edge)}
}

// From starts declaring the edges leaving state. Unknown states are a programming error.
func (b *Builder) From(state State) *Edges {
	if !state.IsValid() {
		panic(fmt.Sprintf("workflow: unknown source state %q", state))
	}
	if b.edges[state] == nil {
		b.edges[state] = make(map[Trigger][]edge)
	}
	return &Edges{builder: b, from: state}
}

// Table snapshots the declared edges. Later changes to the builder do not leak into it.
func (b *Builder) Table() *TransitionTable {
	snapshot := make(map[State]map[Trigger][]edge, len(b.edges))
	for state, byTrigger := range b.edges {
		copied := make(map[Trigger][]edge, len(byTrigger))
		for trigger, list := range byTrigger {
			copied[trigger] = append([]edge(nil), list...)
		}
		snapshot[state] = copied
	}
	return &TransitionTable{edges: snapshot}
}

// Edges declares transitions out of a single state
type Edges struct {
	builder *Builder
	from    State
}

// To permits trigger to move the machine to state
func (e *Edges) To(trigger Trigger, state State) *Edges {
	return e.ToIf(trigger, state, nil)
}

// Stay permits trigger without changing state
func (e *Edges) Stay(trigger Trigger) *Edges {
	return e.ToIf(trigger, e.from, nil)
}

// ToIf permits trigger when guard passes. Edges are tried in declaration order.
func (e *Edges) ToIf(trigger Trigger, state State, guard GuardFunc) *Edges {
	if !state.IsValid() {
		panic(fmt.Sprintf("workflow: unknown target state %q", state))
	}
	byTrigger := e.builder.edges[e.from]
	byTrigger[trigger] = append(byTrigger[trigger], edge{to: state, guard: guard})
	return e
}

// TransitionTable is an immutable set of edges shared by many machines
type TransitionTable struct {
	edges map[State]map[Trigger][]edge
}

// Machine starts a machine at initial. Stored requests may carry any status,
// so an unknown one is returned as an error.
func (t *TransitionTable) Machine(initial State) (StateMachine, error) {
	if !initial.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidState, initial)
	}
	return &machine{table: t, current: initial}, nil
}

// Triggers lists the triggers declared for state, sorted
func (t *TransitionTable) Triggers(state State) []Trigger {
	byTrigger := t.edges[state]
	out := make([]Trigger, 0, len(byTrigger))
	for trigger := range byTrigger {
		out = append(out, trigger)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

type machine struct {
	table   *TransitionTable
	current State
}

func (m *machine) State() State {
	return m.current
}

// CanFire ignores guards
func (m *machine) CanFire(trigger Trigger) bool {
	return len(m.table.edges[m.current][trigger]) > 0
}

func (m *machine) Fire(ctx context.Context, trigger Trigger) error {
	candidates := m.table.edges[m.current][trigger]
	if len(candidates) == 0 {
		return fmt.Errorf("%w: %s is not allowed from %s", ErrInvalidTransition, trigger, m.current)
	}
	for _, e := range candidates {
		if e.guard == nil || e.guard(ctx) {
			m.current = e.to
			return nil
		}
	}
	return fmt.Errorf("%w: %s from %s", ErrGuardFailed, trigger, m.current)
}

func (m *machine) PermittedTriggers() []Trigger {
	return m.table.Triggers(m.current)
}
