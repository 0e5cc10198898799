// Package workflow holds the status transition tables of every workflow entity.
// Handlers and services never compare statuses by hand: they ask the Machine
// of the entity which transition an action leads to.
package workflow

import (
	"errors"
	"fmt"
	"slices"

	"github.com/diewo77/go-achats/gate"
)

// ErrInvalidTransition is returned for any move not declared in a table.
var ErrInvalidTransition = errors.New("invalid transition")

// TransitionError details a refused move. It matches ErrInvalidTransition.
type TransitionError struct {
	Entity string
	From   string
	To     string
	Action gate.Action
}

func (e *TransitionError) Error() string {
	if e.To != "" {
		return fmt.Sprintf("%s: %s -> %s not allowed", e.Entity, e.From, e.To)
	}
	return fmt.Sprintf("%s: action %q not allowed from %s", e.Entity, e.Action, e.From)
}

func (e *TransitionError) Is(target error) bool { return target == ErrInvalidTransition }

// Transition is one edge of a lifecycle.
type Transition[S ~string] struct {
	From   S
	To     S
	Action gate.Action
	// NeedsNote requires a motif (rejections, revision requests).
	NeedsNote bool
	// Automatic edges are applied by the system, never by a user request.
	Automatic bool
}

// Machine is a table-driven lifecycle for one entity.
type Machine[S ~string] struct {
	entity  string
	initial S
	edges   map[S]map[S]Transition[S]
	states  []S
}

// New builds a machine. It panics on a duplicated (from, action) pair since the
// action must identify the edge.
func New[S ~string](entity string, initial S, transitions ...Transition[S]) *Machine[S] {
	m := &Machine[S]{entity: entity, initial: initial, edges: make(map[S]map[S]Transition[S])}
	m.addState(initial)
	seen := make(map[string]bool)
	for _, t := range transitions {
		key := string(t.From) + "|" + string(t.Action)
		if seen[key] {
			panic(fmt.Sprintf("workflow %s: duplicate action %s from %s", entity, t.Action, t.From))
		}
		seen[key] = true
		if m.edges[t.From] == nil {
			m.edges[t.From] = make(map[S]Transition[S])
		}
		m.edges[t.From][t.To] = t
		m.addState(t.From)
		m.addState(t.To)
	}
	return m
}

func (m *Machine[S]) addState(s S) {
	if !slices.Contains(m.states, s) {
		m.states = append(m.states, s)
	}
}

// Entity is the journal name of the entity.
func (m *Machine[S]) Entity() string { return m.entity }

// Initial is the status of a freshly created row.
func (m *Machine[S]) Initial() S { return m.initial }

// States lists every known status in declaration order.
func (m *Machine[S]) States() []S { return slices.Clone(m.states) }

// Transition returns the edge from -> to or a *TransitionError.
func (m *Machine[S]) Transition(from, to S) (Transition[S], error) {
	if t, ok := m.edges[from][to]; ok {
		return t, nil
	}
	return Transition[S]{}, &TransitionError{Entity: m.entity, From: string(from), To: string(to)}
}

// Can reports whether from -> to is declared.
func (m *Machine[S]) Can(from, to S) bool {
	_, ok := m.edges[from][to]
	return ok
}

// ForAction returns the edge an action takes from the current status.
func (m *Machine[S]) ForAction(from S, action gate.Action) (Transition[S], error) {
	for _, t := range m.edges[from] {
		if t.Action == action {
			return t, nil
		}
	}
	return Transition[S]{}, &TransitionError{Entity: m.entity, From: string(from), Action: action}
}

// Next lists the user-triggerable actions available from a status, sorted.
func (m *Machine[S]) Next(from S) []gate.Action {
	var out []gate.Action
	for _, t := range m.edges[from] {
		if !t.Automatic {
			out = append(out, t.Action)
		}
	}
	slices.Sort(out)
	return out
}

// IsTerminal is true when no edge leaves s.
func (m *Machine[S]) IsTerminal(s S) bool { return len(m.edges[s]) == 0 }
