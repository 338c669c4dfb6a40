package goflow

import (
	"sort"
	"sync"
)

// Transitions maps actions to successor nodes. The default successor has
// its own slot so that no named action can shadow it.
type Transitions struct {
	mu          sync.RWMutex
	named       map[Action]Node
	defaultNext Node
}

// NewTransitions returns an empty transition table.
func NewTransitions() *Transitions {
	return &Transitions{named: make(map[Action]Node)}
}

// Set registers next as the successor for action and returns the node it
// replaced, if any. NoAction registers the default successor. A nil next
// removes the entry.
func (t *Transitions) Set(action Action, next Node) (previous Node) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if action.IsAbsent() {
		previous = t.defaultNext
		t.defaultNext = next
		return previous
	}

	if t.named == nil {
		t.named = make(map[Action]Node)
	}
	previous = t.named[action]
	if next == nil {
		delete(t.named, action)
		return previous
	}
	t.named[action] = next
	return previous
}

// Lookup returns the successor registered for action. Absent actions
// resolve to the default successor.
func (t *Transitions) Lookup(action Action) (Node, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if action.IsAbsent() {
		return t.defaultNext, t.defaultNext != nil
	}
	next, ok := t.named[action]
	return next, ok
}

// Default returns the default successor, or nil.
func (t *Transitions) Default() Node {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.defaultNext
}

// Actions lists the named actions in sorted order. The default slot is not
// included.
func (t *Transitions) Actions() []Action {
	t.mu.RLock()
	defer t.mu.RUnlock()

	actions := make([]Action, 0, len(t.named))
	for action := range t.named {
		actions = append(actions, action)
	}
	sort.Slice(actions, func(i, j int) bool { return actions[i] < actions[j] })
	return actions
}

// Len counts every registered successor, the default one included.
func (t *Transitions) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n := len(t.named)
	if t.defaultNext != nil {
		n++
	}
	return n
}
