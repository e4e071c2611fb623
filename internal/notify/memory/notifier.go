// Package memory records session events in memory for development and tests.
package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/linkmend/linkmend/internal/check"
)

// Notifier collects every event it is handed.
type Notifier struct {
	mu     sync.Mutex
	events []check.SessionEvent
}

// New constructs an empty Notifier.
func New() *Notifier {
	return &Notifier{}
}

// Notify records the event.
func (n *Notifier) Notify(_ context.Context, event check.SessionEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

// Events returns a copy of the recorded events in arrival order.
func (n *Notifier) Events() []check.SessionEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return slices.Clone(n.events)
}
