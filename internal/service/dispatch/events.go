package dispatch

import (
	"sync"

	"github.com/shopspring/decimal"

	"github.com/mamadbah2/fieldops/internal/domain/models"
)

// EventType names an engine event.
type EventType string

const (
	EventCommitted         EventType = "committed"
	EventOverrideConfirmed EventType = "override_confirmed"
	EventPosted            EventType = "posted"
)

// Event is published after the engine changes local state.
type Event struct {
	Type      EventType
	SessionID string
	Note      models.DispatchNote
	Row       *models.DispatchedBale
	Barcode   string
	Excess    decimal.Decimal
	Report    *PostReport
}

// Bus fans events out to subscribers in registration order. Handlers run
// on the publishing goroutine and must not block.
type Bus struct {
	mu       sync.RWMutex
	handlers []func(Event)
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers fn for every event.
func (b *Bus) Subscribe(fn func(Event)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, fn)
}

// Publish delivers ev to all subscribers.
func (b *Bus) Publish(ev Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	handlers := append([]func(Event){}, b.handlers...)
	b.mu.RUnlock()

	for _, fn := range handlers {
		fn(ev)
	}
}
