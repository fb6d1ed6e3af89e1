// Package events fans session state transitions out to WebSocket
// subscribers. Delivery is best-effort: a slow subscriber drops events
// rather than blocking the session flow.
package events

import (
	"sync"
	"time"

	"github.com/birth-rectifier/backend/internal/storage/models"
)

type Event struct {
	SessionID  string              `json:"session_id"`
	Type       string              `json:"type"`
	State      models.SessionState `json:"state"`
	Confidence float64             `json:"confidence"`
	At         time.Time           `json:"at"`
}

const (
	TypeStateChanged  = "state_changed"
	TypeAnswerApplied = "answer_applied"
	TypeFinalized     = "finalized"
)

type Bus struct {
	mu   sync.RWMutex
	subs map[string]map[chan Event]struct{}
}

func NewBus() *Bus {
	return &Bus{subs: make(map[string]map[chan Event]struct{})}
}

// Subscribe registers a listener for one session's events. The returned
// cancel func must be called when the listener goes away.
func (b *Bus) Subscribe(sessionID string) (<-chan Event, func()) {
	ch := make(chan Event, 16)

	b.mu.Lock()
	if b.subs[sessionID] == nil {
		b.subs[sessionID] = make(map[chan Event]struct{})
	}
	b.subs[sessionID][ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if set, ok := b.subs[sessionID]; ok {
			delete(set, ch)
			if len(set) == 0 {
				delete(b.subs, sessionID)
			}
		}
		b.mu.Unlock()
	}

	return ch, cancel
}

func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subs[evt.SessionID] {
		select {
		case ch <- evt:
		default:
		}
	}
}
