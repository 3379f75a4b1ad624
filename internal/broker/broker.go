// Package broker fans round-progress events out to streaming subscribers.
// The orchestrator and the consensus engine publish phase events; observer
// goroutines (the SSE handler, tests) drain them from buffered channels.
package broker

import (
	"encoding/json"
	"sync"
	"time"

	"log/slog"
)

// Event types published during a hunt round.
const (
	TypeHuntStarted    = "hunt_started"
	TypeAgentStarted   = "agent_call_started"
	TypeAgentCompleted = "agent_call_completed"
	TypeAgentFailed    = "agent_call_failed"
	TypeRivalResolved  = "rival_resolved"
	TypePhaseCompleted = "phase_completed"
	TypeRoundSettled   = "round_settled"
)

// Event is one round-progress notification.
type Event struct {
	Type      string         `json:"type"`
	RoundID   string         `json:"round_id,omitempty"`
	Topic     string         `json:"topic,omitempty"`
	Agent     string         `json:"agent,omitempty"`
	Phase     string         `json:"phase,omitempty"`
	Detail    map[string]any `json:"detail,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Broker distributes events to all active subscribers.
type Broker struct {
	logger *slog.Logger

	mu          sync.RWMutex
	subscribers map[chan Event]struct{}
}

// New creates an event broker.
func New(logger *slog.Logger) *Broker {
	return &Broker{
		logger:      logger,
		subscribers: make(map[chan Event]struct{}),
	}
}

// Subscribe returns a channel that receives published events. The caller must
// call Unsubscribe when done.
func (b *Broker) Subscribe() chan Event {
	ch := make(chan Event, 64) // buffer so one slow reader can't block the publisher
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber channel and closes it.
func (b *Broker) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	delete(b.subscribers, ch)
	b.mu.Unlock()
	close(ch)
}

// Publish sends an event to every subscriber. Subscribers with a full buffer
// are skipped so a stalled stream cannot stall a settlement.
func (b *Broker) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subscribers {
		select {
		case ch <- ev:
		default:
			b.logger.Debug("broker: subscriber buffer full, dropping event", "type", ev.Type)
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// FormatSSE renders an event as a Server-Sent Events message.
func FormatSSE(ev Event) []byte {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil
	}
	return []byte("event: " + ev.Type + "\ndata: " + string(data) + "\n\n")
}
