package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Type identifies the kind of event carried on the bus
type Type string

const (
	TypeStatusChanged   Type = "status_changed"
	TypeLog             Type = "log"
	TypeMetricsUpdated  Type = "metrics_updated"
	TypePlayerJoined    Type = "player_joined"
	TypePlayerLeft      Type = "player_left"
	TypeInstallProgress Type = "install_progress"
	TypeBackupStarted   Type = "backup_started"
	TypeBackupCompleted Type = "backup_completed"
	TypeEULAStatus      Type = "eula_status"
	TypeResourceAlert   Type = "resource_alert"
)

// Event is one notification published to subscribers
type Event struct {
	ID        string      `json:"id"`
	Type      Type        `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// StatusChangedPayload reports a lifecycle state change
type StatusChangedPayload struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Reason string `json:"reason,omitempty"`
}

// LogPayload carries one classified console line
type LogPayload struct {
	Line  string `json:"line"`
	Kind  string `json:"kind"`
	Level string `json:"level,omitempty"`
}

// MetricsPayload carries one resource sample
type MetricsPayload struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemoryRSS  uint64  `json:"memory_rss"`
	PID        int     `json:"pid"`
}

// PlayerPayload reports a player joining or leaving
type PlayerPayload struct {
	Name   string `json:"name"`
	Online int    `json:"online"`
}

// InstallProgressPayload reports download/unpack progress
type InstallProgressPayload struct {
	Version    string  `json:"version"`
	Stage      string  `json:"stage"`
	Percent    float64 `json:"percent"`
	BytesDone  int64   `json:"bytes_done"`
	BytesTotal int64   `json:"bytes_total"`
}

// BackupPayload reports backup lifecycle
type BackupPayload struct {
	Name  string `json:"name"`
	Size  int64  `json:"size,omitempty"`
	Error string `json:"error,omitempty"`
}

// EULAStatusPayload reports whether the license agreement is accepted
type EULAStatusPayload struct {
	Accepted bool `json:"accepted"`
}

// ResourceAlertPayload reports a sample crossing a configured
// threshold. Metric is "cpu" or "memory".
type ResourceAlertPayload struct {
	Metric    string  `json:"metric"`
	Value     float64 `json:"value"`
	Threshold float64 `json:"threshold"`
	PID       int     `json:"pid"`
}

// Bus fans events out to subscribers. Each subscriber gets its own
// buffered channel; a slow subscriber drops events rather than blocking
// the publisher or its peers. Events from a single publisher goroutine
// are delivered to each subscriber in publish order.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
}

// NewBus creates an event bus
func NewBus() *Bus {
	return &Bus{subs: make(map[chan Event]struct{})}
}

// Subscribe registers a new subscriber with the given channel buffer.
// The returned cancel func unregisters the subscriber and closes its
// channel; it is safe to call more than once.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Publish delivers an event to all current subscribers. Never blocks;
// subscribers with full buffers miss the event.
func (b *Bus) Publish(eventType Type, payload interface{}) {
	event := Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now(),
		Payload:   payload,
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subs {
		select {
		case ch <- event:
		default:
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close unregisters and closes all subscriber channels
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		delete(b.subs, ch)
		close(ch)
	}
}
