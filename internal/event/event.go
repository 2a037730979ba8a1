// Package event is the publish-only channel the session manager reports on.
package event

import (
	"sync"
	"time"
)

// Type represents the kind of a published event
type Type string

const (
	TypeStatus    Type = "status"
	TypeDuration  Type = "duration"
	TypeAmplitude Type = "amplitude"
	TypeSaved     Type = "saved"
	TypeCompleted Type = "completed"
)

type Event struct {
	Type      Type      `json:"type"`
	Status    string    `json:"status,omitempty"`
	Duration  int64     `json:"duration"` // whole seconds
	Amplitude int       `json:"amplitude,omitempty"`
	Ref       string    `json:"ref,omitempty"` // output reference of a saved recording
	At        time.Time `json:"at"`
}

// Bus fans events out to subscribers. Publish never blocks: a subscriber
// whose buffer is full misses the event.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

func (b *Bus) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Subscribe returns a channel of future events and a func that unsubscribes
// and closes it.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}
