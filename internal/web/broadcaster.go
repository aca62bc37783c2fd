package web

import (
	"sync"
	"time"
)

const (
	EventIn      = "in"
	EventOut     = "out"
	EventDropped = "dropped"
	EventLost    = "lost"
)

// LineEvent is one entry of the live link feed.
type LineEvent struct {
	TimeUTC string `json:"time_utc"`
	Kind    string `json:"kind"`
	Text    string `json:"text"`
}

// Broadcaster fans link events out to any listeners (e.g. websocket clients).
// Slow listeners lose events rather than stall the publisher.
type Broadcaster struct {
	mu     sync.RWMutex
	subs   map[int]chan LineEvent
	nextID int
	missed uint64
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]chan LineEvent)}
}

func (b *Broadcaster) Subscribe(buffer int) (int, <-chan LineEvent) {
	if b == nil {
		return 0, nil
	}
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan LineEvent, buffer)
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()
	return id, ch
}

func (b *Broadcaster) Unsubscribe(id int) {
	if b == nil {
		return
	}
	b.mu.Lock()
	ch, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
		close(ch)
	}
	b.mu.Unlock()
}

func (b *Broadcaster) Publish(kind, text string) {
	if b == nil {
		return
	}
	ev := LineEvent{TimeUTC: time.Now().UTC().Format(time.RFC3339Nano), Kind: kind, Text: text}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.missed++
		}
	}
}

// Listeners returns the number of current subscribers.
func (b *Broadcaster) Listeners() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
