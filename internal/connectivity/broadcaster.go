// Package connectivity reports network reachability transitions to
// subscribers.
package connectivity

import (
	"context"
	"sync"
)

const defaultBufferSize = 16

// Broadcaster fans connectivity transitions out to subscribers. Only changes
// are delivered; a new subscriber first receives the last known state.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[int64]*subscriber
	nextID      int64
	bufferSize  int
	known       bool
	connected   bool
}

type subscriber struct {
	id     int64
	stream chan bool
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[int64]*subscriber),
		bufferSize:  defaultBufferSize,
	}
}

// Subscribe registers a listener. The returned cleanup unregisters it; once
// cleanup returns no further value is sent on the stream. Cancelling ctx has
// the same effect.
func (b *Broadcaster) Subscribe(ctx context.Context) (<-chan bool, func()) {
	sub := &subscriber{stream: make(chan bool, b.bufferSize)}

	b.mu.Lock()
	b.nextID++
	sub.id = b.nextID
	b.subscribers[sub.id] = sub
	if b.known {
		sub.stream <- b.connected
	}
	b.mu.Unlock()

	var once sync.Once
	unregister := func() {
		once.Do(func() {
			b.unregister(sub.id)
		})
	}
	stop := context.AfterFunc(ctx, unregister)
	return sub.stream, func() {
		stop()
		unregister()
	}
}

// Publish records the observed state and notifies subscribers when it differs
// from the previous observation.
func (b *Broadcaster) Publish(connected bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.known && b.connected == connected {
		return
	}
	b.known = true
	b.connected = connected
	for _, sub := range b.subscribers {
		deliverLatest(sub.stream, connected)
	}
}

// deliverLatest drops the oldest buffered value when the stream is full so a
// slow subscriber always observes the most recent state.
func deliverLatest(stream chan bool, connected bool) {
	select {
	case stream <- connected:
		return
	default:
	}
	select {
	case <-stream:
	default:
	}
	select {
	case stream <- connected:
	default:
	}
}

// State returns the last published state and whether one was published.
func (b *Broadcaster) State() (connected bool, known bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.connected, b.known
}

func (b *Broadcaster) unregister(id int64) {
	b.mu.Lock()
	delete(b.subscribers, id)
	b.mu.Unlock()
}
