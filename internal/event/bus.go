// Package event provides a pub/sub event system for agent transport channels using watermill.
package event

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// ErrBusClosed is returned when subscribing to a closed bus.
var ErrBusClosed = errors.New("event bus closed")

// Event is one delivery on a named channel.
type Event struct {
	Channel string `json:"channel"`
	// Seq is assigned by the bus. Fan-out of one payload to several channels
	// through Emit shares a single Seq.
	Seq     uint64 `json:"seq"`
	Payload any    `json:"payload"`
}

// Handler receives events.
type Handler func(event Event)

// subscriberEntry wraps a handler with an ID.
type subscriberEntry struct {
	id uint64
	fn Handler
}

// Bus routes events to channel subscribers. Delivery is a direct call so
// payload types are preserved; watermill's gochannel carries a JSON copy for
// taps (recorders, bridges).
type Bus struct {
	mu sync.RWMutex

	pubsub *gochannel.GoChannel
	tapped map[string]int

	subscribers map[string][]subscriberEntry
	global      []subscriberEntry

	nextID       uint64
	seq          uint64
	closed       bool
	closedCancel context.CancelFunc
	closedCtx    context.Context
}

// globalBus is the default event bus instance.
var globalBus = newBus()

// newBus creates a new event bus with watermill infrastructure.
func newBus() *Bus {
	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{
				OutputChannelBuffer: 100,
				Persistent:          false,
			},
			watermill.NopLogger{},
		),
		tapped:       make(map[string]int),
		subscribers:  make(map[string][]subscriberEntry),
		closedCtx:    ctx,
		closedCancel: cancel,
	}
}

// NewBus creates a new event bus instance.
func NewBus() *Bus {
	return newBus()
}

// Default returns the process-wide bus.
func Default() *Bus {
	return globalBus
}

// newID generates a unique subscriber ID.
func (b *Bus) newID() uint64 {
	return atomic.AddUint64(&b.nextID, 1)
}

// Subscribe registers a handler for a channel and returns its unsubscribe func.
func (b *Bus) Subscribe(channel string, fn Handler) (func(), error) {
	if fn == nil {
		return nil, errors.New("nil handler")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBusClosed
	}

	id := b.newID()
	b.subscribers[channel] = append(b.subscribers[channel], subscriberEntry{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() { b.unsubscribe(channel, id) })
	}, nil
}

// SubscribeAll registers a handler for every channel.
func (b *Bus) SubscribeAll(fn Handler) (func(), error) {
	if fn == nil {
		return nil, errors.New("nil handler")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBusClosed
	}

	id := b.newID()
	b.global = append(b.global, subscriberEntry{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() { b.unsubscribeGlobal(id) })
	}, nil
}

// unsubscribe removes a handler for a specific channel.
func (b *Bus) unsubscribe(channel string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subscribers[channel]
	for i, entry := range subs {
		if entry.id == id {
			// Copy so in-flight snapshots taken by publishers stay intact.
			next := make([]subscriberEntry, 0, len(subs)-1)
			next = append(next, subs[:i]...)
			next = append(next, subs[i+1:]...)
			if len(next) == 0 {
				delete(b.subscribers, channel)
			} else {
				b.subscribers[channel] = next
			}
			break
		}
	}
}

// unsubscribeGlobal removes a global handler.
func (b *Bus) unsubscribeGlobal(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, entry := range b.global {
		if entry.id == id {
			next := make([]subscriberEntry, 0, len(b.global)-1)
			next = append(next, b.global[:i]...)
			next = append(next, b.global[i+1:]...)
			b.global = next
			break
		}
	}
}

// SubscriberCount returns the number of handlers on a channel.
func (b *Bus) SubscriberCount(channel string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[channel])
}

// collect snapshots the handlers for a channel. Returns false if the bus is closed.
func (b *Bus) collect(channel string) ([]Handler, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, false
	}

	subs := make([]Handler, 0, len(b.subscribers[channel])+len(b.global))
	for _, entry := range b.subscribers[channel] {
		subs = append(subs, entry.fn)
	}
	for _, entry := range b.global {
		subs = append(subs, entry.fn)
	}
	return subs, true
}

func (b *Bus) stamp(e *Event) {
	if e.Seq == 0 {
		e.Seq = atomic.AddUint64(&b.seq, 1)
	}
}

// Emit delivers one payload to each channel in order, synchronously, under a
// single sequence number. It returns the sequence number used.
func (b *Bus) Emit(payload any, channels ...string) uint64 {
	seq := atomic.AddUint64(&b.seq, 1)
	for _, ch := range channels {
		b.PublishSync(Event{Channel: ch, Seq: seq, Payload: payload})
	}
	return seq
}

// Publish sends an event to all subscribers asynchronously.
// Each subscriber is called in its own goroutine to prevent blocking.
func (b *Bus) Publish(event Event) {
	b.stamp(&event)
	subs, ok := b.collect(event.Channel)
	if !ok {
		return
	}

	for _, sub := range subs {
		go sub(event)
	}
	b.forward(event)
}

// PublishSync sends an event to all subscribers synchronously, in the
// publisher's goroutine, before returning.
func (b *Bus) PublishSync(event Event) {
	b.stamp(&event)
	subs, ok := b.collect(event.Channel)
	if !ok {
		return
	}

	for _, sub := range subs {
		sub(event)
	}
	b.forward(event)
}

// Tap returns a watermill stream of JSON copies of the events published on a
// channel. Consumers must Ack each message. Delivery order across messages is
// not guaranteed; the "seq" metadata restores it.
func (b *Bus) Tap(ctx context.Context, channel string) (<-chan *message.Message, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrBusClosed
	}
	b.tapped[channel]++
	b.mu.Unlock()

	msgs, err := b.pubsub.Subscribe(ctx, channel)
	if err != nil {
		b.untap(channel)
		return nil, err
	}

	go func() {
		select {
		case <-ctx.Done():
		case <-b.closedCtx.Done():
		}
		b.untap(channel)
	}()

	return msgs, nil
}

func (b *Bus) untap(channel string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.tapped[channel] <= 1 {
		delete(b.tapped, channel)
		return
	}
	b.tapped[channel]--
}

// forward copies an event onto the watermill topic of the same name when tapped.
func (b *Bus) forward(event Event) {
	b.mu.RLock()
	tapped := b.tapped[event.Channel] > 0
	b.mu.RUnlock()
	if !tapped {
		return
	}

	var data []byte
	switch p := event.Payload.(type) {
	case string:
		data = []byte(p)
	case []byte:
		data = p
	default:
		var err error
		if data, err = json.Marshal(p); err != nil {
			return
		}
	}

	msg := message.NewMessage(watermill.NewUUID(), data)
	msg.Metadata.Set("seq", strconv.FormatUint(event.Seq, 10))
	msg.Metadata.Set("channel", event.Channel)
	_ = b.pubsub.Publish(event.Channel, msg)
}

// Close closes the bus and all its subscribers.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.closedCancel()

	b.subscribers = make(map[string][]subscriberEntry)
	b.global = nil
	b.tapped = make(map[string]int)
	b.mu.Unlock()

	return b.pubsub.Close()
}
