// Package events implements the in-process event bus feeding the
// WebSocket broadcaster: a single-threaded cooperative publisher with
// per-channel subscriptions. Concurrency discipline follows one mutex
// and short critical sections, with non-blocking sends so a slow
// subscriber never stalls the publisher.
package events

import (
	"sync"

	"github.com/pipectl/pipectl/internal/models"
)

// Channel names events are published under for subscription filtering.
type Channel string

const (
	ChannelScans  Channel = "scans"
	ChannelAlerts Channel = "alerts"
	ChannelAll    Channel = "*"
)

// subscriberBuffer bounds how many events a slow subscriber can lag
// behind before further events for it are dropped: listeners must never
// block the publisher.
const subscriberBuffer = 64

// Subscription is a channel-scoped feed of events. Callers read from
// Events() until it is closed by Unsubscribe.
type Subscription struct {
	id      uint64
	channel Channel
	ch      chan models.Event
	bus     *Bus
}

// Events returns the receive-only event stream for this subscription.
func (s *Subscription) Events() <-chan models.Event { return s.ch }

// Unsubscribe removes the subscription and closes its channel.
func (s *Subscription) Unsubscribe() { s.bus.unsubscribe(s) }

// Bus is the process-wide publisher. Publish is synchronous: it holds the
// lock only long enough to snapshot subscribers, then releases it and
// performs non-blocking sends, never waiting on a subscriber.
type Bus struct {
	mu          sync.Mutex
	nextID      uint64
	subscribers map[uint64]*Subscription

	droppedMu sync.Mutex
	dropped   map[Channel]int64
}

// New constructs an empty event bus.
func New() *Bus {
	return &Bus{
		subscribers: make(map[uint64]*Subscription),
		dropped:     make(map[Channel]int64),
	}
}

// Subscribe registers interest in one channel (or ChannelAll for every
// event) and returns a Subscription to read from.
func (b *Bus) Subscribe(channel Channel) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{
		id:      b.nextID,
		channel: channel,
		ch:      make(chan models.Event, subscriberBuffer),
		bus:     b,
	}
	b.subscribers[sub.id] = sub
	return sub
}

func (b *Bus) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	_, ok := b.subscribers[sub.id]
	delete(b.subscribers, sub.id)
	b.mu.Unlock()
	if ok {
		close(sub.ch)
	}
}

// Emit implements the EventEmitter interface consumed by the retry engine,
// the executor and the Doppler monitor:
// publish synchronously to every matching subscriber. A full subscriber
// buffer drops the event for that subscriber rather than blocking the
// publisher, counted via Dropped.
func (b *Bus) Emit(evt models.Event) {
	b.Publish(evt, eventChannel(evt))
}

// Publish fans evt out to subscribers of channel and of ChannelAll.
func (b *Bus) Publish(evt models.Event, channel Channel) {
	b.mu.Lock()
	targets := make([]*Subscription, 0, len(b.subscribers))
	for _, sub := range b.subscribers {
		if sub.channel == channel || sub.channel == ChannelAll {
			targets = append(targets, sub)
		}
	}
	b.mu.Unlock()

	for _, sub := range targets {
		select {
		case sub.ch <- evt:
		default:
			b.droppedMu.Lock()
			b.dropped[channel]++
			b.droppedMu.Unlock()
		}
	}
}

// Dropped reports how many events were dropped for a channel due to a
// full subscriber buffer. The count is kept in memory only; no Prometheus
// collector is updated from it.
func (b *Bus) Dropped(channel Channel) int64 {
	b.droppedMu.Lock()
	defer b.droppedMu.Unlock()
	return b.dropped[channel]
}

// eventChannel maps an event type to its delivery channel: retry/alert
// events go to "alerts", everything else to "scans" (pipeline-run
// activity).
func eventChannel(evt models.Event) Channel {
	switch evt.Type {
	case models.EventRetryWarning, models.EventRetryCircuitOpen, models.EventAlertHighImpact:
		return ChannelAlerts
	default:
		return ChannelScans
	}
}
