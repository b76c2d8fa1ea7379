package server

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ramsingla/acts-as-wiki/internal/wiki"
)

const (
	realtimeEventHeartbeat = "heartbeat"
	realtimeSourceBackend  = "wikirev"
	realtimeBufferSize     = 16
)

// RealtimeMessage is one history change delivered to record subscribers.
type RealtimeMessage struct {
	ID        string    `json:"id"`
	EventType string    `json:"type"`
	OwnerType string    `json:"owner_type"`
	OwnerID   int64     `json:"owner_id"`
	FieldName string    `json:"field,omitempty"`
	Version   int64     `json:"version,omitempty"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
}

func (m RealtimeMessage) streamKey() string {
	return recordStreamKey(m.OwnerType, m.OwnerID)
}

func recordStreamKey(ownerType string, ownerID int64) string {
	if ownerType == "" || ownerID <= 0 {
		return ""
	}
	return ownerType + ":" + strconv.FormatInt(ownerID, 10)
}

// RealtimeDispatcher fans revision events out to subscribers of a record.
// Slow subscribers drop messages instead of blocking publishers.
type RealtimeDispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*realtimeSubscriber
	nextID      int64
	bufferSize  int
}

type realtimeSubscriber struct {
	id     int64
	stream chan RealtimeMessage
}

var _ wiki.EventSink = (*RealtimeDispatcher)(nil)

func NewRealtimeDispatcher() *RealtimeDispatcher {
	return &RealtimeDispatcher{
		subscribers: make(map[string]map[int64]*realtimeSubscriber),
		bufferSize:  realtimeBufferSize,
	}
}

// Subscribe registers for events of one record until ctx ends or cleanup runs.
func (d *RealtimeDispatcher) Subscribe(ctx context.Context, ownerType string, ownerID int64) (<-chan RealtimeMessage, func()) {
	key := recordStreamKey(ownerType, ownerID)
	if key == "" {
		ch := make(chan RealtimeMessage)
		close(ch)
		return ch, func() {}
	}
	subscriber := &realtimeSubscriber{
		id:     d.nextSequence(),
		stream: make(chan RealtimeMessage, d.bufferSize),
	}
	d.registerSubscriber(key, subscriber)
	var once sync.Once
	cleanup := func() {
		once.Do(func() { d.unregisterSubscriber(key, subscriber.id) })
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

// PublishRevision converts a tracker event and publishes it.
func (d *RealtimeDispatcher) PublishRevision(event wiki.RevisionEvent) {
	d.Publish(RealtimeMessage{
		ID:        newMessageID(),
		EventType: event.Type,
		OwnerType: event.OwnerType,
		OwnerID:   event.OwnerID,
		FieldName: event.FieldName,
		Version:   event.Version,
		Source:    realtimeSourceBackend,
		Timestamp: event.OccurredAt,
	})
}

func (d *RealtimeDispatcher) Publish(message RealtimeMessage) {
	key := message.streamKey()
	if key == "" || message.EventType == "" {
		return
	}
	d.mu.RLock()
	subscribers := d.subscribers[key]
	if len(subscribers) == 0 {
		d.mu.RUnlock()
		return
	}
	copies := make([]*realtimeSubscriber, 0, len(subscribers))
	for _, subscriber := range subscribers {
		copies = append(copies, subscriber)
	}
	d.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- message:
		default:
		}
	}
}

// SubscriberCount reports the live subscriptions of a record.
func (d *RealtimeDispatcher) SubscriberCount(ownerType string, ownerID int64) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subscribers[recordStreamKey(ownerType, ownerID)])
}

func (d *RealtimeDispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *RealtimeDispatcher) registerSubscriber(key string, subscriber *realtimeSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[key]; !ok {
		d.subscribers[key] = make(map[int64]*realtimeSubscriber)
	}
	d.subscribers[key][subscriber.id] = subscriber
}

func (d *RealtimeDispatcher) unregisterSubscriber(key string, subscriberID int64) {
	d.mu.Lock()
	subscribers := d.subscribers[key]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(d.subscribers, key)
		}
	}
	d.mu.Unlock()
}

func newMessageID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
