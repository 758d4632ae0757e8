package events

import (
	"context"
	"sync"
	"time"
)

const (
	EventSubmissionSaved     = "submission-saved"
	EventSubmissionDelivered = "submission-delivered"
	EventHeartbeat           = "heartbeat"

	// AllForms is the channel that receives every message regardless of form.
	AllForms uint = 0
)

type Message struct {
	FormID         uint      `json:"form_id"`
	EventType      string    `json:"event"`
	SubmissionUUID string    `json:"submission_uuid"`
	PageNumber     int       `json:"page_number"`
	Timestamp      time.Time `json:"timestamp"`
}

// Publisher is satisfied by Hub; services depend on it so tests can pass nil.
type Publisher interface {
	Publish(message Message)
}

// Hub fans submission lifecycle messages out to in-process subscribers.
// Publishing never blocks: a subscriber whose buffer is full misses the message.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[uint]map[int64]*subscriber
	nextID      int64
	bufferSize  int
}

type subscriber struct {
	id     int64
	stream chan Message
}

func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[uint]map[int64]*subscriber),
		bufferSize:  16,
	}
}

// Subscribe registers for messages of one form, or of every form when formID is AllForms.
// The subscription ends when ctx is done or the returned cleanup is called.
func (h *Hub) Subscribe(ctx context.Context, formID uint) (<-chan Message, func()) {
	sub := &subscriber{
		id:     h.nextSequence(),
		stream: make(chan Message, h.bufferSize),
	}
	h.register(formID, sub)
	var once sync.Once
	done := make(chan struct{})
	cleanup := func() {
		once.Do(func() {
			close(done)
			h.unregister(formID, sub.id)
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			cleanup()
		case <-done:
		}
	}()
	return sub.stream, cleanup
}

func (h *Hub) Publish(message Message) {
	if h == nil || message.EventType == "" {
		return
	}
	if message.Timestamp.IsZero() {
		message.Timestamp = time.Now().UTC()
	}
	h.mu.RLock()
	targets := make([]*subscriber, 0)
	for _, sub := range h.subscribers[message.FormID] {
		targets = append(targets, sub)
	}
	if message.FormID != AllForms {
		for _, sub := range h.subscribers[AllForms] {
			targets = append(targets, sub)
		}
	}
	h.mu.RUnlock()
	for _, sub := range targets {
		select {
		case sub.stream <- message:
		default:
		}
	}
}

// SubscriberCount reports how many subscriptions are open for formID.
func (h *Hub) SubscriberCount(formID uint) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[formID])
}

func (h *Hub) nextSequence() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	return h.nextID
}

func (h *Hub) register(formID uint, sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subscribers[formID]; !ok {
		h.subscribers[formID] = make(map[int64]*subscriber)
	}
	h.subscribers[formID][sub.id] = sub
}

func (h *Hub) unregister(formID uint, subscriberID int64) {
	h.mu.Lock()
	subscribers := h.subscribers[formID]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(h.subscribers, formID)
		}
	}
	h.mu.Unlock()
}
