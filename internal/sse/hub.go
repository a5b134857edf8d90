package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

type Event struct {
	ID   int64       `json:"id"`
	Type string      `json:"type"`
	Data interface{} `json:"data"`
	At   time.Time   `json:"at"`
}

type subscriber struct {
	ch chan Event
}

// Hub keeps a replayable per-document event list in Redis and fans new
// events out to in-process subscribers.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[uint][]*subscriber // documentID -> subscribers
	rdb         *redis.Client
	ttl         time.Duration
}

func NewHub(rdb *redis.Client, ttl time.Duration) *Hub {
	return &Hub{
		subscribers: make(map[uint][]*subscriber),
		rdb:         rdb,
		ttl:         ttl,
	}
}

func streamKey(documentID uint) string {
	return fmt.Sprintf("document:events:%d", documentID)
}

func (h *Hub) Subscribe(documentID uint) (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub := &subscriber{ch: make(chan Event, 256)}
	h.subscribers[documentID] = append(h.subscribers[documentID], sub)

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			subs := h.subscribers[documentID]
			for i, s := range subs {
				if s == sub {
					h.subscribers[documentID] = append(subs[:i], subs[i+1:]...)
					close(sub.ch)
					break
				}
			}
			if len(h.subscribers[documentID]) == 0 {
				delete(h.subscribers, documentID)
			}
		})
	}
	return sub.ch, unsub
}

// Publish appends the event to the document's list, refreshes its TTL and
// delivers it to live subscribers. Slow subscribers miss events rather than
// block the publisher.
func (h *Hub) Publish(ctx context.Context, documentID uint, eventType string, data interface{}) error {
	event := Event{Type: eventType, Data: data, At: time.Now().UTC()}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	key := streamKey(documentID)
	n, err := h.rdb.RPush(ctx, key, payload).Result()
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	event.ID = n - 1
	if h.ttl > 0 {
		if err := h.rdb.Expire(ctx, key, h.ttl).Err(); err != nil {
			return fmt.Errorf("expire events: %w", err)
		}
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subscribers[documentID] {
		select {
		case sub.ch <- event:
		default:
			// drop if full
		}
	}
	return nil
}

// ReplayFrom returns every stored event with id >= fromID.
func (h *Hub) ReplayFrom(ctx context.Context, documentID uint, fromID int64) ([]Event, error) {
	return h.rangeEvents(ctx, documentID, fromID, -1)
}

func (h *Hub) TotalEvents(ctx context.Context, documentID uint) (int64, error) {
	return h.rdb.LLen(ctx, streamKey(documentID)).Result()
}

func (h *Hub) EventsPage(ctx context.Context, documentID uint, offset, limit int64) ([]Event, error) {
	return h.rangeEvents(ctx, documentID, offset, offset+limit-1)
}

func (h *Hub) rangeEvents(ctx context.Context, documentID uint, start, stop int64) ([]Event, error) {
	items, err := h.rdb.LRange(ctx, streamKey(documentID), start, stop).Result()
	if err != nil {
		return nil, err
	}

	events := make([]Event, 0, len(items))
	for i, item := range items {
		var ev Event
		if err := json.Unmarshal([]byte(item), &ev); err != nil {
			continue
		}
		ev.ID = start + int64(i)
		events = append(events, ev)
	}
	return events, nil
}

// ParseLastEventID returns the id to resume from: one past the last event
// the client saw, or 0 when the header is absent.
func ParseLastEventID(header string) int64 {
	if header == "" {
		return 0
	}
	id, err := strconv.ParseInt(header, 10, 64)
	if err != nil || id < 0 {
		return 0
	}
	return id + 1
}
