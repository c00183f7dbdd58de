// Package sse fans campaign events out to Server-Sent Events clients.
package sse

import (
	"encoding/json"
	"sync"
	"time"

	"broadcaster/internal/model"
)

// Event represents a server-sent event.
type Event struct {
	Type string // e.g. "progress", "log", "countdown"
	Data string // JSON payload
}

// Hub is an in-memory pub/sub hub for SSE events.
type Hub struct {
	mu      sync.Mutex
	clients map[string]map[chan Event]struct{}
	buffer  int
}

// New creates a new SSE Hub.
func New() *Hub {
	return &Hub{
		clients: make(map[string]map[chan Event]struct{}),
		buffer:  64,
	}
}

// Subscribe registers a listener on the given topic.
// Returns a receive-only channel and an unsubscribe function; the channel is
// closed once unsubscribed.
func (h *Hub) Subscribe(topic string) (<-chan Event, func()) {
	ch := make(chan Event, h.buffer)

	h.mu.Lock()
	if h.clients[topic] == nil {
		h.clients[topic] = make(map[chan Event]struct{})
	}
	h.clients[topic][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.clients[topic], ch)
			if len(h.clients[topic]) == 0 {
				delete(h.clients, topic)
			}
			close(ch)
			h.mu.Unlock()
		})
	}

	return ch, unsub
}

// Publish sends an event to all subscribers on the given topic.
// Non-blocking: slow clients are skipped.
func (h *Hub) Publish(topic string, event Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.clients[topic] {
		select {
		case ch <- event:
		default:
			// skip slow client
		}
	}
}

// Subscribers returns the number of listeners on topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients[topic])
}

// CampaignTopic carries every campaign event.
const CampaignTopic = "campaign"

// Observer publishes campaign events on CampaignTopic.
type Observer struct {
	Hub *Hub
}

func (o Observer) publish(typ string, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	o.Hub.Publish(CampaignTopic, Event{Type: typ, Data: string(b)})
}

func (o Observer) OnProgress(p model.Progress) { o.publish("progress", p) }

func (o Observer) OnLog(text string) { o.publish("log", map[string]string{"message": text}) }

// OnCountdown sends durations in whole seconds for the UI.
func (o Observer) OnCountdown(c model.Countdown) {
	o.publish("countdown", map[string]any{
		"isActive":      c.IsActive,
		"remainingTime": int64(c.RemainingTime.Round(time.Second) / time.Second),
		"totalTime":     int64(c.TotalTime.Round(time.Second) / time.Second),
		"type":          c.Type,
		"campaignId":    c.CampaignID,
	})
}

func (o Observer) OnSend(r model.SendResult) { o.publish("send", r) }
