package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/neurobridge/genjobs/internal/pkg/logger"
)

// EventType is the small, closed set of messages the client-facing channel
// carries.
type EventType string

const (
	EventJobUpdated EventType = "job.updated"
	EventPing       EventType = "ping"
)

// Message is published on a channel named "chat:<user_id>" and fanned out to
// every subscriber currently attached to that channel.
type Message struct {
	Channel string    `json:"channel"`
	Type    EventType `json:"type"`
	JobID   string    `json:"job_id,omitempty"`
	Status  string    `json:"status,omitempty"`
	Result  any       `json:"result,omitempty"`
	Error   any       `json:"error,omitempty"`
}

// ChatChannel builds the canonical channel name for a user's event stream.
func ChatChannel(userID uuid.UUID) string {
	return "chat:" + userID.String()
}

const subscriberQueueCap = 100

type Subscriber struct {
	ID      uuid.UUID
	Channel string
	Outbound chan Message
	done    chan struct{}
}

// Bus is the Event Bus component: Publish never blocks the caller, even when
// a subscriber's queue is full (the message is dropped for that subscriber
// and nobody else is affected).
type Bus struct {
	mu   sync.RWMutex
	log  *logger.Logger
	subs map[string]map[*Subscriber]bool

	// forward, when set, relays every locally-published message to other
	// instances (see internal/clients/redis for the cross-instance forwarder).
	forward func(Message)
}

func NewBus(log *logger.Logger) *Bus {
	return &Bus{
		log:  log.With("component", "EventBus"),
		subs: make(map[string]map[*Subscriber]bool),
	}
}

// SetForwarder wires an optional outbound relay (e.g. Redis pub/sub) that is
// invoked for every locally-originated Publish call.
func (b *Bus) SetForwarder(fn func(Message)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.forward = fn
}

func (b *Bus) Subscribe(channel string, userID uuid.UUID) *Subscriber {
	sub := &Subscriber{
		ID:       uuid.New(),
		Channel:  channel,
		Outbound: make(chan Message, subscriberQueueCap),
		done:     make(chan struct{}),
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	clients, ok := b.subs[channel]
	if !ok {
		clients = make(map[*Subscriber]bool)
		b.subs[channel] = clients
	}
	clients[sub] = true
	b.log.Debug("sse subscriber attached", "subscriber_id", sub.ID, "channel", channel, "user_id", userID)
	return sub
}

func (b *Bus) Unsubscribe(sub *Subscriber) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if clients, ok := b.subs[sub.Channel]; ok {
		delete(clients, sub)
		if len(clients) == 0 {
			delete(b.subs, sub.Channel)
		}
	}
	close(sub.done)
}

// Publish fans a message out to every local subscriber on msg.Channel and
// forwards it for cross-instance delivery when a forwarder is configured.
// A full subscriber queue drops the message for that subscriber only.
func (b *Bus) Publish(msg Message) {
	b.mu.RLock()
	clients := b.subs[msg.Channel]
	fwd := b.forward
	b.mu.RUnlock()

	for c := range clients {
		select {
		case c.Outbound <- msg:
		default:
			b.log.Warn("dropping sse message; subscriber queue full", "subscriber_id", c.ID, "channel", msg.Channel)
		}
	}
	if fwd != nil {
		fwd(msg)
	}
}

// PublishLocal delivers a message received from the cross-instance forwarder
// without re-forwarding it (avoiding an echo loop).
func (b *Bus) PublishLocal(msg Message) {
	b.mu.RLock()
	clients := b.subs[msg.Channel]
	b.mu.RUnlock()
	for c := range clients {
		select {
		case c.Outbound <- msg:
		default:
			b.log.Warn("dropping forwarded sse message; subscriber queue full", "subscriber_id", c.ID, "channel", msg.Channel)
		}
	}
}

// ServeHTTP streams one subscriber's outbound queue as an SSE response,
// idle-ping-ing every 30s so intermediaries don't time the connection out.
func (b *Bus) ServeHTTP(w http.ResponseWriter, r *http.Request, sub *Subscriber) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	ctx := r.Context()

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.done:
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case msg, ok := <-sub.Outbound:
			if !ok {
				return
			}
			raw, err := json.Marshal(msg)
			if err != nil {
				b.log.Warn("failed to marshal sse message", "error", err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", strings.TrimSpace(string(msg.Type)), raw)
			flusher.Flush()
		}
	}
}
