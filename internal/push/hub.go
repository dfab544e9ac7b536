// Package push fans completed-turn notifications out to per-session
// websocket subscribers. It is the secondary delivery channel next to the
// chunked event stream.
package push

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

const TypeMessageProcessed = "message_processed"

type Frame struct {
	Type      string    `json:"type"`
	SessionID string    `json:"session_id"`
	Result    string    `json:"result"`
	Timestamp time.Time `json:"timestamp"`
}

func MessageProcessed(sessionID, result string) Frame {
	return Frame{
		Type:      TypeMessageProcessed,
		SessionID: sessionID,
		Result:    result,
		Timestamp: time.Now().UTC(),
	}
}

type Hub struct {
	mu   sync.RWMutex
	subs map[string]*subscriber
}

type subscriber struct {
	sessionID string
	ch        chan Frame
}

func NewHub() *Hub {
	return &Hub{subs: map[string]*subscriber{}}
}

// Subscribe registers for the session's frames until ctx is done. An empty
// sessionID receives every frame.
func (h *Hub) Subscribe(ctx context.Context, sessionID string) <-chan Frame {
	ch := make(chan Frame, 16)
	id := ulid.Make().String()

	sub := &subscriber{sessionID: sessionID, ch: ch}
	h.mu.Lock()
	h.subs[id] = sub
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
		close(ch)
	}()

	return ch
}

func (h *Hub) Broadcast(frame Frame) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subs {
		if sub.sessionID != "" && sub.sessionID != frame.SessionID {
			continue
		}
		select {
		case sub.ch <- frame:
		default:
			// Drop if subscriber is slow; the stream and the client's
			// timeout fallback cover delivery.
		}
	}
}

func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
