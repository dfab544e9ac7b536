// Package client consumes the chat stream the way the chat UI does: the
// chunked frame stream is the primary channel, the push websocket is the
// secondary one, and a silence timeout recovers the turn when both stall.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/flitsinc/datalab/internal/push"
	"github.com/flitsinc/datalab/internal/store"
	"github.com/flitsinc/datalab/internal/stream"
)

// DefaultSilenceTimeout bounds how long a turn may go without any stream
// activity before the consumer falls back to the persisted transcript.
const DefaultSilenceTimeout = 30 * time.Second

const fallbackFailureText = "The assistant did not respond in time. Please try again."

// Terminal sources, in precedence order. Whichever channel resolves the
// turn first wins; the others are ignored.
const (
	SourceStream   = "stream"
	SourcePush     = "push"
	SourceFallback = "fallback"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// TurnResult is everything one completed turn produced.
type TurnResult struct {
	Final  string
	Source string
	Events []stream.Event
}

// Consumer drives turns against one session and accumulates the
// conversation state a chat surface renders.
type Consumer struct {
	BaseURL string
	HTTP    *http.Client
	Logger  *zap.Logger

	// SilenceTimeout resets on every stream frame; zero means the default.
	SilenceTimeout time.Duration

	mu           sync.Mutex
	messages     []Message
	notebook     []store.Unit
	presentation []store.Unit
	status       string
	lastError    string
	loading      bool
}

// SendTurn posts one user message and blocks until the turn resolves.
// pushFrames is the optional secondary channel; pass nil to rely on the
// stream and the fallback alone.
func (c *Consumer) SendTurn(ctx context.Context, sessionID, text string, pushFrames <-chan push.Frame) (TurnResult, error) {
	c.mu.Lock()
	c.messages = append(c.messages, Message{Role: "user", Content: text})
	c.loading = true
	c.status = ""
	c.lastError = ""
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.loading = false
		c.status = ""
		c.mu.Unlock()
	}()

	streamCtx, cancelStream := context.WithCancel(ctx)
	defer cancelStream()

	frames, errs, err := c.openStream(streamCtx, sessionID, text)
	if err != nil {
		return TurnResult{}, err
	}

	timeout := c.SilenceTimeout
	if timeout <= 0 {
		timeout = DefaultSilenceTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var result TurnResult
	resolved := false
	streamDone := false

	resolve := func(final, source string) {
		if resolved {
			return
		}
		resolved = true
		result.Final = final
		result.Source = source
		c.mu.Lock()
		c.messages = append(c.messages, Message{Role: "assistant", Content: final})
		c.mu.Unlock()
	}

	for !resolved {
		select {
		case <-ctx.Done():
			return TurnResult{}, ctx.Err()

		case ev, ok := <-frames:
			if !ok {
				streamDone = true
				frames = nil
				if pushFrames == nil {
					// Stream ended without a terminal frame and there is
					// no secondary channel; recover immediately.
					resolve(c.recoverFinal(ctx, sessionID), SourceFallback)
				}
				continue
			}
			timer.Reset(timeout)
			result.Events = append(result.Events, ev)
			c.apply(streamCtx, sessionID, ev)
			if ev.Terminal() {
				resolve(ev.Content, SourceStream)
			}

		case err, ok := <-errs:
			if ok && err != nil && c.Logger != nil {
				c.Logger.Debug("chat stream error", zap.String("session_id", sessionID), zap.Error(err))
			}
			errs = nil

		case frame, ok := <-pushFrames:
			if !ok {
				pushFrames = nil
				if streamDone {
					resolve(c.recoverFinal(ctx, sessionID), SourceFallback)
				}
				continue
			}
			if frame.Type != push.TypeMessageProcessed || frame.SessionID != sessionID {
				continue
			}
			resolve(frame.Result, SourcePush)

		case <-timer.C:
			resolve(c.recoverFinal(ctx, sessionID), SourceFallback)
		}
	}

	cancelStream()
	return result, nil
}

// openStream starts the POST /api/chat request and decodes frames into a
// channel until the body ends.
func (c *Consumer) openStream(ctx context.Context, sessionID, text string) (<-chan stream.Event, <-chan error, error) {
	payload, err := json.Marshal(map[string]any{"session_id": sessionID, "message": text})
	if err != nil {
		return nil, nil, fmt.Errorf("encode chat request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, nil, fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("send chat request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, nil, fmt.Errorf("chat request failed: %d %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	frames := make(chan stream.Event)
	errs := make(chan error, 1)
	go func() {
		defer close(frames)
		defer resp.Body.Close()
		reader := stream.NewFrameReader(resp.Body)
		for {
			ev, err := reader.Next()
			if err != nil {
				if err != io.EOF {
					errs <- err
				}
				return
			}
			select {
			case frames <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return frames, errs, nil
}

// apply folds one stream event into the rendered conversation state.
func (c *Consumer) apply(ctx context.Context, sessionID string, ev stream.Event) {
	switch ev.Type {
	case stream.TypeStatusUpdate:
		c.mu.Lock()
		c.status = ev.Message
		c.mu.Unlock()
	case stream.TypeError:
		if c.Logger != nil {
			c.Logger.Warn("turn error",
				zap.String("session_id", sessionID),
				zap.String("message", ev.Message),
			)
		}
		c.mu.Lock()
		c.lastError = ev.Message
		c.mu.Unlock()
	case stream.TypeUnitAdded:
		if ev.Unit == nil {
			return
		}
		switch ev.Unit.AgentKind {
		case "notebook", "presentation":
			c.sideLoad(ctx, sessionID, ev.Unit.AgentKind, *ev.Unit)
		}
	}
}

// sideLoad refreshes the whole artifact from the server on unit_added, so
// the rendered copy is the persisted one (a code cell's execution output
// lands in the store after the cell was announced). The event's embedded
// unit is the fallback when the fetch fails.
func (c *Consumer) sideLoad(ctx context.Context, sessionID, agentKind string, unit store.Unit) {
	units, err := c.fetchArtifact(ctx, sessionID, agentKind)
	if err != nil && c.Logger != nil {
		c.Logger.Debug("artifact side-load failed",
			zap.String("session_id", sessionID),
			zap.String("agent_kind", agentKind),
			zap.Error(err),
		)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	target := &c.notebook
	if agentKind == "presentation" {
		target = &c.presentation
	}
	if err != nil {
		*target = appendUnit(*target, unit)
		return
	}
	*target = units
}

func (c *Consumer) fetchArtifact(ctx context.Context, sessionID, agentKind string) ([]store.Unit, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/api/sessions/"+sessionID+"/"+agentKind, nil)
	if err != nil {
		return nil, fmt.Errorf("build artifact request: %w", err)
	}
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch artifact: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch artifact: status %d", resp.StatusCode)
	}
	var units []store.Unit
	if err := json.NewDecoder(resp.Body).Decode(&units); err != nil {
		return nil, fmt.Errorf("decode artifact: %w", err)
	}
	return units, nil
}

// appendUnit keeps the artifact list deduplicated by index; a re-delivered
// unit replaces the earlier copy instead of duplicating it.
func appendUnit(units []store.Unit, unit store.Unit) []store.Unit {
	for i, existing := range units {
		if existing.Index == unit.Index {
			units[i] = unit
			return units
		}
	}
	return append(units, unit)
}

// recoverFinal pulls the latest persisted assistant message so a dead
// stream still yields the turn's outcome.
func (c *Consumer) recoverFinal(ctx context.Context, sessionID string) string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/api/sessions/"+sessionID+"/messages", nil)
	if err != nil {
		return fallbackFailureText
	}
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return fallbackFailureText
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fallbackFailureText
	}
	var messages []Message
	if err := json.NewDecoder(resp.Body).Decode(&messages); err != nil {
		return fallbackFailureText
	}
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "assistant" {
			return messages[i].Content
		}
	}
	return fallbackFailureText
}

// Messages returns a copy of the conversation so far.
func (c *Consumer) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

func (c *Consumer) Notebook() []store.Unit {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]store.Unit, len(c.notebook))
	copy(out, c.notebook)
	return out
}

func (c *Consumer) Presentation() []store.Unit {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]store.Unit, len(c.presentation))
	copy(out, c.presentation)
	return out
}

func (c *Consumer) Status() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// LastError reports the most recent error event of the current or last
// turn, the way a chat surface keeps a toast around. Empty when the turn
// ran clean.
func (c *Consumer) LastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastError
}

func (c *Consumer) Loading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loading
}

func (c *Consumer) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return http.DefaultClient
}
