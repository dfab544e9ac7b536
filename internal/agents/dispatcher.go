package agents

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/flitsinc/datalab/internal/llm"
	"github.com/flitsinc/datalab/internal/push"
	"github.com/flitsinc/datalab/internal/session"
	"github.com/flitsinc/datalab/internal/store"
	"github.com/flitsinc/datalab/internal/stream"
)

const readyMessage = "I'm ready to assist. You can ask me to analyze a file, generate a notebook, or create a presentation from an analysis."

// Dispatcher routes one turn to the agent owning the session's context and
// guarantees the turn ends with exactly one final_response, whatever the
// agent did.
type Dispatcher struct {
	Store        *store.Store
	Sessions     *session.Manager
	Default      *DefaultAgent
	Notebook     *LoopAgent
	Presentation *LoopAgent
	Hub          *push.Hub
	Logger       *zap.Logger
}

// Dispatch processes one turn. Turns for the same session serialize on the
// session lock; the returned text is the terminal assistant response.
func (d *Dispatcher) Dispatch(ctx context.Context, sessionID, prompt string, history []llm.Message, emit stream.Emitter) (string, error) {
	lock := d.Sessions.Lock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	tracker := &terminalTracker{inner: emit}

	final, err := d.route(ctx, sessionID, prompt, history, tracker)
	if err != nil && d.Logger != nil {
		d.Logger.Warn("turn failed", zap.String("session_id", sessionID), zap.Error(err))
	}

	// Close the turn even when an agent bailed out after only an error
	// event; the client must always observe a terminal signal.
	if !tracker.seen {
		if final == "" {
			final = "Something went wrong while processing this turn."
		}
		tracker.Emit(stream.FinalResponse(final))
	}

	if d.Hub != nil {
		d.Hub.Broadcast(push.MessageProcessed(sessionID, final))
	}
	return final, err
}

func (d *Dispatcher) route(ctx context.Context, sessionID, prompt string, history []llm.Message, emit stream.Emitter) (string, error) {
	state, err := d.Sessions.GetState(ctx, sessionID)
	if err != nil {
		emit.Emit(stream.Error("Failed to load session state: " + err.Error()))
		return "Failed to load session state: " + err.Error(), err
	}

	if _, err := d.Store.InsertMessage(ctx, sessionID, "user", prompt, nil); err != nil {
		emit.Emit(stream.Error("Failed to record the message: " + err.Error()))
		return "Failed to record the message: " + err.Error(), err
	}

	switch state {
	case session.StateNotebook:
		return d.Notebook.Run(ctx, sessionID, emit)
	case session.StatePresentation:
		return d.Presentation.Run(ctx, sessionID, emit)
	case session.StateDefault:
		if AnalysisIntent(prompt) || AnalysisIntent(historyText(history)) {
			return d.Default.Run(ctx, sessionID, prompt, history, emit)
		}
		if _, err := d.Store.InsertMessage(ctx, sessionID, "assistant", readyMessage, messageMeta()); err != nil {
			emit.Emit(stream.Error("Failed to record the reply: " + err.Error()))
			return "Failed to record the reply: " + err.Error(), err
		}
		emit.Emit(stream.FinalResponse(readyMessage))
		return readyMessage, nil
	default:
		// code_execution is transient and never a routing target; treat a
		// session found there like a default-context analysis turn.
		return d.Default.Run(ctx, sessionID, prompt, history, emit)
	}
}

func historyText(history []llm.Message) string {
	var out strings.Builder
	for _, msg := range history {
		out.WriteString(msg.Role)
		out.WriteString(": ")
		out.WriteString(msg.Content)
		out.WriteString("\n")
	}
	return out.String()
}

// terminalTracker admits at most one final_response to the underlying
// emitter and remembers that it happened.
type terminalTracker struct {
	inner stream.Emitter
	seen  bool
}

func (t *terminalTracker) Emit(ev stream.Event) {
	if ev.Terminal() {
		if t.seen {
			return
		}
		t.seen = true
	}
	t.inner.Emit(ev)
}
