package agents

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/flitsinc/datalab/internal/llm"
	"github.com/flitsinc/datalab/internal/store"
	"github.com/flitsinc/datalab/internal/stream"
)

// DefaultAgent handles non-specialized turns: one model invocation framed
// to stay calm about missing files, filtered deterministically, persisted
// as an assistant message.
type DefaultAgent struct {
	Store    *store.Store
	Resolver llm.Resolver
	Logger   *zap.Logger
}

// Run answers one turn and returns the assistant text it persisted. The
// returned text doubles as the terminal response the dispatcher announces.
func (a *DefaultAgent) Run(ctx context.Context, sessionID, prompt string, history []llm.Message, emit stream.Emitter) (string, error) {
	invoker, err := a.Resolver.Resolve(ctx, sessionID)
	if err != nil {
		return a.fail(ctx, sessionID, fmt.Sprintf("Model error: %v", err), emit)
	}

	files, err := a.Store.ListFiles(ctx, sessionID)
	if err != nil {
		return a.fail(ctx, sessionID, fmt.Sprintf("Model error: %v", err), emit)
	}
	fileNames := make([]string, 0, len(files))
	for _, f := range files {
		fileNames = append(fileNames, f.Name)
	}
	hasFiles := len(fileNames) > 0

	systemPrompt := buildDefaultSystemPrompt(hasFiles, fileNames)

	emit.Emit(stream.StatusUpdate("Thinking..."))

	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{Role: "user", Content: systemPrompt})
	messages = append(messages, history...)
	messages = append(messages, llm.Message{Role: "user", Content: prompt})

	raw, err := invoker.InvokeMessages(ctx, messages)
	if err != nil {
		return a.fail(ctx, sessionID, fmt.Sprintf("Model error: %v", err), emit)
	}

	text := CalmGuard(raw)
	if AnalysisIntent(prompt) && !hasFiles {
		text += uploadTip
	}

	if _, err := a.Store.InsertMessage(ctx, sessionID, "assistant", text, messageMeta()); err != nil {
		return a.fail(ctx, sessionID, fmt.Sprintf("Model error: %v", err), emit)
	}

	emit.Emit(stream.FinalResponse(text))
	return text, nil
}

// fail makes the problem visible as a chat turn: an error event plus a
// persisted assistant message carrying the error text.
func (a *DefaultAgent) fail(ctx context.Context, sessionID, msg string, emit stream.Emitter) (string, error) {
	if a.Logger != nil {
		a.Logger.Warn("default agent turn failed", zap.String("session_id", sessionID), zap.String("error", msg))
	}
	emit.Emit(stream.Error(msg))
	if _, err := a.Store.InsertMessage(ctx, sessionID, "assistant", msg, messageMeta()); err != nil && a.Logger != nil {
		a.Logger.Error("persist failure message", zap.String("session_id", sessionID), zap.Error(err))
	}
	return msg, fmt.Errorf("default agent: %s", msg)
}

func buildDefaultSystemPrompt(hasFiles bool, fileNames []string) string {
	available := "None"
	if hasFiles {
		available = strings.Join(fileNames, ", ")
	}
	return strings.Join([]string{
		"You are a calm, helpful data assistant.",
		"- Keep replies short and helpful; no long intros or disclaimers.",
		"- Never demand uploads; proceed with what's available.",
		"- If files exist, acknowledge briefly and suggest next steps (1-2 lines).",
		"- If no files, answer normally; only add a single short tip if the user explicitly asked to analyze data.",
		"Files available now: " + available,
	}, "\n")
}

func messageMeta() map[string]any {
	return map[string]any{"createdAt": time.Now().UTC().Format(time.RFC3339Nano)}
}
