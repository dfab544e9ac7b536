package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/flitsinc/datalab/internal/jsonx"
	"github.com/flitsinc/datalab/internal/llm"
	"github.com/flitsinc/datalab/internal/sandbox"
	"github.com/flitsinc/datalab/internal/session"
	"github.com/flitsinc/datalab/internal/store"
	"github.com/flitsinc/datalab/internal/stream"
)

// DefaultRetryBackoff is the pause before retrying a step whose model
// output was malformed.
const DefaultRetryBackoff = 1200 * time.Millisecond

const fileReadRetryNote = "I couldn't read your dataset file. Please reupload it in CSV format and try again."

// CodeExecutor runs one model-authored snippet through its full
// setup/execute/cleanup sequence and returns the classified outcome.
type CodeExecutor interface {
	Run(ctx context.Context, code string) sandbox.Outcome
}

// LoopConfig describes one generation-loop agent flavor. The notebook and
// presentation agents share the loop and differ only here.
type LoopConfig struct {
	Name            string
	AgentKind       string
	UnitNoun        string
	TranscriptLabel string
	AllowedKinds    []string
	StepLimit       int
	RetryBackoff    time.Duration
	FinalMessage    string

	// BuildInstructions renders the fixed system instructions for a turn.
	// analysisContext is whatever AnalysisContext produced.
	BuildInstructions func(sess store.Session, analysisContext string) string

	// AnalysisContext gathers cross-artifact context for the run (the
	// presentation agent reads the notebook transcript). May be nil.
	AnalysisContext func(ctx context.Context, st *store.Store, sessionID string) (string, error)

	// ExecuteCode runs persisted code units in the sandbox and feeds the
	// classified output into later steps.
	ExecuteCode bool
}

// LoopAgent drives the bounded one-unit-per-invocation generation loop.
type LoopAgent struct {
	Store     *store.Store
	Sessions  *session.Manager
	Resolver  llm.Resolver
	Executors func() CodeExecutor
	Logger    *zap.Logger
	Config    LoopConfig
}

// Run produces units until a conclusion or the step ceiling and returns
// the final assistant text. A resolver failure aborts before any step.
func (a *LoopAgent) Run(ctx context.Context, sessionID string, emit stream.Emitter) (string, error) {
	cfg := a.Config

	invoker, err := a.Resolver.Resolve(ctx, sessionID)
	if err != nil {
		msg := fmt.Sprintf("%s cannot start: %v", cfg.Name, err)
		emit.Emit(stream.Error(msg))
		a.persistAssistant(ctx, sessionID, msg)
		return msg, fmt.Errorf("%s: resolve model: %w", cfg.Name, err)
	}

	sess, err := a.Store.GetSession(ctx, sessionID)
	if err != nil {
		return a.abort(ctx, sessionID, emit, fmt.Sprintf("%s failed: %v", cfg.Name, err), err)
	}

	analysisContext := ""
	if cfg.AnalysisContext != nil {
		analysisContext, err = cfg.AnalysisContext(ctx, a.Store, sessionID)
		if err != nil {
			return a.abort(ctx, sessionID, emit, fmt.Sprintf("%s failed: %v", cfg.Name, err), err)
		}
	}
	instructions := cfg.BuildInstructions(sess, analysisContext)

	backoff := cfg.RetryBackoff
	if backoff <= 0 {
		backoff = DefaultRetryBackoff
	}

	concluded := false
	for step := 1; step <= cfg.StepLimit && !concluded; step++ {
		// Cancellation is checked between steps, never mid-invocation.
		if ctx.Err() != nil {
			break
		}

		units, err := a.Store.ListUnits(ctx, sessionID, cfg.AgentKind)
		if err != nil {
			return a.abort(ctx, sessionID, emit, fmt.Sprintf("%s failed: %v", cfg.Name, err), err)
		}
		unitIndex := len(units) + 1

		emit.Emit(stream.StatusUpdate(fmt.Sprintf("%s: Generating %s %d...", cfg.Name, cfg.UnitNoun, unitIndex)))

		prompt := a.buildStepPrompt(instructions, units)
		raw, err := invoker.Invoke(ctx, prompt)
		if err != nil {
			return a.abort(ctx, sessionID, emit, fmt.Sprintf("%s failed: %v", cfg.Name, err), err)
		}

		kind, content, data, parseErr := a.parseUnit(raw)
		if parseErr != nil {
			if a.Logger != nil {
				a.Logger.Debug("malformed generation output",
					zap.String("session_id", sessionID),
					zap.Int("step", step),
					zap.Error(parseErr),
				)
			}
			emit.Emit(stream.Error(fmt.Sprintf("Agent returned invalid %s JSON (%v), retrying.", cfg.UnitNoun, parseErr)))
			if !sleepCtx(ctx, backoff) {
				break
			}
			continue
		}

		unit, err := a.Store.InsertUnit(ctx, store.Unit{
			SessionID: sessionID,
			AgentKind: cfg.AgentKind,
			Index:     unitIndex,
			Kind:      kind,
			Content:   content,
			Data:      data,
		})
		if err != nil {
			return a.abort(ctx, sessionID, emit, fmt.Sprintf("%s failed: %v", cfg.Name, err), err)
		}
		emit.Emit(stream.UnitAdded(unit))

		if cfg.ExecuteCode && kind == "code" && a.Executors != nil {
			a.executeUnit(ctx, sessionID, unit, emit)
		}

		if kind == "conclusion" {
			concluded = true
		}
	}

	final := cfg.FinalMessage
	if sess, err := a.Store.GetSession(ctx, sessionID); err == nil && sess.FileReadingError {
		final += " " + fileReadRetryNote
	}
	a.persistAssistant(ctx, sessionID, final)
	emit.Emit(stream.FinalResponse(final))
	return final, nil
}

// executeUnit runs one code unit in an isolated sandbox. The session passes
// through the transient code_execution context for the duration; the
// classified outcome lands in the unit's data and in later transcripts.
func (a *LoopAgent) executeUnit(ctx context.Context, sessionID string, unit store.Unit, emit stream.Emitter) {
	_ = a.Sessions.SetState(ctx, sessionID, session.StateCodeExecution)
	defer func() {
		_ = a.Sessions.SetState(ctx, sessionID, session.State(a.Config.AgentKind))
	}()

	emit.Emit(stream.StatusUpdate(fmt.Sprintf("%s: Executing %s %d...", a.Config.Name, a.Config.UnitNoun, unit.Index)))

	outcome := a.Executors().Run(ctx, unit.Content)

	data := unit.Data
	if data == nil {
		data = map[string]any{}
	}
	data["execution"] = map[string]any{
		"output":             outcome.Output,
		"failed":             outcome.Failed,
		"file_reading_error": outcome.FileReadingError,
	}
	if err := a.Store.SetUnitData(ctx, unit.ID, data); err != nil && a.Logger != nil {
		a.Logger.Error("store execution outcome", zap.String("unit_id", unit.ID), zap.Error(err))
	}
	if err := a.Store.SetFileReadingError(ctx, sessionID, outcome.FileReadingError); err != nil && a.Logger != nil {
		a.Logger.Error("store file-reading flag", zap.String("session_id", sessionID), zap.Error(err))
	}
}

func (a *LoopAgent) buildStepPrompt(instructions string, units []store.Unit) string {
	var memory strings.Builder
	for i, unit := range units {
		if i > 0 {
			memory.WriteString("\n\n")
		}
		fmt.Fprintf(&memory, "// %s #%d (%s)\n%s", a.Config.TranscriptLabel, unit.Index, unit.Kind, unit.Content)
		if exec, ok := unit.Data["execution"].(map[string]any); ok {
			if output, ok := exec["output"].(string); ok && strings.TrimSpace(output) != "" {
				fmt.Fprintf(&memory, "\n// Output:\n%s", output)
			}
		}
	}
	return fmt.Sprintf("%s\n---\nMEMORY:\n%s\n---\nNext %s JSON only:", instructions, memory.String(), a.Config.UnitNoun)
}

// parseUnit enforces the single-JSON-object output contract: exactly one
// outer key, and that key must be an allowed kind tag.
func (a *LoopAgent) parseUnit(raw string) (kind, content string, data map[string]any, err error) {
	obj, err := jsonx.ExtractObject(raw)
	if err != nil {
		return "", "", nil, err
	}
	if len(obj) != 1 {
		return "", "", nil, fmt.Errorf("expected exactly one outer key, got %d", len(obj))
	}
	for key, value := range obj {
		kind = key
		if !a.kindAllowed(kind) {
			return "", "", nil, fmt.Errorf("unknown %s type: %s", a.Config.UnitNoun, kind)
		}
		var text string
		if jsonErr := json.Unmarshal(value, &text); jsonErr == nil {
			return kind, text, nil, nil
		}
		var fields map[string]any
		if jsonErr := json.Unmarshal(value, &fields); jsonErr == nil {
			return kind, string(value), fields, nil
		}
		return "", "", nil, fmt.Errorf("%s payload must be text or an object", a.Config.UnitNoun)
	}
	return "", "", nil, jsonx.ErrNoObject
}

func (a *LoopAgent) kindAllowed(kind string) bool {
	for _, allowed := range a.Config.AllowedKinds {
		if kind == allowed {
			return true
		}
	}
	return false
}

func (a *LoopAgent) abort(ctx context.Context, sessionID string, emit stream.Emitter, msg string, cause error) (string, error) {
	if a.Logger != nil {
		a.Logger.Warn("generation run aborted", zap.String("session_id", sessionID), zap.Error(cause))
	}
	emit.Emit(stream.Error(msg))
	a.persistAssistant(ctx, sessionID, msg)
	return msg, fmt.Errorf("%s: %w", a.Config.Name, cause)
}

func (a *LoopAgent) persistAssistant(ctx context.Context, sessionID, text string) {
	if _, err := a.Store.InsertMessage(ctx, sessionID, "assistant", text, messageMeta()); err != nil && a.Logger != nil {
		a.Logger.Error("persist assistant message", zap.String("session_id", sessionID), zap.Error(err))
	}
}

// sleepCtx waits for the backoff period; it reports false when the context
// ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
