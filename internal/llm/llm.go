// Package llm defines the model-invocation contract the agents depend on
// and its go-llms backed production implementation.
package llm

import (
	"context"
	"errors"
)

// ErrNoModel reports that a session has no provider/model bound. Agents
// treat it as a configuration error: fatal for the turn, no retry.
var ErrNoModel = errors.New("no model selected for this session")

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Invoker is the opaque generation capability: one prompt or message list
// in, the raw model text out.
type Invoker interface {
	Invoke(ctx context.Context, prompt string) (string, error)
	InvokeMessages(ctx context.Context, messages []Message) (string, error)
}

// Resolver looks up the invoker bound to a session. Implementations return
// ErrNoModel (possibly wrapped) when the session is unconfigured.
type Resolver interface {
	Resolve(ctx context.Context, sessionID string) (Invoker, error)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(ctx context.Context, sessionID string) (Invoker, error)

func (f ResolverFunc) Resolve(ctx context.Context, sessionID string) (Invoker, error) {
	return f(ctx, sessionID)
}
