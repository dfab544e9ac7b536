package llm

import (
	"context"
	"fmt"

	"github.com/flitsinc/datalab/internal/store"
)

// StoreResolver resolves a session's bound provider/model from the artifact
// store. APIKeys maps provider key to credential; entries come from config.
type StoreResolver struct {
	Store   *store.Store
	APIKeys map[string]string
}

func (r *StoreResolver) Resolve(ctx context.Context, sessionID string) (Invoker, error) {
	session, err := r.Store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.ProviderKey == "" || session.ModelKey == "" {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrNoModel)
	}
	apiKey := r.APIKeys[session.ProviderKey]
	if apiKey == "" {
		return nil, fmt.Errorf("session %s: provider %q has no API key: %w", sessionID, session.ProviderKey, ErrNoModel)
	}
	client, err := NewClient(Config{Provider: session.ProviderKey, Model: session.ModelKey, APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", sessionID, err)
	}
	return client, nil
}
