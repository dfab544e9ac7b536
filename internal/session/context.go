// Package session tracks which agent owns a chat session and serializes
// turn processing per session.
package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/flitsinc/datalab/internal/store"
)

type State string

const (
	StateDefault       State = "default"
	StateNotebook      State = "notebook"
	StatePresentation  State = "presentation"
	StateCodeExecution State = "code_execution"
)

// AgentKind values partition generated units by artifact family.
const (
	KindNotebook     = "notebook"
	KindPresentation = "presentation"
)

type Manager struct {
	store *store.Store

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewManager(st *store.Store) *Manager {
	return &Manager{store: st, locks: map[string]*sync.Mutex{}}
}

// Lock returns the mutex that serializes turns for one session. Units for a
// session keep contiguous indices only while a single turn is in flight, so
// callers hold this for the whole turn.
func (m *Manager) Lock(sessionID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[sessionID] = lock
	}
	return lock
}

// GetState reports the session's current context, creating a default-context
// record when the session is new.
func (m *Manager) GetState(ctx context.Context, sessionID string) (State, error) {
	session, err := m.store.EnsureSession(ctx, sessionID)
	if err != nil {
		return "", err
	}
	switch State(session.Context) {
	case StateDefault, StateNotebook, StatePresentation, StateCodeExecution:
		return State(session.Context), nil
	case "":
		return StateDefault, nil
	default:
		return "", fmt.Errorf("session %s: unknown context %q", sessionID, session.Context)
	}
}

// SetState is idempotent; setting the current state again is a no-op write.
func (m *Manager) SetState(ctx context.Context, sessionID string, state State) error {
	if _, err := m.store.EnsureSession(ctx, sessionID); err != nil {
		return err
	}
	return m.store.SetSessionContext(ctx, sessionID, string(state))
}

// EnterNotebook moves the session into the notebook context and purges any
// cells left over from an earlier run, so the next run indexes from 1.
func (m *Manager) EnterNotebook(ctx context.Context, sessionID string) error {
	return m.enter(ctx, sessionID, StateNotebook, KindNotebook)
}

// EnterPresentation is EnterNotebook's counterpart for slides.
func (m *Manager) EnterPresentation(ctx context.Context, sessionID string) error {
	return m.enter(ctx, sessionID, StatePresentation, KindPresentation)
}

func (m *Manager) enter(ctx context.Context, sessionID string, state State, agentKind string) error {
	if err := m.SetState(ctx, sessionID, state); err != nil {
		return err
	}
	if err := m.store.DeleteUnits(ctx, sessionID, agentKind); err != nil {
		return fmt.Errorf("purge %s units: %w", agentKind, err)
	}
	return nil
}

// ExitToDefault returns the session to the default context. Generated units
// are kept; only context entry purges them.
func (m *Manager) ExitToDefault(ctx context.Context, sessionID string) error {
	return m.SetState(ctx, sessionID, StateDefault)
}
