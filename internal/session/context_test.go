package session_test

import (
	"context"
	"testing"

	"github.com/flitsinc/datalab/internal/session"
	"github.com/flitsinc/datalab/internal/store"
	"github.com/flitsinc/datalab/internal/testutil"
)

func newManager(t *testing.T) (*session.Manager, *store.Store) {
	t.Helper()
	st := testutil.OpenTestStore(t)
	return session.NewManager(st), st
}

func TestGetStateDefaultsForNewSession(t *testing.T) {
	mgr, _ := newManager(t)
	state, err := mgr.GetState(context.Background(), "s1")
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if state != session.StateDefault {
		t.Fatalf("new session should start in default context, got %q", state)
	}
}

func TestSetStateIsIdempotent(t *testing.T) {
	mgr, _ := newManager(t)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := mgr.SetState(ctx, "s1", session.StateNotebook); err != nil {
			t.Fatalf("set state (pass %d): %v", i, err)
		}
	}
	state, err := mgr.GetState(ctx, "s1")
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if state != session.StateNotebook {
		t.Fatalf("expected notebook, got %q", state)
	}
}

func TestEnterNotebookPurgesOnlyNotebookUnits(t *testing.T) {
	mgr, st := newManager(t)
	ctx := context.Background()

	if _, err := st.EnsureSession(ctx, "s1"); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if _, err := st.InsertUnit(ctx, store.Unit{SessionID: "s1", AgentKind: session.KindNotebook, Index: 1, Kind: "markdown", Content: "# old"}); err != nil {
		t.Fatalf("seed cell: %v", err)
	}
	if _, err := st.InsertUnit(ctx, store.Unit{SessionID: "s1", AgentKind: session.KindPresentation, Index: 1, Kind: "title", Content: "{}"}); err != nil {
		t.Fatalf("seed slide: %v", err)
	}

	if err := mgr.EnterNotebook(ctx, "s1"); err != nil {
		t.Fatalf("enter notebook: %v", err)
	}

	cells, err := st.ListUnits(ctx, "s1", session.KindNotebook)
	if err != nil {
		t.Fatalf("list cells: %v", err)
	}
	if len(cells) != 0 {
		t.Fatalf("entering notebook must purge stale cells, found %d", len(cells))
	}
	slides, err := st.ListUnits(ctx, "s1", session.KindPresentation)
	if err != nil {
		t.Fatalf("list slides: %v", err)
	}
	if len(slides) != 1 {
		t.Fatalf("entering notebook must not touch slides, found %d", len(slides))
	}
}

func TestExitToDefaultKeepsUnits(t *testing.T) {
	mgr, st := newManager(t)
	ctx := context.Background()

	if err := mgr.EnterPresentation(ctx, "s1"); err != nil {
		t.Fatalf("enter presentation: %v", err)
	}
	if _, err := st.InsertUnit(ctx, store.Unit{SessionID: "s1", AgentKind: session.KindPresentation, Index: 1, Kind: "title", Content: "{}"}); err != nil {
		t.Fatalf("seed slide: %v", err)
	}
	if err := mgr.ExitToDefault(ctx, "s1"); err != nil {
		t.Fatalf("exit: %v", err)
	}

	state, err := mgr.GetState(ctx, "s1")
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if state != session.StateDefault {
		t.Fatalf("expected default, got %q", state)
	}
	slides, err := st.ListUnits(ctx, "s1", session.KindPresentation)
	if err != nil {
		t.Fatalf("list slides: %v", err)
	}
	if len(slides) != 1 {
		t.Fatalf("exit must keep generated slides, found %d", len(slides))
	}
}

func TestLockReturnsSameMutexPerSession(t *testing.T) {
	mgr, _ := newManager(t)
	if mgr.Lock("s1") != mgr.Lock("s1") {
		t.Fatalf("same session must share one lock")
	}
	if mgr.Lock("s1") == mgr.Lock("s2") {
		t.Fatalf("different sessions must not share a lock")
	}
}
