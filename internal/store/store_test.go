package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/flitsinc/datalab/internal/store"
	"github.com/flitsinc/datalab/internal/testutil"
)

func TestEnsureSessionCreatesDefault(t *testing.T) {
	db, closeFn := testutil.OpenTestDB(t)
	defer closeFn()

	st := store.NewStore(db)
	ctx := context.Background()

	session, err := st.EnsureSession(ctx, "s1")
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if session.Context != "default" {
		t.Fatalf("expected default context, got %q", session.Context)
	}

	again, err := st.EnsureSession(ctx, "s1")
	if err != nil {
		t.Fatalf("ensure again: %v", err)
	}
	if !again.CreatedAt.Equal(session.CreatedAt) {
		t.Fatalf("ensure should not recreate the session")
	}
}

func TestSessionFieldsRoundTrip(t *testing.T) {
	db, closeFn := testutil.OpenTestDB(t)
	defer closeFn()

	st := store.NewStore(db)
	ctx := context.Background()

	if _, err := st.EnsureSession(ctx, "s1"); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if err := st.SetSessionModel(ctx, "s1", "anthropic", "claude-sonnet"); err != nil {
		t.Fatalf("set model: %v", err)
	}
	if err := st.SetSessionPlan(ctx, "s1", "1. load\n2. plot"); err != nil {
		t.Fatalf("set plan: %v", err)
	}
	if err := st.SetSessionContext(ctx, "s1", "notebook"); err != nil {
		t.Fatalf("set context: %v", err)
	}
	if err := st.SetFileReadingError(ctx, "s1", true); err != nil {
		t.Fatalf("set flag: %v", err)
	}

	session, err := st.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if session.ProviderKey != "anthropic" || session.ModelKey != "claude-sonnet" {
		t.Fatalf("model binding lost: %+v", session)
	}
	if session.Plan != "1. load\n2. plot" || session.Context != "notebook" || !session.FileReadingError {
		t.Fatalf("fields lost: %+v", session)
	}
}

func TestGetSessionNotFound(t *testing.T) {
	db, closeFn := testutil.OpenTestDB(t)
	defer closeFn()

	st := store.NewStore(db)
	_, err := st.GetSession(context.Background(), "missing")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMessagesOrderedByInsertion(t *testing.T) {
	db, closeFn := testutil.OpenTestDB(t)
	defer closeFn()

	st := store.NewStore(db)
	ctx := context.Background()
	if _, err := st.EnsureSession(ctx, "s1"); err != nil {
		t.Fatalf("ensure: %v", err)
	}

	for _, content := range []string{"first", "second", "third"} {
		if _, err := st.InsertMessage(ctx, "s1", "user", content, nil); err != nil {
			t.Fatalf("insert %q: %v", content, err)
		}
	}

	messages, err := st.ListMessages(ctx, "s1", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(messages))
	}
	for i, want := range []string{"first", "second", "third"} {
		if messages[i].Content != want {
			t.Fatalf("message %d = %q, want %q", i, messages[i].Content, want)
		}
	}
}

func TestUnitsContiguousAndPurgeable(t *testing.T) {
	db, closeFn := testutil.OpenTestDB(t)
	defer closeFn()

	st := store.NewStore(db)
	ctx := context.Background()
	if _, err := st.EnsureSession(ctx, "s1"); err != nil {
		t.Fatalf("ensure: %v", err)
	}

	for i := 1; i <= 3; i++ {
		if _, err := st.InsertUnit(ctx, store.Unit{SessionID: "s1", AgentKind: "notebook", Index: i, Kind: "code", Content: "print(1)"}); err != nil {
			t.Fatalf("insert unit %d: %v", i, err)
		}
	}
	// Duplicate indices within (session, agent_kind) are rejected.
	if _, err := st.InsertUnit(ctx, store.Unit{SessionID: "s1", AgentKind: "notebook", Index: 2, Kind: "code", Content: "dup"}); err == nil {
		t.Fatalf("expected unique index violation")
	}
	// The same index is fine for a different artifact family.
	if _, err := st.InsertUnit(ctx, store.Unit{SessionID: "s1", AgentKind: "presentation", Index: 1, Kind: "title", Content: "{}"}); err != nil {
		t.Fatalf("insert slide: %v", err)
	}

	units, err := st.ListUnits(ctx, "s1", "notebook")
	if err != nil {
		t.Fatalf("list units: %v", err)
	}
	if len(units) != 3 {
		t.Fatalf("expected 3 notebook units, got %d", len(units))
	}
	for i, unit := range units {
		if unit.Index != i+1 {
			t.Fatalf("unit %d has index %d", i, unit.Index)
		}
	}

	if err := st.DeleteUnits(ctx, "s1", "notebook"); err != nil {
		t.Fatalf("delete units: %v", err)
	}
	units, err = st.ListUnits(ctx, "s1", "notebook")
	if err != nil {
		t.Fatalf("list after purge: %v", err)
	}
	if len(units) != 0 {
		t.Fatalf("expected purge, found %d units", len(units))
	}
	slides, err := st.ListUnits(ctx, "s1", "presentation")
	if err != nil {
		t.Fatalf("list slides: %v", err)
	}
	if len(slides) != 1 {
		t.Fatalf("purge must not touch the other kind")
	}
}

func TestDeleteSessionCascades(t *testing.T) {
	db, closeFn := testutil.OpenTestDB(t)
	defer closeFn()

	st := store.NewStore(db)
	ctx := context.Background()
	if _, err := st.EnsureSession(ctx, "s1"); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if _, err := st.InsertMessage(ctx, "s1", "user", "hello", nil); err != nil {
		t.Fatalf("insert message: %v", err)
	}
	if _, err := st.InsertUnit(ctx, store.Unit{SessionID: "s1", AgentKind: "notebook", Index: 1, Kind: "markdown", Content: "# hi"}); err != nil {
		t.Fatalf("insert unit: %v", err)
	}
	if _, err := st.AddFile(ctx, "s1", "data.csv", "f1"); err != nil {
		t.Fatalf("add file: %v", err)
	}

	if err := st.DeleteSession(ctx, "s1"); err != nil {
		t.Fatalf("delete session: %v", err)
	}

	var count int
	for _, table := range []string{"messages", "units", "session_files"} {
		row := db.QueryRow(`SELECT COUNT(*) FROM ` + table)
		if err := row.Scan(&count); err != nil {
			t.Fatalf("count %s: %v", table, err)
		}
		if count != 0 {
			t.Fatalf("expected cascade delete to empty %s, found %d rows", table, count)
		}
	}
}

func TestSetUnitData(t *testing.T) {
	db, closeFn := testutil.OpenTestDB(t)
	defer closeFn()

	st := store.NewStore(db)
	ctx := context.Background()
	if _, err := st.EnsureSession(ctx, "s1"); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	unit, err := st.InsertUnit(ctx, store.Unit{SessionID: "s1", AgentKind: "notebook", Index: 1, Kind: "code", Content: "print(1)"})
	if err != nil {
		t.Fatalf("insert unit: %v", err)
	}
	if err := st.SetUnitData(ctx, unit.ID, map[string]any{"execution": map[string]any{"output": "1\n"}}); err != nil {
		t.Fatalf("set data: %v", err)
	}
	units, err := st.ListUnits(ctx, "s1", "notebook")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	exec, ok := units[0].Data["execution"].(map[string]any)
	if !ok || exec["output"] != "1\n" {
		t.Fatalf("execution data lost: %+v", units[0].Data)
	}
}
