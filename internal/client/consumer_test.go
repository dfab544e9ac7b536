package client

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/flitsinc/datalab/internal/push"
	"github.com/flitsinc/datalab/internal/store"
	"github.com/flitsinc/datalab/internal/stream"
	"github.com/flitsinc/datalab/internal/testutil"
)

// chatServer serves one session's chat stream, transcript and artifacts,
// counting artifact fetches so tests can observe side-loads.
type chatServer struct {
	mux          *http.ServeMux
	notebookHits atomic.Int32
}

func newChatServer(t *testing.T, events []stream.Event, transcript []Message, notebook []store.Unit) *chatServer {
	t.Helper()
	cs := &chatServer{mux: http.NewServeMux()}
	cs.mux.HandleFunc("/api/chat", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, ev := range events {
			if err := stream.WriteFrame(w, ev); err != nil {
				t.Errorf("write frame: %v", err)
				return
			}
		}
	})
	cs.mux.HandleFunc("/api/sessions/s1/messages", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(transcript)
	})
	cs.mux.HandleFunc("/api/sessions/s1/notebook", func(w http.ResponseWriter, r *http.Request) {
		cs.notebookHits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		if notebook == nil {
			notebook = []store.Unit{}
		}
		_ = json.NewEncoder(w).Encode(notebook)
	})
	cs.mux.HandleFunc("/api/sessions/s1/presentation", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode([]store.Unit{})
	})
	return cs
}

func newConsumer(handler http.Handler) *Consumer {
	return &Consumer{
		BaseURL:        "http://in-process",
		HTTP:           testutil.NewInProcessClient(handler),
		Logger:         zap.NewNop(),
		SilenceTimeout: 200 * time.Millisecond,
	}
}

func TestSendTurnResolvesFromStream(t *testing.T) {
	unit := store.Unit{SessionID: "s1", AgentKind: "notebook", Index: 1, Kind: "markdown", Content: "# Intro"}
	events := []stream.Event{
		stream.StatusUpdate("Thinking..."),
		stream.UnitAdded(unit),
		stream.FinalResponse("All done."),
	}
	srv := newChatServer(t, events, nil, []store.Unit{unit})
	c := newConsumer(srv.mux)

	result, err := c.SendTurn(context.Background(), "s1", "go", nil)
	if err != nil {
		t.Fatalf("send turn: %v", err)
	}
	if result.Source != SourceStream {
		t.Fatalf("expected stream resolution, got %q", result.Source)
	}
	if result.Final != "All done." {
		t.Fatalf("final = %q", result.Final)
	}

	messages := c.Messages()
	if len(messages) != 2 || messages[0].Role != "user" || messages[1].Content != "All done." {
		t.Fatalf("conversation state: %+v", messages)
	}
	notebook := c.Notebook()
	if len(notebook) != 1 || notebook[0].Content != "# Intro" {
		t.Fatalf("notebook state: %+v", notebook)
	}
	if c.Loading() {
		t.Fatalf("loading must clear after the turn")
	}
}

func TestSendTurnUnitAddedSideLoadsArtifact(t *testing.T) {
	announced := store.Unit{SessionID: "s1", AgentKind: "notebook", Index: 1, Kind: "code", Content: "print(1)"}
	// The persisted copy already carries the execution output the embedded
	// event unit lacks; the side-load must surface it.
	persisted := announced
	persisted.Data = map[string]any{"execution": map[string]any{"output": "1\n"}}
	events := []stream.Event{
		stream.UnitAdded(announced),
		stream.FinalResponse("Done."),
	}
	srv := newChatServer(t, events, nil, []store.Unit{persisted})
	c := newConsumer(srv.mux)

	if _, err := c.SendTurn(context.Background(), "s1", "go", nil); err != nil {
		t.Fatalf("send turn: %v", err)
	}
	if hits := srv.notebookHits.Load(); hits != 1 {
		t.Fatalf("expected 1 artifact fetch on unit_added, got %d", hits)
	}
	notebook := c.Notebook()
	if len(notebook) != 1 {
		t.Fatalf("notebook state: %+v", notebook)
	}
	if notebook[0].Data == nil {
		t.Fatalf("side-load must replace the announced unit with the persisted copy")
	}
}

func TestSendTurnSideLoadFailureKeepsEmbeddedUnit(t *testing.T) {
	unit := store.Unit{SessionID: "s1", AgentKind: "notebook", Index: 1, Kind: "markdown", Content: "# Intro"}
	events := []stream.Event{
		stream.UnitAdded(unit),
		stream.FinalResponse("Done."),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/chat", func(w http.ResponseWriter, r *http.Request) {
		for _, ev := range events {
			_ = stream.WriteFrame(w, ev)
		}
	})
	mux.HandleFunc("/api/sessions/", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusInternalServerError)
	})
	c := newConsumer(mux)

	if _, err := c.SendTurn(context.Background(), "s1", "go", nil); err != nil {
		t.Fatalf("send turn: %v", err)
	}
	notebook := c.Notebook()
	if len(notebook) != 1 || notebook[0].Content != "# Intro" {
		t.Fatalf("failed side-load must fall back to the event's unit: %+v", notebook)
	}
}

func TestSendTurnRedeliveredUnitReplacesNotAppends(t *testing.T) {
	unit := store.Unit{SessionID: "s1", AgentKind: "notebook", Index: 1, Kind: "code", Content: "print(1)"}
	events := []stream.Event{
		stream.UnitAdded(unit),
		stream.UnitAdded(unit),
		stream.FinalResponse("Done."),
	}
	srv := newChatServer(t, events, nil, []store.Unit{unit})
	c := newConsumer(srv.mux)

	if _, err := c.SendTurn(context.Background(), "s1", "go", nil); err != nil {
		t.Fatalf("send turn: %v", err)
	}
	notebook := c.Notebook()
	if len(notebook) != 1 {
		t.Fatalf("redelivery must not duplicate, got %d units", len(notebook))
	}
}

func TestSendTurnSurfacesErrorEvents(t *testing.T) {
	var turns atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/chat", func(w http.ResponseWriter, r *http.Request) {
		// Only the first turn hits a retryable failure.
		if turns.Add(1) == 1 {
			_ = stream.WriteFrame(w, stream.Error("Cell generation failed, retrying."))
		}
		_ = stream.WriteFrame(w, stream.FinalResponse("Recovered."))
	})
	c := newConsumer(mux)

	result, err := c.SendTurn(context.Background(), "s1", "go", nil)
	if err != nil {
		t.Fatalf("send turn: %v", err)
	}
	if result.Final != "Recovered." {
		t.Fatalf("final = %q", result.Final)
	}
	if c.LastError() == "" {
		t.Fatalf("error events must stay observable after the turn")
	}

	// The next turn starts with a clean slate.
	if _, err := c.SendTurn(context.Background(), "s1", "again", nil); err != nil {
		t.Fatalf("second turn: %v", err)
	}
	if c.LastError() != "" {
		t.Fatalf("a clean turn must clear the previous toast, got %q", c.LastError())
	}
}

func TestSendTurnStreamAndPushResolveOnce(t *testing.T) {
	events := []stream.Event{stream.FinalResponse("From the stream.")}
	srv := newChatServer(t, events, nil, nil)
	c := newConsumer(srv.mux)

	pushFrames := make(chan push.Frame, 1)
	pushFrames <- push.MessageProcessed("s1", "From the stream.")

	result, err := c.SendTurn(context.Background(), "s1", "go", pushFrames)
	if err != nil {
		t.Fatalf("send turn: %v", err)
	}
	if result.Final != "From the stream." {
		t.Fatalf("final = %q", result.Final)
	}

	var assistants int
	for _, msg := range c.Messages() {
		if msg.Role == "assistant" {
			assistants++
		}
	}
	if assistants != 1 {
		t.Fatalf("dual delivery must resolve exactly once, got %d assistant messages", assistants)
	}
}

func TestSendTurnPushRecoversDeadStream(t *testing.T) {
	// The stream ends without any terminal frame.
	events := []stream.Event{stream.StatusUpdate("Working...")}
	srv := newChatServer(t, events, nil, nil)
	c := newConsumer(srv.mux)
	c.SilenceTimeout = 2 * time.Second

	pushFrames := make(chan push.Frame, 1)
	go func() {
		time.Sleep(50 * time.Millisecond)
		pushFrames <- push.MessageProcessed("s1", "Recovered via push.")
	}()

	result, err := c.SendTurn(context.Background(), "s1", "go", pushFrames)
	if err != nil {
		t.Fatalf("send turn: %v", err)
	}
	if result.Source != SourcePush {
		t.Fatalf("expected push resolution, got %q", result.Source)
	}
	if result.Final != "Recovered via push." {
		t.Fatalf("final = %q", result.Final)
	}
}

func TestSendTurnIgnoresPushForOtherSessions(t *testing.T) {
	events := []stream.Event{stream.StatusUpdate("Working...")}
	transcript := []Message{{Role: "assistant", Content: "From the transcript."}}
	srv := newChatServer(t, events, transcript, nil)
	c := newConsumer(srv.mux)
	c.SilenceTimeout = 150 * time.Millisecond

	pushFrames := make(chan push.Frame, 1)
	pushFrames <- push.MessageProcessed("other-session", "Wrong turn.")

	result, err := c.SendTurn(context.Background(), "s1", "go", pushFrames)
	if err != nil {
		t.Fatalf("send turn: %v", err)
	}
	if result.Source != SourceFallback {
		t.Fatalf("foreign push frames must not resolve the turn, got %q", result.Source)
	}
	if result.Final != "From the transcript." {
		t.Fatalf("final = %q", result.Final)
	}
}

func TestSendTurnFallsBackToTranscript(t *testing.T) {
	events := []stream.Event{stream.StatusUpdate("Working...")}
	transcript := []Message{
		{Role: "user", Content: "go"},
		{Role: "assistant", Content: "Persisted answer."},
	}
	srv := newChatServer(t, events, transcript, nil)
	c := newConsumer(srv.mux)

	result, err := c.SendTurn(context.Background(), "s1", "go", nil)
	if err != nil {
		t.Fatalf("send turn: %v", err)
	}
	if result.Source != SourceFallback {
		t.Fatalf("expected fallback, got %q", result.Source)
	}
	if result.Final != "Persisted answer." {
		t.Fatalf("final = %q", result.Final)
	}
}

func TestSendTurnFallbackWithoutTranscript(t *testing.T) {
	events := []stream.Event{stream.StatusUpdate("Working...")}
	srv := newChatServer(t, events, []Message{}, nil)
	c := newConsumer(srv.mux)

	result, err := c.SendTurn(context.Background(), "s1", "go", nil)
	if err != nil {
		t.Fatalf("send turn: %v", err)
	}
	if result.Source != SourceFallback || result.Final != fallbackFailureText {
		t.Fatalf("expected the fixed failure text, got %+v", result)
	}
}

func TestSendTurnRejectsBadStatus(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/chat", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadRequest)
	})
	c := newConsumer(mux)

	if _, err := c.SendTurn(context.Background(), "s1", "go", nil); err == nil {
		t.Fatalf("expected error for a failed chat request")
	}
}
