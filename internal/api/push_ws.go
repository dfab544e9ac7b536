package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/coder/websocket"

	"github.com/flitsinc/datalab/internal/push"
)

type wsWriter interface {
	Write(ctx context.Context, msgType websocket.MessageType, data []byte) error
}

// handlePushWS is the secondary delivery channel: every processed turn for
// the subscribed session is pushed as a message_processed frame, so clients
// recover the result even when the chat stream dies mid-turn.
func (s *Server) handlePushWS(w http.ResponseWriter, r *http.Request) {
	if s.Hub == nil {
		writeError(w, http.StatusInternalServerError, errNotFound("push hub"))
		return
	}
	sessionID := r.URL.Query().Get("session_id")

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusInternalError, "closed")

	ctx := r.Context()
	if err := pushFrames(ctx, s.Hub, sessionID, conn); err != nil {
		_ = conn.Close(websocket.StatusInternalError, "push error")
		return
	}
	_ = conn.Close(websocket.StatusNormalClosure, "done")
}

func pushFrames(ctx context.Context, hub *push.Hub, sessionID string, writer wsWriter) error {
	sub := hub.Subscribe(ctx, sessionID)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame, ok := <-sub:
			if !ok {
				return nil
			}
			payload, err := json.Marshal(frame)
			if err != nil {
				return err
			}
			if err := writer.Write(ctx, websocket.MessageText, payload); err != nil {
				return err
			}
		}
	}
}
