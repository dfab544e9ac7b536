package client

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/coder/websocket"

	"github.com/flitsinc/datalab/internal/push"
)

// DialPush opens the secondary websocket channel for a session and decodes
// incoming frames. The returned stop function closes the connection; the
// channel closes when the connection does.
func DialPush(ctx context.Context, baseURL, sessionID string) (<-chan push.Frame, func(), error) {
	wsURL := strings.Replace(baseURL, "http", "ws", 1) + "/api/ws?session_id=" + sessionID
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return nil, nil, err
	}

	frames := make(chan push.Frame)
	dialCtx, cancel := context.WithCancel(ctx)
	go func() {
		defer close(frames)
		for {
			_, data, err := conn.Read(dialCtx)
			if err != nil {
				return
			}
			var frame push.Frame
			if err := json.Unmarshal(data, &frame); err != nil {
				continue
			}
			select {
			case frames <- frame:
			case <-dialCtx.Done():
				return
			}
		}
	}()

	stop := func() {
		cancel()
		_ = conn.Close(websocket.StatusNormalClosure, "done")
	}
	return frames, stop, nil
}
