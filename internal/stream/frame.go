package stream

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

const framePrefix = "event:"

// WriteFrame serializes one event as an `event:<JSON>` frame terminated by
// a blank line.
func WriteFrame(w io.Writer, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if _, err := fmt.Fprintf(w, "%s%s\n\n", framePrefix, payload); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// FrameReader incrementally decodes frames from a chunked response body.
type FrameReader struct {
	r   *bufio.Reader
	buf bytes.Buffer
}

func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{r: bufio.NewReader(r)}
}

// Next blocks until a complete frame is buffered and returns its event.
// It returns io.EOF once the stream ends with no pending frame.
func (fr *FrameReader) Next() (Event, error) {
	for {
		for {
			data := fr.buf.Bytes()
			idx := bytes.Index(data, []byte("\n\n"))
			if idx < 0 {
				break
			}
			raw := string(data[:idx])
			fr.buf.Next(idx + 2)
			ev, ok, err := decodeFrame(raw)
			if err != nil {
				return Event{}, err
			}
			if ok {
				return ev, nil
			}
		}
		chunk := make([]byte, 512)
		n, err := fr.r.Read(chunk)
		if n > 0 {
			fr.buf.Write(chunk[:n])
			continue
		}
		if err != nil {
			// A final frame may still be buffered without its trailing
			// blank line if the writer closed right after it.
			if ev, ok, decodeErr := fr.decodeRemainder(); ok || decodeErr != nil {
				return ev, decodeErr
			}
			return Event{}, err
		}
	}
}

func (fr *FrameReader) decodeRemainder() (Event, bool, error) {
	raw := strings.TrimSpace(fr.buf.String())
	fr.buf.Reset()
	if raw == "" {
		return Event{}, false, nil
	}
	return decodeFrame(raw)
}

func decodeFrame(raw string) (Event, bool, error) {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, framePrefix) {
		// Unknown frame kinds (comments, keepalives) are skipped.
		return Event{}, false, nil
	}
	payload := strings.TrimSpace(strings.TrimPrefix(raw, framePrefix))
	if payload == "" {
		return Event{}, false, nil
	}
	var ev Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return Event{}, false, fmt.Errorf("decode frame: %w", err)
	}
	return ev, true, nil
}
