package events

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
)

// ErrClientGone is returned once the stream can no longer be written.
var ErrClientGone = errors.New("sse client disconnected")

// SSEWriter serializes events as "data: {json}\n\n" frames.
type SSEWriter struct {
	mu      sync.Mutex
	w       io.Writer
	flusher http.Flusher
	gone    bool
}

// NewSSEWriter writes the stream headers.
func NewSSEWriter(w http.ResponseWriter) (*SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming unsupported")
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &SSEWriter{w: w, flusher: flusher}, nil
}

// Publish implements Sink.
func (s *SSEWriter) Publish(_ context.Context, ev Event) error {
	return s.Send(ev)
}

// Send writes one frame and flushes it.
func (s *SSEWriter) Send(ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gone {
		return ErrClientGone
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		s.gone = true
		return ErrClientGone
	}
	s.flusher.Flush()
	return nil
}

// Gone reports whether a write has failed.
func (s *SSEWriter) Gone() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gone
}

// ReadStream parses an SSE body and calls fn for every data frame until EOF,
// a terminal event, or an error from fn.
func ReadStream(r io.Reader, fn func(Event) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	var data strings.Builder
	dispatch := func() (bool, error) {
		if data.Len() == 0 {
			return false, nil
		}
		var ev Event
		err := json.Unmarshal([]byte(data.String()), &ev)
		data.Reset()
		if err != nil {
			return false, fmt.Errorf("invalid event payload: %w", err)
		}
		if err := fn(ev); err != nil {
			return false, err
		}
		return ev.Type.Terminal(), nil
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			done, err := dispatch()
			if err != nil || done {
				return err
			}
		case strings.HasPrefix(line, ":"):
			// comment / keep-alive
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	_, err := dispatch()
	return err
}
