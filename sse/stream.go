package sse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kbukum/discoverykit/logger"
)

// DefaultKeepAlive stays below the idle timeout of common proxies.
const DefaultKeepAlive = 30 * time.Second

// ErrStreamingUnsupported is returned by Open when the writer cannot flush.
var ErrStreamingUnsupported = errors.New("sse: streaming not supported")

// Stream is an open event stream on one response.
type Stream struct {
	w       http.ResponseWriter
	flusher http.Flusher
	log     *logger.Logger
}

// Open writes the SSE headers and the status line. It lifts the server
// write deadline, which would otherwise cut long-lived streams.
func Open(w http.ResponseWriter, log *logger.Logger) (*Stream, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return nil, ErrStreamingUnsupported
	}
	if log == nil {
		log = logger.Nop()
	}

	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		log.Warn("could not disable write deadline", logger.ErrorFields("sse_open", err))
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no") // nginx
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &Stream{w: w, flusher: flusher, log: log}, nil
}

// Send writes one event and flushes it.
func (s *Stream) Send(e Event) error {
	data, err := json.Marshal(e.Data)
	if err != nil {
		return fmt.Errorf("sse: encode %s: %w", e.Name, err)
	}
	var b strings.Builder
	if e.ID != "" {
		fmt.Fprintf(&b, "id: %s\n", e.ID)
	}
	if e.Name != "" {
		fmt.Fprintf(&b, "event: %s\n", e.Name)
	}
	fmt.Fprintf(&b, "data: %s\n\n", data)
	if _, err := fmt.Fprint(s.w, b.String()); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// KeepAlive writes a comment line.
func (s *Stream) KeepAlive() error {
	if _, err := fmt.Fprintf(s.w, ": keepalive %d\n\n", time.Now().Unix()); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// Pump sends every value received from events as a name event until ctx is
// done or events is closed. A closed channel ends the stream with an
// EventClosed frame. A keepAlive of zero uses DefaultKeepAlive.
func Pump[T any](ctx context.Context, s *Stream, name string, events <-chan T, keepAlive time.Duration) error {
	if keepAlive <= 0 {
		keepAlive = DefaultKeepAlive
	}
	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()

	var seq uint64
	for {
		select {
		case <-ctx.Done():
			s.log.Debug("sse client disconnected", logger.Fields("reason", ctx.Err().Error()))
			return nil
		case v, ok := <-events:
			if !ok {
				return s.Send(Event{Name: EventClosed, Data: struct{}{}})
			}
			seq++
			if err := s.Send(Event{Name: name, ID: fmt.Sprint(seq), Data: v}); err != nil {
				return err
			}
		case <-ticker.C:
			if err := s.KeepAlive(); err != nil {
				return err
			}
		}
	}
}
