package sse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

type noFlushWriter struct {
	header http.Header
	code   int
}

func (w *noFlushWriter) Header() http.Header         { return w.header }
func (w *noFlushWriter) Write(b []byte) (int, error) { return len(b), nil }
func (w *noFlushWriter) WriteHeader(code int)        { w.code = code }

func TestOpen_Headers(t *testing.T) {
	rr := httptest.NewRecorder()
	if _, err := Open(rr, nil); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if rr.Code != http.StatusOK {
		t.Errorf("status = %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}
	if !rr.Flushed {
		t.Error("headers not flushed")
	}
}

func TestOpen_RequiresFlusher(t *testing.T) {
	w := &noFlushWriter{header: http.Header{}}
	if _, err := Open(w, nil); err != ErrStreamingUnsupported {
		t.Fatalf("Open = %v, want ErrStreamingUnsupported", err)
	}
	if w.code != http.StatusInternalServerError {
		t.Errorf("status = %d", w.code)
	}
}

func TestSend_Format(t *testing.T) {
	tests := []struct {
		name  string
		event Event
		want  string
	}{
		{"named with id", Event{Name: "update", ID: "3", Data: []string{"a"}}, "id: 3\nevent: update\ndata: [\"a\"]\n\n"},
		{"data only", Event{Data: map[string]int{"n": 1}}, "data: {\"n\":1}\n\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			s, _ := Open(rr, nil)
			if err := s.Send(tt.event); err != nil {
				t.Fatal(err)
			}
			if got := rr.Body.String(); got != tt.want {
				t.Errorf("body = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSend_EncodeError(t *testing.T) {
	s, _ := Open(httptest.NewRecorder(), nil)
	if err := s.Send(Event{Data: make(chan int)}); err == nil {
		t.Fatal("want encode error")
	}
}

func TestPump_UntilClosed(t *testing.T) {
	rr := httptest.NewRecorder()
	s, _ := Open(rr, nil)
	events := make(chan int, 2)
	events <- 1
	events <- 2
	close(events)

	if err := Pump(context.Background(), s, EventUpdate, events, time.Hour); err != nil {
		t.Fatal(err)
	}
	want := "id: 1\nevent: update\ndata: 1\n\n" +
		"id: 2\nevent: update\ndata: 2\n\n" +
		"event: closed\ndata: {}\n\n"
	if got := rr.Body.String(); got != want {
		t.Errorf("body = %q, want %q", got, want)
	}
}

func TestPump_KeepAliveAndCancel(t *testing.T) {
	rr := httptest.NewRecorder()
	s, _ := Open(rr, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := Pump(ctx, s, EventUpdate, make(chan int), 5*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(rr.Body.String(), ": keepalive ") {
		t.Errorf("body = %q, want keep-alive comments", rr.Body.String())
	}
}
