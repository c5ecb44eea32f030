package broadcast

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

type bufferWriter struct {
	mu      sync.Mutex
	buf     bytes.Buffer
	flushes int
	failOn  string
}

func (w *bufferWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failOn != "" && strings.Contains(string(p), w.failOn) {
		return 0, errors.New("connection reset")
	}
	return w.buf.Write(p)
}

func (w *bufferWriter) Flush() {
	w.mu.Lock()
	w.flushes++
	w.mu.Unlock()
}

func (w *bufferWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.String()
}

func waitFor(t *testing.T, w *bufferWriter, substr string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !strings.Contains(w.String(), substr) {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %q in %q", substr, w.String())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStream_HandshakeThenRecords(t *testing.T) {
	t.Parallel()

	h := NewHub()
	sub := h.Subscribe()
	// Published before the stream starts writing: must follow the handshake.
	h.Publish(`{"jsonrpc":"2.0","method":"early"}`)

	ctx, cancel := context.WithCancel(context.Background())
	w := &bufferWriter{}
	done := make(chan error, 1)
	go func() { done <- h.Stream(ctx, sub, w, StreamOptions{KeepAlive: time.Hour}) }()

	waitFor(t, w, "early")
	h.Publish(`{"jsonrpc":"2.0","id":"a","result":{}}`)
	waitFor(t, w, `"id":"a"`)

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("stream: %v", err)
	}

	want := "retry: 3000\n\n" +
		"event: ready\ndata: {\"ok\":true}\n\n" +
		"data: {\"jsonrpc\":\"2.0\",\"method\":\"early\"}\n\n" +
		"data: {\"jsonrpc\":\"2.0\",\"id\":\"a\",\"result\":{}}\n\n"
	if got := w.String(); got != want {
		t.Fatalf("unexpected stream:\n%q\nwant\n%q", got, want)
	}
	if h.Len() != 0 {
		t.Fatalf("stream must unsubscribe on exit")
	}
}

func TestStream_KeepAlive(t *testing.T) {
	t.Parallel()

	h := NewHub()
	sub := h.Subscribe()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := &bufferWriter{}
	now := func() time.Time { return time.UnixMilli(1700000000000) }
	go func() { _ = h.Stream(ctx, sub, w, StreamOptions{KeepAlive: 10 * time.Millisecond, Now: now}) }()

	waitFor(t, w, ": keep-alive 1700000000000\n\n")
}

func TestStream_WriteFailureUnsubscribes(t *testing.T) {
	t.Parallel()

	h := NewHub()
	sub := h.Subscribe()
	other := h.Subscribe()

	w := &bufferWriter{failOn: "boom"}
	done := make(chan error, 1)
	go func() { done <- h.Stream(context.Background(), sub, w, StreamOptions{KeepAlive: time.Hour}) }()

	waitFor(t, w, "event: ready")
	h.Publish("boom")

	select {
	case err := <-done:
		if err == nil {
			t.Fatalf("expected write error")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("stream did not exit on write failure")
	}
	if h.Len() != 1 {
		t.Fatalf("expected only the healthy subscriber left, got %d", h.Len())
	}
	if recv(t, other) != "boom" {
		t.Fatalf("healthy subscriber missed the record")
	}
}

func TestStream_ExitsWhenDropped(t *testing.T) {
	t.Parallel()

	h := NewHub()
	sub := h.Subscribe()
	w := &bufferWriter{}
	done := make(chan error, 1)
	go func() { done <- h.Stream(context.Background(), sub, w, StreamOptions{KeepAlive: time.Hour}) }()

	h.Unsubscribe(sub.ID())
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("stream did not exit after unsubscribe")
	}
}
