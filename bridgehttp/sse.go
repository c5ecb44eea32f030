package bridgehttp

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ggoodman/mcp-stdio-bridge/internal/logctx"
)

// lockedWriteFlusher wraps an io.Writer + http.Flusher with a mutex and an optional context.
// It serializes concurrent writes/flushes and avoids writing after ctx is canceled.
type lockedWriteFlusher struct {
	io.Writer
	http.Flusher
	mu  sync.Mutex
	ctx context.Context
}

func (l *lockedWriteFlusher) Write(p []byte) (int, error) {
	if l.ctx != nil && l.ctx.Err() != nil {
		return 0, l.ctx.Err()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ctx != nil && l.ctx.Err() != nil {
		return 0, l.ctx.Err()
	}
	return l.Writer.Write(p)
}

func (l *lockedWriteFlusher) Flush() {
	if l.ctx != nil && l.ctx.Err() != nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Flusher.Flush()
}

// handleSSE subscribes the caller to every record read from the child.
func (h *Handler) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	// Streams are long-lived; lift any server write deadline for this one.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	hub := h.bridge.Hub()
	sub := hub.Subscribe()
	ctx := logctx.WithSubscriberData(r.Context(), &logctx.SubscriberData{SubscriberID: sub.ID()})

	hdr := w.Header()
	hdr.Set("Content-Type", "text/event-stream; charset=utf-8")
	hdr.Set("Cache-Control", "no-cache, no-transform")
	hdr.Set("Connection", "keep-alive")
	hdr.Set("X-Accel-Buffering", "no")
	hdr.Set("Keep-Alive", "timeout=120")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	start := time.Now()
	h.log.InfoContext(ctx, "sse.open", slog.Int("total", hub.Len()))

	wf := &lockedWriteFlusher{Writer: w, Flusher: flusher, ctx: ctx}
	err := hub.Stream(ctx, sub, wf, h.stream)

	attrs := []any{slog.Int("total", hub.Len()), slog.Duration("duration", time.Since(start))}
	if err != nil && ctx.Err() == nil {
		attrs = append(attrs, slog.String("err", err.Error()))
	}
	h.log.InfoContext(ctx, "sse.close", attrs...)
}
