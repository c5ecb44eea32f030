package broadcast

import (
	"context"
	"fmt"
	"io"
	"time"
)

// DefaultKeepAlive is the idle comment interval for stream subscribers.
const DefaultKeepAlive = 15 * time.Second

// RetryMillis is the reconnect hint sent to every new stream.
const RetryMillis = 3000

// EventWriter is the sink for one SSE stream. Flush pushes buffered bytes to
// the client.
type EventWriter interface {
	io.Writer
	Flush()
}

// StreamOptions tunes Stream.
type StreamOptions struct {
	KeepAlive time.Duration
	// Now is used for keep-alive timestamps. Defaults to time.Now.
	Now func() time.Time
}

// Stream serves sub over w until ctx ends, the subscription is removed or a
// write fails. It always unsubscribes before returning.
//
// The first bytes on the wire are the retry hint and a ready event, ahead of
// any published record.
func (h *Hub) Stream(ctx context.Context, sub *Subscription, w EventWriter, opts StreamOptions) error {
	defer h.Unsubscribe(sub.ID())

	if opts.KeepAlive <= 0 {
		opts.KeepAlive = DefaultKeepAlive
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	if err := WriteHandshake(w); err != nil {
		return err
	}

	ticker := time.NewTicker(opts.KeepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sub.Done():
			return nil
		case rec := <-sub.C():
			if err := WriteData(w, rec); err != nil {
				return err
			}
		case <-ticker.C:
			if _, err := fmt.Fprintf(w, ": keep-alive %d\n\n", opts.Now().UnixMilli()); err != nil {
				return fmt.Errorf("failed to write SSE keep-alive: %w", err)
			}
			w.Flush()
		}
	}
}

// WriteHandshake writes the retry hint and the ready event.
func WriteHandshake(w EventWriter) error {
	if _, err := fmt.Fprintf(w, "retry: %d\n\n", RetryMillis); err != nil {
		return fmt.Errorf("failed to write SSE retry hint: %w", err)
	}
	if _, err := io.WriteString(w, "event: ready\ndata: {\"ok\":true}\n\n"); err != nil {
		return fmt.Errorf("failed to write SSE ready event: %w", err)
	}
	w.Flush()
	return nil
}

// WriteData writes one record as a data frame. Records never contain a
// newline since they come out of the line framer.
func WriteData(w EventWriter, record string) error {
	if _, err := io.WriteString(w, "data: "); err != nil {
		return fmt.Errorf("failed to write SSE data prefix: %w", err)
	}
	if _, err := io.WriteString(w, record); err != nil {
		return fmt.Errorf("failed to write SSE payload: %w", err)
	}
	if _, err := io.WriteString(w, "\n\n"); err != nil {
		return fmt.Errorf("failed to write SSE frame terminator: %w", err)
	}
	w.Flush()
	return nil
}
