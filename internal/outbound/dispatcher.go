// Package outbound writes JSON-RPC requests to the child's input stream and
// correlates the asynchronous responses observed on its output stream.
package outbound

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/ggoodman/mcp-stdio-bridge/internal/jsonrpc"
	"github.com/oklog/ulid/v2"
)

// Dispatcher serializes outgoing envelopes onto the child's stdin, one per
// line. Writes are serialized by a mutex so concurrent HTTP handlers never
// interleave partial lines.
type Dispatcher struct {
	log  *slog.Logger
	corr *Correlator

	mu     sync.Mutex
	w      io.Writer
	closed bool
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger. Defaults to a discard logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.log = l
		}
	}
}

// NewDispatcher constructs a Dispatcher writing to w and registering
// correlated calls with corr.
func NewDispatcher(w io.Writer, corr *Correlator, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		log:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		corr: corr,
		w:    w,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// NewID returns a fresh request id of the form "<prefix>-<ulid>". ULIDs are
// monotonic within the process, so ids never repeat.
func NewID(prefix string) string {
	return prefix + "-" + ulid.Make().String()
}

// Send writes a request with a freshly generated id and returns that id. No
// waiter is registered; use Call when the answer is needed.
func (d *Dispatcher) Send(ctx context.Context, prefix, method string, params any) (string, error) {
	id := NewID(prefix)
	req, err := jsonrpc.NewRequest(jsonrpc.NewRequestID(id), method, params)
	if err != nil {
		return "", err
	}
	if err := d.writeJSON(ctx, req); err != nil {
		return "", err
	}
	return id, nil
}

// Notify writes a notification (no id).
func (d *Dispatcher) Notify(ctx context.Context, method string, params any) error {
	req, err := jsonrpc.NewRequest(nil, method, params)
	if err != nil {
		return err
	}
	return d.writeJSON(ctx, req)
}

// Call registers a waiter, writes the request and waits up to timeout for the
// matching response. The generated id is returned in every case so callers
// can point clients at the stream after ErrResponseTimeout.
func (d *Dispatcher) Call(ctx context.Context, prefix, method string, params any, timeout time.Duration) (string, *jsonrpc.AnyMessage, error) {
	id := NewID(prefix)
	req, err := jsonrpc.NewRequest(jsonrpc.NewRequestID(id), method, params)
	if err != nil {
		return id, nil, err
	}

	p, err := d.corr.Register(id)
	if err != nil {
		return id, nil, err
	}
	if err := d.writeJSON(ctx, req); err != nil {
		p.Cancel()
		return id, nil, err
	}

	msg, err := p.Wait(ctx, timeout)
	return id, msg, err
}

// SendRaw writes a caller-supplied, already validated envelope. The envelope
// is compacted onto a single line; no waiter is registered, the answer reaches
// clients only through the broadcast stream.
func (d *Dispatcher) SendRaw(ctx context.Context, envelope json.RawMessage) error {
	var buf bytes.Buffer
	if err := json.Compact(&buf, envelope); err != nil {
		return fmt.Errorf("compact envelope: %w", err)
	}
	return d.writeLine(ctx, buf.Bytes())
}

// Close stops further writes and fails all pending waiters with err.
func (d *Dispatcher) Close(err error) {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.corr.Close(err)
}

func (d *Dispatcher) writeJSON(ctx context.Context, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	return d.writeLine(ctx, b)
}

func (d *Dispatcher) writeLine(ctx context.Context, line []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	framed := make([]byte, len(line)+1)
	copy(framed, line)
	framed[len(line)] = '\n'

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrDispatcherClosed
	}
	if _, err := d.w.Write(framed); err != nil {
		d.log.ErrorContext(ctx, "stdin.write.fail", slog.String("err", err.Error()))
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	d.log.DebugContext(ctx, "mcp.in", slog.String("line", string(line)))
	return nil
}
