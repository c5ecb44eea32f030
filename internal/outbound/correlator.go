package outbound

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/ggoodman/mcp-stdio-bridge/internal/jsonrpc"
)

var (
	// ErrDuplicateID indicates a waiter for the same request id is already pending.
	ErrDuplicateID = errors.New("request id already pending")
	// ErrResponseTimeout indicates no matching response arrived before the deadline.
	// Callers treat it as a degraded outcome ("consult the stream"), not a failure.
	ErrResponseTimeout = errors.New("response timeout")
	// ErrDispatcherClosed indicates the correlator or dispatcher is closed.
	ErrDispatcherClosed = errors.New("dispatcher closed")
	// ErrWriteFailed indicates a request could not be written to the child.
	ErrWriteFailed = errors.New("write to child stdin failed")
)

type outcome struct {
	msg *jsonrpc.AnyMessage
	err error
}

// Pending is a single outstanding correlated request. It resolves exactly
// once: whichever of a matching record, the deadline, context cancellation or
// Close removes it from the Correlator first decides the outcome.
type Pending struct {
	id string
	c  *Correlator
	ch chan outcome // capacity 1; only the remover sends
}

// ID returns the request id being awaited.
func (p *Pending) ID() string { return p.id }

// Wait blocks until the matching response arrives, timeout elapses (when
// positive) or ctx is done. It returns ErrResponseTimeout on deadline expiry.
// Wait must be called at most once.
func (p *Pending) Wait(ctx context.Context, timeout time.Duration) (*jsonrpc.AnyMessage, error) {
	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	select {
	case o := <-p.ch:
		return o.msg, o.err
	case <-timer:
		return p.abandon(ErrResponseTimeout)
	case <-ctx.Done():
		return p.abandon(ctx.Err())
	}
}

// Cancel releases the pending entry without waiting. A response arriving
// later is dropped like any unmatched record.
func (p *Pending) Cancel() { p.c.remove(p) }

func (p *Pending) abandon(err error) (*jsonrpc.AnyMessage, error) {
	if p.c.remove(p) {
		return nil, err
	}
	// A resolution won the race and is already buffered.
	o := <-p.ch
	return o.msg, o.err
}

// Correlator matches records observed on the child's output stream to callers
// waiting on a specific request id.
type Correlator struct {
	log *slog.Logger

	mu       sync.Mutex
	pending  map[string]*Pending
	closed   bool
	closeErr error
}

// CorrelatorOption configures a Correlator.
type CorrelatorOption func(*Correlator)

// WithCorrelatorLogger sets the logger. Defaults to a discard logger.
func WithCorrelatorLogger(l *slog.Logger) CorrelatorOption {
	return func(c *Correlator) {
		if l != nil {
			c.log = l
		}
	}
}

// NewCorrelator constructs an empty Correlator.
func NewCorrelator(opts ...CorrelatorOption) *Correlator {
	c := &Correlator{
		log:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		pending: make(map[string]*Pending),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register records interest in id. It must be called before the request is
// written so that a fast response cannot be missed. Registering an id that is
// still pending fails with ErrDuplicateID.
func (c *Correlator) Register(id string) (*Pending, error) {
	if id == "" {
		return nil, fmt.Errorf("register: empty request id")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, c.closeErr
	}
	if _, exists := c.pending[id]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateID, id)
	}
	p := &Pending{id: id, c: c, ch: make(chan outcome, 1)}
	c.pending[id] = p
	return p, nil
}

// Await registers id and waits for it. Use Register directly when the request
// has not been sent yet.
func (c *Correlator) Await(ctx context.Context, id string, timeout time.Duration) (*jsonrpc.AnyMessage, error) {
	p, err := c.Register(id)
	if err != nil {
		return nil, err
	}
	return p.Wait(ctx, timeout)
}

// OnRecord inspects one record from the child's output. Records that are not
// JSON-RPC envelopes, carry no string id, or match no waiter are ignored. It
// never fails: the same record is still broadcast verbatim elsewhere.
func (c *Correlator) OnRecord(record string) {
	var msg jsonrpc.AnyMessage
	if err := json.Unmarshal([]byte(record), &msg); err != nil {
		c.log.Debug("correlate.parse.fail", slog.String("err", err.Error()))
		return
	}
	id, ok := msg.ID.StringValue()
	if !ok {
		return
	}

	c.mu.Lock()
	p, found := c.pending[id]
	if found {
		delete(c.pending, id)
	}
	c.mu.Unlock()

	if found {
		p.ch <- outcome{msg: &msg}
		c.log.Debug("correlate.resolve", slog.String("id", id))
	}
}

// Len returns the number of outstanding waiters.
func (c *Correlator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Close fails every pending waiter with err (ErrDispatcherClosed when nil) and
// rejects further registrations.
func (c *Correlator) Close(err error) {
	if err == nil {
		err = ErrDispatcherClosed
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	c.closeErr = err
	for id, p := range c.pending {
		delete(c.pending, id)
		p.ch <- outcome{err: err}
	}
}

func (c *Correlator) remove(p *Pending) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.pending[p.id]; ok && cur == p {
		delete(c.pending, p.id)
		return true
	}
	return false
}
