// Package bridge connects a child process speaking line-delimited JSON-RPC
// on stdin/stdout to any number of HTTP stream subscribers.
//
// Every record read from the child is handed, in arrival order and one at a
// time, first to the broadcast hub and then to the response correlator. The
// same record therefore reaches every subscriber and may also resolve a
// correlated REST call.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/ggoodman/mcp-stdio-bridge/broadcast"
	"github.com/ggoodman/mcp-stdio-bridge/internal/framer"
	"github.com/ggoodman/mcp-stdio-bridge/internal/jsonrpc"
	"github.com/ggoodman/mcp-stdio-bridge/internal/metrics"
	"github.com/ggoodman/mcp-stdio-bridge/internal/outbound"
)

// ProtocolVersion is the MCP protocol revision advertised by the bridge.
const ProtocolVersion = "2024-11-05"

// ErrChildOutputClosed is delivered to pending requests once the child's
// output stream ends.
var ErrChildOutputClosed = errors.New("child output closed")

// Mirror receives a copy of every record, for example to republish it to
// other processes.
type Mirror interface {
	Publish(record string)
}

// Bridge owns the shared state between the child process and HTTP handlers.
type Bridge struct {
	log     *slog.Logger
	debug   bool
	hubOpts []broadcast.Option
	mirror  Mirror
	metrics *metrics.Metrics

	hub  *broadcast.Hub
	corr *outbound.Correlator
	disp *outbound.Dispatcher
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(b *Bridge) {
		if l != nil {
			b.log = l
		}
	}
}

// WithDebug logs every record in both directions.
func WithDebug(debug bool) Option {
	return func(b *Bridge) { b.debug = debug }
}

// WithHubOptions forwards options to the broadcast hub.
func WithHubOptions(opts ...broadcast.Option) Option {
	return func(b *Bridge) { b.hubOpts = append(b.hubOpts, opts...) }
}

// WithMirror copies every record to m after local delivery.
func WithMirror(m Mirror) Option {
	return func(b *Bridge) { b.mirror = m }
}

// WithMetrics enables Prometheus collectors sampling this bridge.
func WithMetrics() Option {
	return func(b *Bridge) { b.metrics = metrics.New(b) }
}

// New constructs a Bridge writing requests to stdin. Call Run with the
// child's stdout to start processing records.
func New(stdin io.Writer, opts ...Option) *Bridge {
	b := &Bridge{log: slog.Default()}
	for _, opt := range opts {
		opt(b)
	}

	hubOpts := append([]broadcast.Option{
		broadcast.WithLogger(b.log),
		broadcast.WithDropHook(func(string) { b.metrics.SubscriberDropped() }),
	}, b.hubOpts...)
	b.hub = broadcast.NewHub(hubOpts...)

	b.corr = outbound.NewCorrelator(outbound.WithCorrelatorLogger(b.log))
	b.disp = outbound.NewDispatcher(stdin, b.corr, outbound.WithLogger(b.debugLogger()))
	return b
}

// debugLogger returns the logger used for per-record traffic. Without debug
// mode those records are discarded.
func (b *Bridge) debugLogger() *slog.Logger {
	if b.debug {
		return b.log
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func (b *Bridge) Hub() *broadcast.Hub { return b.hub }
func (b *Bridge) Correlator() *outbound.Correlator { return b.corr }
func (b *Bridge) Dispatcher() *outbound.Dispatcher { return b.disp }
func (b *Bridge) Metrics() *metrics.Metrics { return b.metrics }
func (b *Bridge) Subscribers() int { return b.hub.Len() }
func (b *Bridge) Pending() int { return b.corr.Len() }

// HandleRecord processes one record from the child: broadcast first, then
// correlation, then the mirror.
func (b *Bridge) HandleRecord(record string) {
	if b.debug {
		b.log.Debug("mcp.out", slog.String("line", record))
	}
	b.hub.Publish(record)
	b.corr.OnRecord(record)
	if b.mirror != nil {
		b.mirror.Publish(record)
	}
	b.metrics.RecordRead()
}

// Run reads records from stdout until EOF, a read error or ctx is done.
// Pending requests are failed and subscribers released on return.
func (b *Bridge) Run(ctx context.Context, stdout io.Reader) error {
	err := framer.Pump(ctx, stdout, b.HandleRecord)

	closeErr := ErrChildOutputClosed
	if err != nil {
		closeErr = fmt.Errorf("%w: %v", ErrChildOutputClosed, err)
	}
	b.disp.Close(closeErr)
	b.hub.Close()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Call sends method to the child and waits for the matching response,
// counting a timeout in metrics. See outbound.Dispatcher.Call.
func (b *Bridge) Call(ctx context.Context, prefix, method string, params any, timeout time.Duration) (string, *jsonrpc.AnyMessage, error) {
	id, msg, err := b.disp.Call(ctx, prefix, method, params, timeout)
	if errors.Is(err, outbound.ErrResponseTimeout) {
		b.metrics.CorrelationTimeout(method)
		b.log.WarnContext(ctx, "correlate.timeout", slog.String("id", id), slog.String("method", method))
	}
	return id, msg, err
}

// ClientInfo identifies the bridge in the initialize exchange.
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Initialize performs the MCP initialize request and the initialized
// notification. Run must already be consuming the child's output.
func (b *Bridge) Initialize(ctx context.Context, info ClientInfo, timeout time.Duration) error {
	params := map[string]any{
		"protocolVersion": ProtocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo":      info,
	}
	_, msg, err := b.Call(ctx, "init", "initialize", params, timeout)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	if msg.Error != nil {
		return fmt.Errorf("initialize: %s (code %d)", msg.Error.Message, msg.Error.Code)
	}
	if err := b.disp.Notify(ctx, "notifications/initialized", nil); err != nil {
		return fmt.Errorf("initialized notification: %w", err)
	}
	b.log.InfoContext(ctx, "child.initialized")
	return nil
}
