// Package bridgehttp serves the HTTP surface of a bridge: the SSE stream,
// the JSON-RPC invoke endpoint, the REST tool convenience layer and the
// static discovery documents.
package bridgehttp

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/google/uuid"

	bridge "github.com/ggoodman/mcp-stdio-bridge"
	"github.com/ggoodman/mcp-stdio-bridge/auth"
	"github.com/ggoodman/mcp-stdio-bridge/broadcast"
	"github.com/ggoodman/mcp-stdio-bridge/internal/jsonrpc"
	"github.com/ggoodman/mcp-stdio-bridge/internal/logctx"
	"github.com/ggoodman/mcp-stdio-bridge/internal/toolcache"
)

const (
	DefaultServerName    = "supabase-mcp-bridge"
	DefaultServerVersion = "1.0.0"
	DefaultDescription   = "Supabase MCP Server - Database operations and management"

	DefaultToolsListTimeout = 5 * time.Second
	DefaultToolCallTimeout  = 8 * time.Second

	// maxBodyBytes matches the 10mb body limit of the REST layer.
	maxBodyBytes = 10 << 20

	streamHint = "Check SSE stream for response"
)

var (
	jsonMediaType = contenttype.NewMediaType("application/json")
	formMediaType = contenttype.NewMediaType("application/x-www-form-urlencoded")
)

const jsonContentType = "application/json; charset=utf-8"

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", jsonContentType)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}

// writeRPCError answers with a JSON-RPC error envelope. These are protocol
// level failures and always use HTTP 200.
func writeRPCError(w http.ResponseWriter, resp *jsonrpc.Response) {
	writeJSON(w, http.StatusOK, resp)
}

// Option configures the Handler.
type Option func(*newConfig)

type newConfig struct {
	logger      *slog.Logger
	auth        auth.Authenticator
	tools       *toolcache.Cache
	listTimeout time.Duration
	callTimeout time.Duration
	keepAlive   time.Duration
	rateLimit   float64
	rateBurst   int
	serverName  string
	now         func() time.Time
}

// WithLogger sets the logger. If not provided, logs are discarded.
func WithLogger(l *slog.Logger) Option {
	return func(c *newConfig) { c.logger = l }
}

// WithAuthenticator requires a bearer token accepted by a on every request
// other than CORS preflights and HEAD probes.
func WithAuthenticator(a auth.Authenticator) Option {
	return func(c *newConfig) { c.auth = a }
}

// WithToolCache sets the fallback tool list served when the child does not
// answer tools/list in time.
func WithToolCache(tc *toolcache.Cache) Option {
	return func(c *newConfig) { c.tools = tc }
}

// WithTimeouts sets the correlation timeouts of the tool list and tool call
// endpoints. Zero values keep the defaults.
func WithTimeouts(list, call time.Duration) Option {
	return func(c *newConfig) {
		if list > 0 {
			c.listTimeout = list
		}
		if call > 0 {
			c.callTimeout = call
		}
	}
}

// WithKeepAlive sets the SSE keep-alive interval.
func WithKeepAlive(d time.Duration) Option {
	return func(c *newConfig) { c.keepAlive = d }
}

// WithRateLimit limits each client to perSecond requests on /api, with the
// given burst. A zero rate disables limiting.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *newConfig) { c.rateLimit, c.rateBurst = perSecond, burst }
}

// WithServerName sets the name advertised in handshake documents and the
// X-MCP-Server-Name header.
func WithServerName(name string) Option {
	return func(c *newConfig) {
		if name != "" {
			c.serverName = name
		}
	}
}

// WithClock overrides time.Now for status timestamps and SSE keep-alives.
func WithClock(now func() time.Time) Option {
	return func(c *newConfig) { c.now = now }
}

// Handler implements http.Handler for a single bridge.
type Handler struct {
	mux  *http.ServeMux
	root http.Handler
	log  *slog.Logger

	bridge      *bridge.Bridge
	auth        auth.Authenticator
	tools       *toolcache.Cache
	limiter     *clientLimiter
	listTimeout time.Duration
	callTimeout time.Duration
	stream      broadcast.StreamOptions
	serverName  string
	now         func() time.Time
}

// New builds the HTTP surface for b.
func New(b *bridge.Bridge, opts ...Option) (*Handler, error) {
	cfg := &newConfig{
		listTimeout: DefaultToolsListTimeout,
		callTimeout: DefaultToolCallTimeout,
		keepAlive:   broadcast.DefaultKeepAlive,
		serverName:  DefaultServerName,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.tools == nil {
		tc, err := toolcache.New(toolcache.WithLogger(cfg.logger))
		if err != nil {
			return nil, err
		}
		cfg.tools = tc
	}

	loggerWithContextHandler := slog.New(logctx.Handler{Handler: cfg.logger.Handler()})

	h := &Handler{
		mux:         http.NewServeMux(),
		log:         loggerWithContextHandler,
		bridge:      b,
		auth:        cfg.auth,
		tools:       cfg.tools,
		listTimeout: cfg.listTimeout,
		callTimeout: cfg.callTimeout,
		stream:      broadcast.StreamOptions{KeepAlive: cfg.keepAlive, Now: cfg.now},
		serverName:  cfg.serverName,
		now:         cfg.now,
	}
	if cfg.rateLimit > 0 {
		h.limiter = newClientLimiter(cfg.rateLimit, cfg.rateBurst)
	}

	for _, p := range []string{"/{$}", "/handshake", "/mcp/handshake", "/.well-known/mcp"} {
		h.mux.HandleFunc("GET "+p, h.handleHandshake)
	}
	h.mux.HandleFunc("POST /mcp/handshake", h.handleHandshake)
	for _, p := range []string{"/{$}", "/handshake", "/.well-known/mcp", "/mcp/sse"} {
		for _, m := range []string{"POST", "PUT", "PATCH", "DELETE"} {
			h.mux.HandleFunc(m+" "+p, h.handleMethodNotFound)
		}
	}

	for _, p := range []string{"/favicon.ico", "/favicon.png", "/favicon.svg"} {
		h.mux.HandleFunc("GET "+p, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})
	}
	h.mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})
	h.mux.HandleFunc("GET /mcp", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "where": "mcp"})
	})

	h.mux.HandleFunc("GET /mcp/sse", h.handleSSE)
	h.mux.HandleFunc("POST /mcp/invoke", h.handleInvoke)
	h.mux.HandleFunc("GET /mcp/test/tools", h.handleTestTools)

	h.mux.Handle("GET /api/tools", h.rateLimited(http.HandlerFunc(h.handleListTools)))
	h.mux.Handle("POST /api/tools/{toolName}", h.rateLimited(http.HandlerFunc(h.handleCallTool)))
	h.mux.Handle("GET /api/capabilities", h.rateLimited(http.HandlerFunc(h.handleCapabilities)))
	h.mux.Handle("GET /api/status", h.rateLimited(http.HandlerFunc(h.handleStatus)))

	if m := b.Metrics(); m != nil {
		h.mux.Handle("GET /metrics", m.Handler())
	}

	h.root = h.recoverer(h.accessLog(h.cors(h.authenticate(h.mux))))
	return h, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.root.ServeHTTP(w, r.WithContext(logctx.WithRequestData(r.Context(), &logctx.RequestData{
		RequestID:  uuid.NewString(),
		Method:     r.Method,
		UserAgent:  r.UserAgent(),
		RemoteAddr: r.RemoteAddr,
		Path:       r.URL.Path,
	})))
}

func (h *Handler) handleMethodNotFound(w http.ResponseWriter, _ *http.Request) {
	writeRPCError(w, jsonrpc.NewErrorResponse(nil, jsonrpc.ErrorCodeMethodNotFound, ""))
}
