package bridgehttp

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	bridge "github.com/ggoodman/mcp-stdio-bridge"
	"github.com/ggoodman/mcp-stdio-bridge/auth"
)

const (
	corsAllowHeaders = "Content-Type, Authorization, Accept, X-Requested-With, Cache-Control"
	corsAllowMethods = "GET, POST, OPTIONS, HEAD, PUT, PATCH, DELETE"
)

// statusRecorder captures the status code for the access log while still
// exposing http.Flusher to the SSE handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(p []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	return s.ResponseWriter.Write(p)
}

func (s *statusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *statusRecorder) Unwrap() http.ResponseWriter { return s.ResponseWriter }

func (h *Handler) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				if v == http.ErrAbortHandler {
					panic(v)
				}
				h.log.ErrorContext(r.Context(), "http.panic", slog.Any("panic", v), slog.String("stack", string(debug.Stack())))
				writeJSONError(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// accessLog logs one line per request and counts it by route pattern.
func (h *Handler) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)

		if rec.status == 0 {
			rec.status = http.StatusOK
		}
		_, route := h.mux.Handler(r)
		if route == "" {
			route = "unmatched"
		}
		h.bridge.Metrics().HTTPRequest(route, rec.status)
		h.log.InfoContext(r.Context(), "http.request",
			slog.Int("status", rec.status),
			slog.String("route", route),
			slog.Duration("duration", time.Since(start)),
		)
	})
}

// cors sets permissive CORS headers on every response and answers
// preflights and HEAD probes without reaching the routes.
func (h *Handler) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hdr := w.Header()
		hdr.Set("Access-Control-Allow-Origin", "*")
		hdr.Set("Access-Control-Allow-Headers", corsAllowHeaders)
		hdr.Set("Access-Control-Allow-Methods", corsAllowMethods)
		hdr.Set("Access-Control-Allow-Credentials", "false")
		hdr.Set("Access-Control-Max-Age", "86400")

		switch r.Method {
		case http.MethodOptions:
			w.WriteHeader(http.StatusNoContent)
			return
		case http.MethodHead:
			h.setMCPHeaders(hdr)
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) setMCPHeaders(hdr http.Header) {
	hdr.Set("Content-Type", jsonContentType)
	hdr.Set("X-MCP-Protocol-Version", bridge.ProtocolVersion)
	hdr.Set("X-MCP-Server-Name", h.serverName)
}

func (h *Handler) authenticate(next http.Handler) http.Handler {
	if h.auth == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		ui, err := h.auth.CheckAuthentication(ctx, auth.BearerToken(r))
		if err != nil {
			if !errors.Is(err, auth.ErrUnauthorized) {
				h.log.ErrorContext(ctx, "auth.check.fail", slog.String("err", err.Error()))
			} else {
				h.log.InfoContext(ctx, "auth.check.rejected", slog.String("err", err.Error()))
			}
			w.Header().Set("WWW-Authenticate", auth.Challenge)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		h.log.DebugContext(ctx, "auth.check.ok", slog.String("user", ui.UserID()))
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) rateLimited(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.limiter != nil {
			ip := clientIP(r)
			if !h.limiter.allow(ip, h.now()) {
				h.log.WarnContext(r.Context(), "http.rate_limited", slog.String("client", ip))
				w.Header().Set("Retry-After", "1")
				writeJSONError(w, http.StatusTooManyRequests, "too many requests")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP trusts exactly one proxy hop: the last X-Forwarded-For entry was
// appended by that proxy and names the client.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		if ip := strings.TrimSpace(parts[len(parts)-1]); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// requestScheme honours X-Forwarded-Proto from the one trusted hop.
func requestScheme(r *http.Request) string {
	if p := r.Header.Get("X-Forwarded-Proto"); p != "" {
		parts := strings.Split(p, ",")
		return strings.TrimSpace(parts[len(parts)-1])
	}
	if r.TLS != nil {
		return "https"
	}
	return "http"
}

const (
	limiterIdle     = 10 * time.Minute
	limiterSweepLen = 1024
)

type limiterEntry struct {
	lim  *rate.Limiter
	seen time.Time
}

// clientLimiter keeps one token bucket per client address.
type clientLimiter struct {
	limit rate.Limit
	burst int

	mu      sync.Mutex
	clients map[string]*limiterEntry
}

func newClientLimiter(perSecond float64, burst int) *clientLimiter {
	if burst <= 0 {
		burst = int(perSecond)
		if burst < 1 {
			burst = 1
		}
	}
	return &clientLimiter{
		limit:   rate.Limit(perSecond),
		burst:   burst,
		clients: make(map[string]*limiterEntry),
	}
}

func (l *clientLimiter) allow(client string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.clients) >= limiterSweepLen {
		for k, e := range l.clients {
			if now.Sub(e.seen) > limiterIdle {
				delete(l.clients, k)
			}
		}
	}

	e, ok := l.clients[client]
	if !ok {
		e = &limiterEntry{lim: rate.NewLimiter(l.limit, l.burst)}
		l.clients[client] = e
	}
	e.seen = now
	return e.lim.AllowN(now, 1)
}
