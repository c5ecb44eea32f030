package bridgehttp

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ggoodman/mcp-stdio-bridge/internal/jsonrpc"
	"github.com/ggoodman/mcp-stdio-bridge/internal/logctx"
	"github.com/ggoodman/mcp-stdio-bridge/internal/outbound"
)

// handleInvoke forwards a client envelope to the child verbatim. The answer is
// only ever delivered on the SSE stream; the caller gets 202 once the line is
// written.
func (h *Handler) handleInvoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.log.ErrorContext(ctx, "invoke.read.fail", slog.String("err", err.Error()))
		writeRPCError(w, jsonrpc.NewErrorResponse(nil, jsonrpc.ErrorCodeInternalError, ""))
		return
	}

	envelope, rpcErr := outbound.ValidateEnvelope(body)
	if rpcErr != nil {
		h.log.InfoContext(ctx, "invoke.rejected", slog.Int("code", int(rpcErr.Error.Code)))
		writeRPCError(w, rpcErr)
		return
	}

	var head struct {
		Method string             `json:"method"`
		ID     *jsonrpc.RequestID `json:"id"`
	}
	_ = json.Unmarshal(envelope, &head)
	typ := "request"
	if head.Method == "" {
		typ = "response"
	}
	ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{Method: head.Method, ID: head.ID.String(), Type: typ})

	start := time.Now()
	if err := h.bridge.Dispatcher().SendRaw(ctx, envelope); err != nil {
		h.log.ErrorContext(ctx, "invoke.forward.fail", slog.String("err", err.Error()))
		writeRPCError(w, jsonrpc.NewErrorResponse(nil, jsonrpc.ErrorCodeInternalError, ""))
		return
	}

	h.log.InfoContext(ctx, "invoke.accepted", slog.Duration("duration", time.Since(start)))
	writeJSON(w, http.StatusAccepted, map[string]any{"accepted": true})
}

// handleTestTools writes an uncorrelated tools/list request and echoes the
// frame that was sent.
func (h *Handler) handleTestTools(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id := outbound.NewID("test")
	frame, err := jsonrpc.NewRequest(jsonrpc.NewRequestID(id), "tools/list", nil)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	raw, err := json.Marshal(frame)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := h.bridge.Dispatcher().SendRaw(ctx, raw); err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sent": frame, "hint": streamHint})
}
