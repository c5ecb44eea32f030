package bridgehttp

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/elnormous/contenttype"

	"github.com/ggoodman/mcp-stdio-bridge/internal/extract"
	"github.com/ggoodman/mcp-stdio-bridge/internal/jsonrpc"
	"github.com/ggoodman/mcp-stdio-bridge/internal/logctx"
	"github.com/ggoodman/mcp-stdio-bridge/internal/outbound"
)

const timeoutHint = "Response timeout - check SSE stream"

var errBadArguments = errors.New("invalid request body")

type toolsListResponse struct {
	Message string   `json:"message"`
	Tools   []string `json:"tools"`
	Count   *int     `json:"count,omitempty"`
	Hint    string   `json:"hint,omitempty"`
}

// ToolCallRequest is the body accepted by POST /api/tools/{toolName}.
type ToolCallRequest struct {
	Arguments map[string]any `json:"arguments,omitempty" jsonschema:"description=Arguments passed to the tool"`
}

type toolCallResponse struct {
	Success     bool            `json:"success"`
	Message     string          `json:"message"`
	ToolName    string          `json:"toolName"`
	Arguments   json.RawMessage `json:"arguments"`
	Data        json.RawMessage `json:"data,omitempty"`
	RawResponse string          `json:"raw_response,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       json.RawMessage `json:"error,omitempty"`
	Hint        string          `json:"hint,omitempty"`
	RequestID   string          `json:"requestId,omitempty"`
}

// handleListTools asks the child for its tools, falling back to the cached
// list whenever no usable answer arrives.
func (h *Handler) handleListTools(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, msg, err := h.bridge.Call(ctx, "tools", "tools/list", nil, h.listTimeout)
	ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{Method: "tools/list", ID: id, Type: "request"})

	switch {
	case notSent(err):
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	case errors.Is(err, outbound.ErrResponseTimeout):
		writeJSON(w, http.StatusOK, toolsListResponse{
			Message: "Tools list (cached - MCP response timeout)",
			Tools:   h.tools.Tools(),
			Hint:    timeoutHint,
		})
		return
	case err != nil:
		h.log.WarnContext(ctx, "tools.list.capture.fail", slog.String("err", err.Error()))
		writeJSON(w, http.StatusOK, toolsListResponse{
			Message: "Tools list (cached - capture failed)",
			Tools:   h.tools.Tools(),
		})
		return
	}

	names, ok := toolNames(msg)
	if !ok {
		h.log.WarnContext(ctx, "tools.list.invalid")
		writeJSON(w, http.StatusOK, toolsListResponse{
			Message: "Tools list (cached - invalid MCP response)",
			Tools:   h.tools.Tools(),
		})
		return
	}

	h.tools.Set(names)
	count := len(names)
	writeJSON(w, http.StatusOK, toolsListResponse{
		Message: "Tools list from MCP server",
		Tools:   names,
		Count:   &count,
	})
}

// notSent reports whether err means the request never reached the child.
func notSent(err error) bool {
	return errors.Is(err, outbound.ErrWriteFailed) || errors.Is(err, outbound.ErrDispatcherClosed)
}

func toolNames(msg *jsonrpc.AnyMessage) ([]string, bool) {
	if msg == nil || msg.Error != nil || len(msg.Result) == 0 {
		return nil, false
	}
	var res struct {
		Tools []struct {
			Name string `json:"name"`
		} `json:"tools"`
	}
	if err := json.Unmarshal(msg.Result, &res); err != nil || res.Tools == nil {
		return nil, false
	}
	names := make([]string, 0, len(res.Tools))
	for _, t := range res.Tools {
		names = append(names, t.Name)
	}
	return names, true
}

// handleCallTool runs one tool and normalizes its result.
func (h *Handler) handleCallTool(w http.ResponseWriter, r *http.Request) {
	toolName := r.PathValue("toolName")
	ctx := logctx.WithToolCallData(r.Context(), &logctx.ToolCallData{ToolName: toolName})

	args, err := readToolArguments(r)
	if err != nil {
		h.log.InfoContext(ctx, "tools.call.bad_request", slog.String("err", err.Error()))
		status := http.StatusBadRequest
		if errors.Is(err, errUnsupportedMediaType) {
			status = http.StatusUnsupportedMediaType
		}
		writeJSONError(w, status, err.Error())
		return
	}

	params := map[string]any{"name": toolName, "arguments": args}
	id, msg, err := h.bridge.Call(ctx, "tool-"+toolName, "tools/call", params, h.callTimeout)
	ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{Method: "tools/call", ID: id, Type: "request"})

	resp := toolCallResponse{ToolName: toolName, Arguments: args}
	switch {
	case notSent(err):
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	case errors.Is(err, outbound.ErrResponseTimeout):
		resp.Message = fmt.Sprintf("Tool '%s' execution timeout", toolName)
		resp.Hint = timeoutHint
		resp.RequestID = id
		writeJSON(w, http.StatusOK, resp)
		return
	case err != nil:
		h.log.WarnContext(ctx, "tools.call.capture.fail", slog.String("err", err.Error()))
		resp.Message = fmt.Sprintf("Tool '%s' execution failed to capture response", toolName)
		resp.Hint = streamHint
		resp.Error, _ = json.Marshal(err.Error())
		writeJSON(w, http.StatusOK, resp)
		return
	}

	out := extract.Extract(msg)
	if !out.Success {
		h.log.InfoContext(ctx, "tools.call.failed", slog.String("message", out.Message))
		resp.Message = fmt.Sprintf("Tool '%s' failed: %s", toolName, out.Message)
		resp.Error = out.ErrorText
		writeJSON(w, http.StatusOK, resp)
		return
	}

	resp.Success = true
	resp.Message = fmt.Sprintf("Tool '%s' executed successfully", toolName)
	if out.Data != nil {
		resp.Data = out.Data
		resp.RawResponse = out.Raw
	} else {
		resp.Result = out.Result
	}
	h.log.InfoContext(ctx, "tools.call.ok")
	writeJSON(w, http.StatusOK, resp)
}

var errUnsupportedMediaType = errors.New("content-type must be application/json or application/x-www-form-urlencoded")

// readToolArguments returns the "arguments" member of a JSON or form body,
// defaulting to an empty object.
func readToolArguments(r *http.Request) (json.RawMessage, error) {
	empty := json.RawMessage(`{}`)

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errBadArguments, err)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return empty, nil
	}

	ctype, err := contenttype.GetMediaType(r)
	if err != nil {
		return nil, errUnsupportedMediaType
	}

	switch {
	case ctype.Type == "" || ctype.Matches(jsonMediaType):
		var req struct {
			Arguments json.RawMessage `json:"arguments"`
		}
		if err := json.Unmarshal(body, &req); err != nil {
			return nil, fmt.Errorf("%w: %v", errBadArguments, err)
		}
		if len(req.Arguments) == 0 || bytes.Equal(req.Arguments, []byte("null")) {
			return empty, nil
		}
		return req.Arguments, nil
	case ctype.Matches(formMediaType):
		form, err := url.ParseQuery(string(body))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errBadArguments, err)
		}
		v := form.Get("arguments")
		if v == "" {
			return empty, nil
		}
		if json.Valid([]byte(v)) {
			return json.RawMessage(v), nil
		}
		quoted, _ := json.Marshal(v)
		return quoted, nil
	default:
		return nil, errUnsupportedMediaType
	}
}
