package outbound

import (
	"encoding/json"

	"github.com/ggoodman/mcp-stdio-bridge/internal/jsonrpc"
)

// ValidateEnvelope checks a client-supplied envelope before it is forwarded
// verbatim. On failure the returned response is the JSON-RPC error to send
// back to the HTTP caller; the child is never touched.
//
//   - body is not JSON: -32700, id null
//   - not an object, jsonrpc != "2.0", or no "id" member: -32600
//
// An explicit "id": null counts as present.
func ValidateEnvelope(body []byte) (json.RawMessage, *jsonrpc.Response) {
	if !json.Valid(body) {
		return nil, jsonrpc.NewErrorResponse(nil, jsonrpc.ErrorCodeParseError, "")
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, jsonrpc.NewErrorResponse(nil, jsonrpc.ErrorCodeInvalidRequest, "")
	}

	rawID, hasID := fields["id"]
	var version string
	rawVersion, hasVersion := fields["jsonrpc"]
	if hasVersion {
		if err := json.Unmarshal(rawVersion, &version); err != nil {
			version = ""
		}
	}
	if version != jsonrpc.ProtocolVersion || !hasID {
		return nil, jsonrpc.NewErrorResponse(echoID(rawID), jsonrpc.ErrorCodeInvalidRequest, "")
	}

	return json.RawMessage(body), nil
}

// echoID returns the caller's id for use in an error response, or nil when it
// is absent, null, empty, zero or not a string/number.
func echoID(raw json.RawMessage) *jsonrpc.RequestID {
	if len(raw) == 0 {
		return nil
	}
	var id jsonrpc.RequestID
	if err := json.Unmarshal(raw, &id); err != nil || id.IsNil() {
		return nil
	}
	switch v := id.Value().(type) {
	case string:
		if v == "" {
			return nil
		}
	case int64:
		if v == 0 {
			return nil
		}
	}
	return &id
}
