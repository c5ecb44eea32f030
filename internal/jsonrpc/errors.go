package jsonrpc

// ErrorCode is a JSON-RPC 2.0 error code.
type ErrorCode int

const (
	// ErrorCodeParseError indicates invalid JSON was received.
	ErrorCodeParseError ErrorCode = -32700
	// ErrorCodeInvalidRequest indicates the JSON sent is not a valid Request object.
	ErrorCodeInvalidRequest ErrorCode = -32600
	// ErrorCodeMethodNotFound indicates the method (or HTTP route) is not available.
	ErrorCodeMethodNotFound ErrorCode = -32601
	// ErrorCodeInternalError indicates an internal error while handling the message.
	ErrorCodeInternalError ErrorCode = -32603
)

// Message returns the canonical short message for the code, as surfaced to
// HTTP callers in error envelopes.
func (c ErrorCode) Message() string {
	switch c {
	case ErrorCodeParseError:
		return "Parse error"
	case ErrorCodeInvalidRequest:
		return "Invalid Request"
	case ErrorCodeMethodNotFound:
		return "Method not found"
	case ErrorCodeInternalError:
		return "Internal error"
	default:
		return "Unknown error"
	}
}
