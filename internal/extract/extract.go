// Package extract normalizes tools/call results from the child into the
// shape returned by the REST convenience endpoints.
package extract

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/ggoodman/mcp-stdio-bridge/internal/jsonrpc"
)

// Outcome is the normalized view of one tools/call response.
//
// On success exactly one of Data or Result is set: Data holds the structured
// payload recovered from an untrusted-data block (with Raw keeping the full
// text), Result holds everything else.
type Outcome struct {
	Success bool
	// Message is the best available failure message. Empty on success.
	Message string
	// ErrorText is the raw error text or error object as received.
	ErrorText json.RawMessage

	Data   json.RawMessage
	Raw    string
	Result json.RawMessage
}

// Part is one entry of a tools/call result content array.
type Part struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type toolResult struct {
	Content json.RawMessage `json:"content"`
	IsError bool            `json:"isError"`
}

const defaultFailure = "Tool execution failed"

// Extract interprets msg. It never fails: any shape it does not understand is
// passed through in its rawest available form.
func Extract(msg *jsonrpc.AnyMessage) Outcome {
	if msg == nil {
		return Outcome{Success: false, Message: defaultFailure}
	}

	if msg.Error != nil {
		errJSON, _ := json.Marshal(msg.Error)
		message := msg.Error.Message
		if message == "" {
			message = defaultFailure
		}
		return Outcome{Message: message, ErrorText: errJSON}
	}

	if len(msg.Result) == 0 || bytes.Equal(bytes.TrimSpace(msg.Result), []byte("null")) {
		whole, _ := json.Marshal(msg)
		return Outcome{Success: true, Result: whole}
	}

	var res toolResult
	if err := json.Unmarshal(msg.Result, &res); err != nil {
		return Outcome{Success: true, Result: msg.Result}
	}

	parts, isArray := decodeParts(res.Content)

	if res.IsError {
		text := firstText(parts)
		if text == "" {
			text = "Unknown error"
		}
		errText, _ := json.Marshal(text)
		return Outcome{Message: errorMessage(text), ErrorText: errText}
	}

	if !isArray {
		return Outcome{Success: true, Result: msg.Result}
	}

	text := TextContent(parts)
	if data, ok := UntrustedData(text); ok {
		return Outcome{Success: true, Data: data, Raw: text}
	}
	wrapped, _ := json.Marshal(map[string]string{"content": text})
	return Outcome{Success: true, Result: wrapped}
}

func decodeParts(raw json.RawMessage) ([]Part, bool) {
	if len(raw) == 0 {
		return nil, false
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, false
	}
	parts := make([]Part, 0, len(items))
	for _, item := range items {
		var p Part
		if err := json.Unmarshal(item, &p); err != nil {
			continue
		}
		parts = append(parts, p)
	}
	return parts, true
}

// TextContent joins the text of every "text" part with newlines.
func TextContent(parts []Part) string {
	var texts []string
	for _, p := range parts {
		if p.Type == "text" {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, "\n")
}

func firstText(parts []Part) string {
	for _, p := range parts {
		if p.Type == "text" {
			return p.Text
		}
	}
	return ""
}

var untrustedRe = regexp.MustCompile(`(?s)<untrusted-data-([^>]+)>(.*?)</untrusted-data-([^>]+)>`)

// UntrustedData finds the first <untrusted-data-X>...</untrusted-data-X>
// block in text whose opening and closing tags agree and returns its payload
// when it parses as JSON.
func UntrustedData(text string) (json.RawMessage, bool) {
	if !strings.Contains(text, "untrusted-data-") {
		return nil, false
	}
	for _, m := range untrustedRe.FindAllStringSubmatch(text, -1) {
		if m[1] != m[3] {
			continue
		}
		payload := strings.TrimSpace(m[2])
		if json.Valid([]byte(payload)) {
			return json.RawMessage(payload), true
		}
	}
	return nil, false
}

// errorMessage recovers a nested message from an error text that is itself
// JSON, such as {"error":{"message":"..."}}. Plain text is returned as is.
func errorMessage(text string) string {
	var nested struct {
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal([]byte(text), &nested); err != nil {
		return text
	}
	if nested.Error != nil && nested.Error.Message != "" {
		return nested.Error.Message
	}
	if nested.Message != "" {
		return nested.Message
	}
	return defaultFailure
}
