package bridgehttp

import (
	"net/http"
	"time"

	"github.com/invopop/jsonschema"

	bridge "github.com/ggoodman/mcp-stdio-bridge"
)

type capabilities struct {
	Tools  bool `json:"tools"`
	Events bool `json:"events"`
}

type serverInfo struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Description string `json:"description"`
}

type streamEndpoints struct {
	SSE    string `json:"sse"`
	Invoke string `json:"invoke"`
	Health string `json:"health"`
}

type handshakeDocument struct {
	ProtocolVersion           string          `json:"protocolVersion"`
	SupportedProtocolVersions []string        `json:"supportedProtocolVersions"`
	Capabilities              capabilities    `json:"capabilities"`
	ServerInfo                serverInfo      `json:"serverInfo"`
	Endpoints                 streamEndpoints `json:"endpoints"`
	Absolute                  streamEndpoints `json:"absolute"`
	OK                        bool            `json:"ok"`
	Ready                     bool            `json:"ready"`
}

var relativeEndpoints = streamEndpoints{
	SSE:    "/mcp/sse",
	Invoke: "/mcp/invoke",
	Health: "/health",
}

func (h *Handler) handleHandshake(w http.ResponseWriter, r *http.Request) {
	base := requestScheme(r) + "://" + r.Host
	h.setMCPHeaders(w.Header())
	writeJSON(w, http.StatusOK, handshakeDocument{
		ProtocolVersion:           bridge.ProtocolVersion,
		SupportedProtocolVersions: []string{bridge.ProtocolVersion},
		Capabilities:              capabilities{Tools: true, Events: true},
		ServerInfo: serverInfo{
			Name:        h.serverName,
			Version:     DefaultServerVersion,
			Description: DefaultDescription,
		},
		Endpoints: relativeEndpoints,
		Absolute: streamEndpoints{
			SSE:    base + relativeEndpoints.SSE,
			Invoke: base + relativeEndpoints.Invoke,
			Health: base + relativeEndpoints.Health,
		},
		OK:    true,
		Ready: true,
	})
}

type restEndpoints struct {
	Tools   string `json:"tools"`
	Execute string `json:"execute"`
	Status  string `json:"status"`
}

type capabilitiesDocument struct {
	Server       string         `json:"server"`
	Version      string         `json:"version"`
	Description  string         `json:"description"`
	Protocol     string         `json:"protocol"`
	Capabilities capabilities   `json:"capabilities"`
	Endpoints    restEndpoints  `json:"endpoints"`
	Schemas      map[string]any `json:"schemas"`
}

// toolCallSchema is the JSON Schema of ToolCallRequest, reflected once.
var toolCallSchema = func() *jsonschema.Schema {
	r := &jsonschema.Reflector{
		DoNotReference:            true,
		ExpandedStruct:            true,
		AllowAdditionalProperties: false,
	}
	return r.Reflect(new(ToolCallRequest))
}()

func (h *Handler) handleCapabilities(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, capabilitiesDocument{
		Server:       h.serverName,
		Version:      DefaultServerVersion,
		Description:  DefaultDescription,
		Protocol:     "MCP " + bridge.ProtocolVersion,
		Capabilities: capabilities{Tools: true, Events: true},
		Endpoints: restEndpoints{
			Tools:   "/api/tools",
			Execute: "/api/tools/{toolName}",
			Status:  "/api/status",
		},
		Schemas: map[string]any{"execute": toolCallSchema},
	})
}

func (h *Handler) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "running",
		"timestamp":      h.now().UTC().Format(time.RFC3339Nano),
		"mcpServer":      "active",
		"sseConnections": h.bridge.Subscribers(),
	})
}
