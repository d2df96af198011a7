package appbridge

import (
	"encoding/json"
	"fmt"

	"github.com/viant/mcp-protocol/schema"
)

// AppBridge method names exchanged as JSON-RPC shaped messages between the
// host page and the embedded app (relayed verbatim by the sandbox document).
const (
	MethodInitialize             = "ui/initialize"
	MethodNotificationToolInput  = "ui/notifications/tool-input"
	MethodNotificationToolResult = "ui/notifications/tool-result"
	MethodToolsCall              = "tools/call"
	MethodSizeChange             = "ui/sizeChange"
	MethodOpenLink               = "ui/openLink"

	// Internal methods between host page and sandbox relay only. They never
	// cross into the app frame and never reach the process side.
	MethodSandboxReady  = "ui/internal/sandbox-ready"
	MethodResourceReady = "ui/internal/resource-ready"
)

// WebSocket message type discriminators.
const (
	MessageAppData        = "app-data"
	MessageCallServerTool = "call-server-tool"
	MessageToolResult     = "tool-result"
)

// HostInfo identifies the host implementation to the app.
type HostInfo struct {
	Name            string `json:"name"`
	Version         string `json:"version"`
	ProtocolVersion string `json:"protocolVersion,omitempty"`
}

// AppData delivers the session payload to the host page, once per connection.
type AppData struct {
	Type       string                 `json:"type"`
	HTML       string                 `json:"html"`
	ToolInput  map[string]interface{} `json:"toolInput"`
	ToolResult *schema.CallToolResult `json:"toolResult"`
	SandboxURL string                 `json:"sandboxUrl"`
	Host       HostInfo               `json:"host"`
}

// CallServerTool asks the process side to invoke an upstream tool on behalf
// of the app. Id correlates the eventual ToolResult; ids are generated by the
// host page and are unique per connection.
type CallServerTool struct {
	Type      string                 `json:"type"`
	Id        string                 `json:"id"`
	Tool      string                 `json:"tool"`
	Arguments map[string]interface{} `json:"arguments,omitempty"`
}

// ToolResult resolves one CallServerTool by id, carrying either the upstream
// result or an error string, never both.
type ToolResult struct {
	Type   string                 `json:"type"`
	Id     string                 `json:"id"`
	Result *schema.CallToolResult `json:"result,omitempty"`
	Error  string                 `json:"error,omitempty"`
}

// Message is the decoded form of one inbound WebSocket frame. Exactly one of
// the variant fields is set, matching Type; unknown types decode with all
// variants nil so callers can ignore them without failing the connection.
type Message struct {
	Type           string
	CallServerTool *CallServerTool
}

type envelope struct {
	Type string `json:"type"`
}

// DecodeMessage parses an inbound frame into its tagged variant.
func DecodeMessage(data []byte) (*Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("malformed bridge message: %w", err)
	}
	msg := &Message{Type: env.Type}
	switch env.Type {
	case MessageCallServerTool:
		call := &CallServerTool{}
		if err := json.Unmarshal(data, call); err != nil {
			return nil, fmt.Errorf("malformed %v message: %w", env.Type, err)
		}
		if call.Id == "" {
			return nil, fmt.Errorf("%v message missing id", env.Type)
		}
		msg.CallServerTool = call
	}
	return msg, nil
}
