package appbridge

import (
	"context"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/viant/mcp-protocol/schema"
	"go.uber.org/zap"

	"github.com/viant/mcp-apps/internal/collection"
)

// Listeners bind to loopback for a single local user; cross-origin browser
// pages never get the session id, so origin checks add nothing here.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// channel is one WebSocket connection serving one claimed session.
type channel struct {
	service *Service
	conn    *websocket.Conn
	logger  *zap.Logger

	writeMu  sync.Mutex
	inflight *collection.SyncMap[string, struct{}]
}

// handleSocket serves the per-session WebSocket. The session id travels in
// the connection URL's query; claiming it is the gate - a connection whose
// id is missing, unknown or already claimed is closed with no payload.
func (s *Service) handleSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	id := r.URL.Query().Get("session")
	if id == "" {
		return
	}
	payload, ok := s.registry.Claim(id)
	if !ok {
		return
	}

	c := &channel{
		service:  s,
		conn:     conn,
		logger:   s.logger.With(zap.String("session", id)),
		inflight: collection.NewSyncMap[string, struct{}](),
	}
	if err := c.write(&AppData{
		Type:       MessageAppData,
		HTML:       payload.HTML,
		ToolInput:  payload.ToolInput,
		ToolResult: payload.ToolResult,
		SandboxURL: s.sandboxURL + "/sandbox.html",
		Host: HostInfo{
			Name:            s.config.HostName,
			Version:         s.config.HostVersion,
			ProtocolVersion: s.config.ProtocolVersion,
		},
	}); err != nil {
		c.logger.Warn("failed to deliver app payload", zap.Error(err))
		return
	}
	c.serve(r.Context())
}

// serve reads frames until the tab disconnects. Each proxied tool call runs
// in its own goroutine; responses correlate by request id, so completions
// may interleave freely.
func (c *channel) serve(ctx context.Context) {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		msg, err := DecodeMessage(data)
		if err != nil {
			c.logger.Warn("dropping malformed frame", zap.Error(err))
			continue
		}
		switch msg.Type {
		case MessageCallServerTool:
			call := msg.CallServerTool
			// A duplicate id must not disturb the in-flight call it collides with.
			if !c.inflight.PutIfAbsent(call.Id, struct{}{}) {
				c.logger.Warn("dropping duplicate tool call id", zap.String("id", call.Id))
				continue
			}
			go c.proxy(ctx, call)
		default:
			// unknown frame types are ignored
		}
	}
}

// proxy forwards one call-server-tool request upstream and always resolves
// its id exactly once, as a result or as a failure.
func (c *channel) proxy(ctx context.Context, call *CallServerTool) {
	defer c.inflight.Delete(call.Id)
	ctx, cancel := context.WithTimeout(ctx, c.service.config.ProxyTimeout)
	defer cancel()

	out := &ToolResult{Type: MessageToolResult, Id: call.Id}
	result, err := c.service.caller.CallTool(ctx, &schema.CallToolRequestParams{
		Name:      call.Tool,
		Arguments: call.Arguments,
	})
	if err != nil {
		c.logger.Warn("proxied tool call failed", zap.String("tool", call.Tool), zap.Error(err))
		out.Error = err.Error()
	} else {
		out.Result = result
	}
	if err := c.write(out); err != nil {
		c.logger.Warn("failed to deliver tool result", zap.String("id", call.Id), zap.Error(err))
	}
}

func (c *channel) write(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(v)
}
