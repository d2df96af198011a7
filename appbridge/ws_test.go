package appbridge

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/mcp-protocol/schema"
)

// stubCaller resolves proxied tool calls in tests.
type stubCaller struct {
	call func(ctx context.Context, params *schema.CallToolRequestParams) (*schema.CallToolResult, error)
}

func (s *stubCaller) CallTool(ctx context.Context, params *schema.CallToolRequestParams) (*schema.CallToolResult, error) {
	return s.call(ctx, params)
}

// frame mirrors every field a channel may write, for test-side decoding.
type frame struct {
	Type       string                 `json:"type"`
	Id         string                 `json:"id"`
	HTML       string                 `json:"html"`
	ToolInput  map[string]interface{} `json:"toolInput"`
	ToolResult *schema.CallToolResult `json:"toolResult"`
	Host       HostInfo               `json:"host"`
	Result     *schema.CallToolResult `json:"result"`
	Error      string                 `json:"error"`
}

func newSocketFixture(t *testing.T, caller ToolCaller) (*Service, *httptest.Server) {
	t.Helper()
	service := New(&Config{OpenBrowser: false, ProxyTimeout: 5 * time.Second}, caller, nil)
	server := httptest.NewServer(http.HandlerFunc(service.handleSocket))
	t.Cleanup(server.Close)
	t.Cleanup(service.Close)
	return service, server
}

func dialSession(t *testing.T, server *httptest.Server, id string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/?session=" + id
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) *frame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	f := &frame{}
	require.NoError(t, conn.ReadJSON(f))
	return f
}

func TestChannel_DeliversAppData(t *testing.T) {
	caller := &stubCaller{call: func(ctx context.Context, params *schema.CallToolRequestParams) (*schema.CallToolResult, error) {
		return &schema.CallToolResult{}, nil
	}}
	service, server := newSocketFixture(t, caller)

	result := &schema.CallToolResult{Content: []schema.CallToolResultContentElem{{Type: "text", Text: "21C"}}}
	id := service.Registry().Create("<p>weather</p>", map[string]interface{}{"city": "Paris"}, result)

	conn := dialSession(t, server, id)
	f := readFrame(t, conn)
	assert.Equal(t, MessageAppData, f.Type)
	assert.Equal(t, "<p>weather</p>", f.HTML)
	assert.Equal(t, "Paris", f.ToolInput["city"])
	require.NotNil(t, f.ToolResult)
	assert.Equal(t, "21C", f.ToolResult.Content[0].Text)
	assert.Equal(t, "mcp-apps", f.Host.Name)

	assert.False(t, service.Registry().Exists(id), "delivery shall consume the session")
}

func TestChannel_SecondConnectionRefused(t *testing.T) {
	caller := &stubCaller{call: func(ctx context.Context, params *schema.CallToolRequestParams) (*schema.CallToolResult, error) {
		return &schema.CallToolResult{}, nil
	}}
	service, server := newSocketFixture(t, caller)
	id := service.Registry().Create("<p>once</p>", nil, nil)

	first := dialSession(t, server, id)
	f := readFrame(t, first)
	assert.Equal(t, MessageAppData, f.Type)

	// The session is spent; a second tab gets no payload and a closed socket.
	second := dialSession(t, server, id)
	_ = second.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := second.ReadMessage()
	assert.Error(t, err)
}

func TestChannel_UnknownSessionRefused(t *testing.T) {
	caller := &stubCaller{call: func(ctx context.Context, params *schema.CallToolRequestParams) (*schema.CallToolResult, error) {
		return &schema.CallToolResult{}, nil
	}}
	_, server := newSocketFixture(t, caller)

	conn := dialSession(t, server, "no-such-session")
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}

func TestChannel_ProxiesConcurrentCalls(t *testing.T) {
	caller := &stubCaller{call: func(ctx context.Context, params *schema.CallToolRequestParams) (*schema.CallToolResult, error) {
		text := fmt.Sprintf("%v:%v", params.Name, params.Arguments["n"])
		return &schema.CallToolResult{Content: []schema.CallToolResultContentElem{{Type: "text", Text: text}}}, nil
	}}
	service, server := newSocketFixture(t, caller)
	id := service.Registry().Create("<p>app</p>", nil, nil)

	conn := dialSession(t, server, id)
	readFrame(t, conn)

	require.NoError(t, conn.WriteJSON(&CallServerTool{Type: MessageCallServerTool, Id: "7", Tool: "get_weather", Arguments: map[string]interface{}{"n": "1"}}))
	require.NoError(t, conn.WriteJSON(&CallServerTool{Type: MessageCallServerTool, Id: "8", Tool: "get_weather", Arguments: map[string]interface{}{"n": "2"}}))

	// Completions may interleave; correlate by id.
	byId := map[string]*frame{}
	for i := 0; i < 2; i++ {
		f := readFrame(t, conn)
		require.Equal(t, MessageToolResult, f.Type)
		byId[f.Id] = f
	}
	require.Contains(t, byId, "7")
	require.Contains(t, byId, "8")
	assert.Equal(t, "get_weather:1", byId["7"].Result.Content[0].Text)
	assert.Equal(t, "get_weather:2", byId["8"].Result.Content[0].Text)
	assert.Empty(t, byId["7"].Error)
}

func TestChannel_DuplicateCallIdDropped(t *testing.T) {
	release := make(chan struct{})
	caller := &stubCaller{call: func(ctx context.Context, params *schema.CallToolRequestParams) (*schema.CallToolResult, error) {
		if params.Name == "slow" {
			<-release
		}
		return &schema.CallToolResult{Content: []schema.CallToolResultContentElem{{Type: "text", Text: params.Name}}}, nil
	}}
	service, server := newSocketFixture(t, caller)
	id := service.Registry().Create("<p>app</p>", nil, nil)

	conn := dialSession(t, server, id)
	readFrame(t, conn)

	require.NoError(t, conn.WriteJSON(&CallServerTool{Type: MessageCallServerTool, Id: "9", Tool: "slow"}))
	// A duplicate id must not disturb the in-flight call.
	require.NoError(t, conn.WriteJSON(&CallServerTool{Type: MessageCallServerTool, Id: "9", Tool: "slow"}))
	require.NoError(t, conn.WriteJSON(&CallServerTool{Type: MessageCallServerTool, Id: "10", Tool: "quick"}))

	f := readFrame(t, conn)
	assert.Equal(t, "10", f.Id)

	close(release)
	f = readFrame(t, conn)
	assert.Equal(t, "9", f.Id)
	assert.Equal(t, "slow", f.Result.Content[0].Text)
}

func TestChannel_ToolCallFailure(t *testing.T) {
	caller := &stubCaller{call: func(ctx context.Context, params *schema.CallToolRequestParams) (*schema.CallToolResult, error) {
		return nil, fmt.Errorf("upstream unavailable")
	}}
	service, server := newSocketFixture(t, caller)
	id := service.Registry().Create("<p>app</p>", nil, nil)

	conn := dialSession(t, server, id)
	readFrame(t, conn)

	require.NoError(t, conn.WriteJSON(&CallServerTool{Type: MessageCallServerTool, Id: "1", Tool: "get_weather"}))
	f := readFrame(t, conn)
	assert.Equal(t, MessageToolResult, f.Type)
	assert.Equal(t, "1", f.Id)
	assert.Nil(t, f.Result)
	assert.Equal(t, "upstream unavailable", f.Error)
}

func TestChannel_MalformedFrameIgnored(t *testing.T) {
	caller := &stubCaller{call: func(ctx context.Context, params *schema.CallToolRequestParams) (*schema.CallToolResult, error) {
		return &schema.CallToolResult{}, nil
	}}
	service, server := newSocketFixture(t, caller)
	id := service.Registry().Create("<p>app</p>", nil, nil)

	conn := dialSession(t, server, id)
	readFrame(t, conn)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"call-server-tool"}`)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`not json`)))

	// The connection survives malformed frames and keeps serving valid ones.
	require.NoError(t, conn.WriteJSON(&CallServerTool{Type: MessageCallServerTool, Id: "2", Tool: "still_alive"}))
	f := readFrame(t, conn)
	assert.Equal(t, "2", f.Id)
}
