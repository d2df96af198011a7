package shim

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/viant/afs/url"
	"github.com/viant/mcp-protocol/authorization"
	"github.com/viant/mcp-protocol/oauth2/meta"
	"github.com/viant/mcp/client"
	"github.com/viant/mcp/client/auth/store"
	mcpserver "github.com/viant/mcp/server"
	"github.com/viant/scy/auth/authorizer"
	"github.com/viant/scy/auth/flow"
	"go.uber.org/zap"

	"github.com/viant/jsonrpc"
	"github.com/viant/jsonrpc/transport"
	authtransport "github.com/viant/mcp/client/auth/transport"

	sse "github.com/viant/jsonrpc/transport/client/http/sse"
	streamable "github.com/viant/jsonrpc/transport/client/http/streamable"

	stdiosrv "github.com/viant/jsonrpc/transport/server/stdio"

	protoClient "github.com/viant/mcp-protocol/client"
	protologger "github.com/viant/mcp-protocol/logger"
	"github.com/viant/mcp-protocol/schema"
	protoserver "github.com/viant/mcp-protocol/server"

	"github.com/viant/mcp-apps/appbridge"
)

const (
	shimName    = "mcp-apps"
	shimVersion = "0.1"

	methodToolsListChanged = "notifications/tools/list_changed"
)

// opsHandler adapts protoClient.Operations to the proto client.Handler by
// forwarding notifications.
type opsHandler struct {
	protoClient.Operations
}

func (h *opsHandler) OnNotification(ctx context.Context, notification *jsonrpc.Notification) {
	_ = h.Notify(ctx, notification)
}

// dynamicHandler allows swapping the underlying handler at runtime.
type dynamicHandler struct {
	mu    sync.RWMutex
	inner transport.Handler
}

func (d *dynamicHandler) SetInner(h transport.Handler) {
	d.mu.Lock()
	d.inner = h
	d.mu.Unlock()
}

func (d *dynamicHandler) Serve(ctx context.Context, request *jsonrpc.Request, response *jsonrpc.Response) {
	d.mu.RLock()
	h := d.inner
	d.mu.RUnlock()
	if h == nil {
		response.Error = jsonrpc.NewMethodNotFound("handler not ready", request.Params)
		return
	}
	h.Serve(ctx, request, response)
}

func (d *dynamicHandler) OnNotification(ctx context.Context, notification *jsonrpc.Notification) {
	d.mu.RLock()
	h := d.inner
	d.mu.RUnlock()
	if h != nil {
		h.OnNotification(ctx, notification)
	}
}

// Service owns the downstream connection, the tool metadata catalog and the
// app bridging engine. One Service backs every CLI-facing connection.
type Service struct {
	options    *Options
	logger     *zap.Logger
	baseCtx    context.Context
	downstream transport.Transport
	// remoteHandler forwards upstream server->client RPCs to the current CLI-side connection.
	remoteHandler *dynamicHandler
	catalog       *catalog
	engine        *appbridge.Service

	endpointMu sync.RWMutex
	endpoint   client.Interface

	probeOnce sync.Once
}

// proxyHandler serves one CLI-facing connection, forwarding every MCP
// operation to the upstream endpoint.
type proxyHandler struct {
	service  *Service
	endpoint client.Interface
	// clientOps represents the CLI-side client operations (backchannel)
	clientOps protoClient.Operations
	// clientHandler adapts Operations for inbound upstream requests
	clientHandler protoClient.Handler
}

// Initialize proxies the initialize request to the upstream endpoint.
func (p *proxyHandler) Initialize(ctx context.Context, init *schema.InitializeRequestParams, result *schema.InitializeResult) {
	if p.clientOps != nil {
		p.clientOps.Init(ctx, &init.Capabilities)
	}
	p.endpoint = client.New(shimName, shimVersion, p.service.downstream,
		client.WithProtocolVersion(init.ProtocolVersion),
		client.WithClientHandler(p.clientHandler),
		client.WithCapabilities(schema.ClientCapabilities{Experimental: map[string]map[string]interface{}{}}))
	p.service.setEndpoint(p.endpoint)
	res, err := p.endpoint.Initialize(ctx)
	if err != nil {
		return
	}
	*result = *res
}

// ListResources proxies the resources/list request.
func (p *proxyHandler) ListResources(ctx context.Context, request *jsonrpc.TypedRequest[*schema.ListResourcesRequest]) (*schema.ListResourcesResult, *jsonrpc.Error) {
	res, err := p.endpoint.ListResources(ctx, request.Request.Params.Cursor)
	if err != nil {
		return nil, jsonrpc.NewInternalError(err.Error(), nil)
	}
	return res, nil
}

// ListResourceTemplates proxies the resources/templates/list request.
func (p *proxyHandler) ListResourceTemplates(ctx context.Context, request *jsonrpc.TypedRequest[*schema.ListResourceTemplatesRequest]) (*schema.ListResourceTemplatesResult, *jsonrpc.Error) {
	res, err := p.endpoint.ListResourceTemplates(ctx, request.Request.Params.Cursor)
	if err != nil {
		return nil, jsonrpc.NewInternalError(err.Error(), nil)
	}
	return res, nil
}

// ReadResource proxies the resources/read request.
func (p *proxyHandler) ReadResource(ctx context.Context, request *jsonrpc.TypedRequest[*schema.ReadResourceRequest]) (*schema.ReadResourceResult, *jsonrpc.Error) {
	res, err := p.endpoint.ReadResource(ctx, &request.Request.Params)
	if err != nil {
		return nil, jsonrpc.NewInternalError(err.Error(), nil)
	}
	return res, nil
}

// Subscribe proxies the resources/subscribe request.
func (p *proxyHandler) Subscribe(ctx context.Context, request *jsonrpc.TypedRequest[*schema.SubscribeRequest]) (*schema.SubscribeResult, *jsonrpc.Error) {
	res, err := p.endpoint.Subscribe(ctx, &request.Request.Params)
	if err != nil {
		return nil, jsonrpc.NewInternalError(err.Error(), nil)
	}
	return res, nil
}

// Unsubscribe proxies the resources/unsubscribe request.
func (p *proxyHandler) Unsubscribe(ctx context.Context, request *jsonrpc.TypedRequest[*schema.UnsubscribeRequest]) (*schema.UnsubscribeResult, *jsonrpc.Error) {
	res, err := p.endpoint.Unsubscribe(ctx, &request.Request.Params)
	if err != nil {
		return nil, jsonrpc.NewInternalError(err.Error(), nil)
	}
	return res, nil
}

// ListPrompts proxies the prompts/list request.
func (p *proxyHandler) ListPrompts(ctx context.Context, request *jsonrpc.TypedRequest[*schema.ListPromptsRequest]) (*schema.ListPromptsResult, *jsonrpc.Error) {
	res, err := p.endpoint.ListPrompts(ctx, request.Request.Params.Cursor)
	if err != nil {
		return nil, jsonrpc.NewInternalError(err.Error(), nil)
	}
	return res, nil
}

// GetPrompt proxies the prompts/get request.
func (p *proxyHandler) GetPrompt(ctx context.Context, request *jsonrpc.TypedRequest[*schema.GetPromptRequest]) (*schema.GetPromptResult, *jsonrpc.Error) {
	res, err := p.endpoint.GetPrompt(ctx, &request.Request.Params)
	if err != nil {
		return nil, jsonrpc.NewInternalError(err.Error(), nil)
	}
	return res, nil
}

// ListTools proxies the tools/list request.
func (p *proxyHandler) ListTools(ctx context.Context, request *jsonrpc.TypedRequest[*schema.ListToolsRequest]) (*schema.ListToolsResult, *jsonrpc.Error) {
	res, err := p.endpoint.ListTools(ctx, request.Request.Params.Cursor)
	if err != nil {
		return nil, jsonrpc.NewInternalError(err.Error(), nil)
	}
	return res, nil
}

// CallTool proxies the tools/call request and, when the tool declares UI
// metadata, launches a browser session for its app view.
func (p *proxyHandler) CallTool(ctx context.Context, request *jsonrpc.TypedRequest[*schema.CallToolRequest]) (*schema.CallToolResult, *jsonrpc.Error) {
	res, err := p.endpoint.CallTool(ctx, &request.Request.Params)
	if err != nil {
		return nil, jsonrpc.NewInternalError(err.Error(), nil)
	}
	p.service.maybeLaunchApp(&request.Request.Params, res)
	return res, nil
}

// Complete proxies the complete request.
func (p *proxyHandler) Complete(ctx context.Context, request *jsonrpc.TypedRequest[*schema.CompleteRequest]) (*schema.CompleteResult, *jsonrpc.Error) {
	res, err := p.endpoint.Complete(ctx, &request.Request.Params)
	if err != nil {
		return nil, jsonrpc.NewInternalError(err.Error(), nil)
	}
	return res, nil
}

// SetLevel proxies the logging/setLevel request.
func (p *proxyHandler) SetLevel(ctx context.Context, request *jsonrpc.TypedRequest[*schema.SetLevelRequest]) (*schema.SetLevelResult, *jsonrpc.Error) {
	res, err := p.endpoint.SetLevel(ctx, &request.Request.Params)
	if err != nil {
		return nil, jsonrpc.NewInternalError(err.Error(), nil)
	}
	return res, nil
}

// OnNotification tracks upstream notifications that affect the tool catalog.
func (p *proxyHandler) OnNotification(ctx context.Context, notification *jsonrpc.Notification) {
	if notification.Method == methodToolsListChanged {
		p.service.catalog.Invalidate()
	}
}

// Implements indicates which methods are supported by this proxy.
func (p *proxyHandler) Implements(method string) bool {
	switch method {
	case schema.MethodInitialize,
		schema.MethodPing,
		schema.MethodResourcesList,
		schema.MethodResourcesTemplatesList,
		schema.MethodResourcesRead,
		schema.MethodSubscribe,
		schema.MethodUnsubscribe,
		schema.MethodPromptsList,
		schema.MethodPromptsGet,
		schema.MethodToolsList,
		schema.MethodToolsCall,
		schema.MethodComplete,
		schema.MethodLoggingSetLevel:
		return true
	}
	return false
}

// New constructs a shim Service connected to the upstream MCP server named
// by options.URL, autodetecting streamable HTTP with SSE fallback.
func New(ctx context.Context, options *Options, logger *zap.Logger) (*Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	dh := &dynamicHandler{}
	var httpClient *http.Client
	var err error
	if options.OAuth2ConfigURL != "" {
		httpClient, err = buildAuthHTTPClient(ctx, options)
		if err != nil {
			return nil, err
		}
	} else if options.BackendForFrontend {
		authTransportOptions := []authtransport.Option{
			authtransport.WithBackendForFrontendAuth(),
			authtransport.WithGlobalResource(&authorization.Authorization{
				UseIdToken:                true,
				ProtectedResourceMetadata: &meta.ProtectedResourceMetadata{AuthorizationServers: []string{}},
			}),
		}
		if options.BackendForFrontendHeader != "" {
			authTransportOptions = append(authTransportOptions, authtransport.WithAuthorizationExchangeHeader(options.BackendForFrontendHeader))
		}
		rt, err := authtransport.New(authTransportOptions...)
		if err != nil {
			return nil, err
		}
		httpClient = &http.Client{Transport: rt}
	}

	// Autodetect remote transport (Streamable vs SSE)
	var downstream transport.Transport
	if isStreamable(ctx, options.URL, httpClient) {
		opts := []streamable.Option{streamable.WithHandler(dh)}
		if httpClient != nil {
			opts = append(opts, streamable.WithHTTPClient(httpClient))
		}
		downstream, err = streamable.New(ctx, options.URL, opts...)
		if err != nil {
			return nil, err
		}
	} else {
		opts := []sse.Option{sse.WithHandler(dh)}
		if httpClient != nil {
			opts = append(opts, sse.WithHttpClient(httpClient), sse.WithMessageHttpClient(httpClient))
		}
		downstream, err = sse.New(ctx, options.URL, opts...)
		if err != nil {
			return nil, err
		}
	}

	service := &Service{
		options:       options,
		logger:        logger,
		baseCtx:       ctx,
		downstream:    downstream,
		remoteHandler: dh,
	}
	service.catalog = newCatalog(downstream, logger)
	service.engine = appbridge.New(&appbridge.Config{
		HostAddr:     options.HostListenAddr,
		SandboxAddr:  options.SandboxListenAddr,
		OpenBrowser:  !options.NoBrowser,
		ProxyTimeout: time.Duration(options.ProxyTimeoutSeconds) * time.Second,
		SessionTTL:   time.Duration(options.SessionTTLSeconds) * time.Second,
		HostName:     shimName,
		HostVersion:  shimVersion,
	}, service, logger)
	return service, nil
}

func (s *Service) setEndpoint(endpoint client.Interface) {
	s.endpointMu.Lock()
	s.endpoint = endpoint
	s.endpointMu.Unlock()
}

func (s *Service) currentEndpoint() client.Interface {
	s.endpointMu.RLock()
	defer s.endpointMu.RUnlock()
	return s.endpoint
}

// CallTool lets the app bridging engine invoke upstream tools on behalf of
// connected apps.
func (s *Service) CallTool(ctx context.Context, params *schema.CallToolRequestParams) (*schema.CallToolResult, error) {
	endpoint := s.currentEndpoint()
	if endpoint == nil {
		return nil, fmt.Errorf("upstream endpoint is not initialized")
	}
	return endpoint.CallTool(ctx, params)
}

// Engine exposes the app bridging engine, mainly for tests.
func (s *Service) Engine() *appbridge.Service {
	return s.engine
}

// maybeLaunchApp checks the called tool for UI metadata and, when present,
// fetches its app HTML and opens a browser session. Failures only suppress
// the interactive view; the tool's own result is never altered by them.
func (s *Service) maybeLaunchApp(params *schema.CallToolRequestParams, result *schema.CallToolResult) {
	uri, ok := s.catalog.ResourceURI(s.baseCtx, params.Name)
	if !ok {
		return
	}
	s.probeResources()
	html, err := s.fetchAppHTML(s.baseCtx, uri)
	if err != nil {
		s.logger.Warn("failed to fetch app resource",
			zap.String("tool", params.Name), zap.String("uri", uri), zap.Error(err))
		return
	}
	pageURL, err := s.engine.Launch(s.baseCtx, html, params.Arguments, result)
	if err != nil {
		s.logger.Warn("failed to launch app session", zap.String("tool", params.Name), zap.Error(err))
		return
	}
	result.Content = append(result.Content, schema.CallToolResultContentElem{
		Type: "text",
		Text: fmt.Sprintf("Interactive view opened in your browser: %s", pageURL),
	})
}

// probeResources checks once whether the upstream supports resource listing;
// lack of support is informational, not an error.
func (s *Service) probeResources() {
	s.probeOnce.Do(func() {
		endpoint := s.currentEndpoint()
		if endpoint == nil {
			return
		}
		if _, err := endpoint.ListResources(s.baseCtx, nil); err != nil {
			s.logger.Info("upstream does not support resource listing", zap.Error(err))
		}
	})
}

func (s *Service) fetchAppHTML(ctx context.Context, uri string) (string, error) {
	endpoint := s.currentEndpoint()
	if endpoint == nil {
		return "", fmt.Errorf("upstream endpoint is not initialized")
	}
	res, err := endpoint.ReadResource(ctx, &schema.ReadResourceRequestParams{Uri: uri})
	if err != nil {
		return "", err
	}
	for _, content := range res.Contents {
		if content.Text != "" {
			return content.Text, nil
		}
	}
	return "", fmt.Errorf("resource %v has no text content", uri)
}

// newHandler builds the per-connection CLI-facing handler.
func (s *Service) newHandler(ctx context.Context, notifier transport.Notifier, logger protologger.Logger, clientOps protoClient.Operations) (protoserver.Handler, error) {
	handler := &opsHandler{Operations: clientOps}
	s.remoteHandler.SetInner(client.NewHandler(handler))
	return &proxyHandler{service: s, clientOps: clientOps, clientHandler: handler}, nil
}

// HTTP starts an HTTP server on the given address exposing the shim over
// streamable HTTP/SSE.
func (s *Service) HTTP(ctx context.Context, addr string) (*http.Server, error) {
	srv, err := mcpserver.New(mcpserver.WithNewHandler(s.newHandler))
	if err != nil {
		return nil, err
	}
	return srv.HTTP(ctx, addr), nil
}

// Stdio starts a JSON-RPC server over standard input/output.
func (s *Service) Stdio(ctx context.Context) (*stdiosrv.Server, error) {
	srv, err := mcpserver.New(mcpserver.WithNewHandler(s.newHandler))
	if err != nil {
		return nil, err
	}
	return stdiosrv.New(ctx, srv.NewHandler), nil
}

// isStreamable tests the remote URL for the streamable HTTP transport by
// attempting a POST initialize handshake; legacy SSE servers reject it.
func isStreamable(ctx context.Context, endpoint string, httpClient *http.Client) bool {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	payload := []byte(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"clientInfo":{"name":"mcp-apps","version":"1"},"capabilities":{},"protocolVersion":"2025-06-18"}}`)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return false
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	req.Header.Set("MCP-Protocol-Version", "2025-06-18")
	resp, err := httpClient.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func buildAuthHTTPClient(ctx context.Context, options *Options) (*http.Client, error) {
	configURL := options.OAuth2ConfigURL
	if options.EncryptionKey != "" {
		configURL += "|" + options.EncryptionKey
	}
	auth := authorizer.New()
	oAuthConfig := &authorizer.OAuthConfig{ConfigURL: configURL}
	if err := auth.EnsureConfig(ctx, oAuthConfig); err != nil {
		return nil, err
	}
	aStore := store.NewMemoryStore(store.WithClientConfig(oAuthConfig.Config))

	issuer, _ := url.Base(oAuthConfig.Config.Endpoint.AuthURL, "https")

	var authTransportOptions = []authtransport.Option{
		authtransport.WithStore(aStore),
		authtransport.WithAuthFlow(flow.NewBrowserFlow()),
		authtransport.WithGlobalResource(&authorization.Authorization{
			UseIdToken: options.UseIdToken,
			ProtectedResourceMetadata: &meta.ProtectedResourceMetadata{
				AuthorizationServers: []string{issuer},
			},
		}),
	}
	roundTripper, err := authtransport.New(authTransportOptions...)
	if err != nil {
		return nil, err
	}
	return &http.Client{Transport: roundTripper}, nil
}
