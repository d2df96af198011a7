// Package appbridge implements the app bridging engine: per-session host
// pages, the cross-origin sandbox relay, and the WebSocket channel that
// ferries AppBridge traffic between browser tabs and the shim process.
package appbridge

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os/exec"
	"sync"
	"time"

	"github.com/viant/afs/url"
	"github.com/viant/mcp-protocol/schema"
	"go.uber.org/zap"

	"github.com/viant/mcp-apps/session"
)

// DefaultProxyTimeout bounds how long a proxied server-tool call may stay
// unresolved before it is failed back to the app.
const DefaultProxyTimeout = 60 * time.Second

// ToolCaller invokes one upstream tool on behalf of an app.
type ToolCaller interface {
	CallTool(ctx context.Context, params *schema.CallToolRequestParams) (*schema.CallToolResult, error)
}

// Config controls the engine's listeners and handshake identity.
type Config struct {
	// HostAddr and SandboxAddr are the two local listen addresses. They must
	// differ so that host and sandbox documents never share an origin.
	HostAddr    string
	SandboxAddr string

	OpenBrowser  bool
	ProxyTimeout time.Duration
	SessionTTL   time.Duration

	HostName        string
	HostVersion     string
	ProtocolVersion string
}

func (c *Config) init() {
	if c.HostAddr == "" {
		c.HostAddr = "127.0.0.1:0"
	}
	if c.SandboxAddr == "" {
		c.SandboxAddr = "127.0.0.1:0"
	}
	if c.ProxyTimeout <= 0 {
		c.ProxyTimeout = DefaultProxyTimeout
	}
	if c.HostName == "" {
		c.HostName = "mcp-apps"
	}
	if c.HostVersion == "" {
		c.HostVersion = "0.1"
	}
	if c.ProtocolVersion == "" {
		c.ProtocolVersion = schema.LatestProtocolVersion
	}
}

// Service owns the session registry and both HTTP listeners. Listeners start
// lazily on the first Launch and shut down when the supplied context ends.
type Service struct {
	config   *Config
	registry *session.Registry
	caller   ToolCaller
	logger   *zap.Logger

	mu         sync.Mutex
	hostSrv    *http.Server
	sandboxSrv *http.Server
	hostURL    string
	sandboxURL string
}

// New creates an engine service. logger may be nil.
func New(config *Config, caller ToolCaller, logger *zap.Logger) *Service {
	if config == nil {
		config = &Config{}
	}
	config.init()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		config:   config,
		registry: session.New(config.SessionTTL),
		caller:   caller,
		logger:   logger,
	}
}

// Registry exposes the session registry, mainly for tests.
func (s *Service) Registry() *session.Registry {
	return s.registry
}

// Launch registers a session for the given app payload, makes sure both
// listeners run, opens the system browser on the session's host page and
// returns the page URL.
func (s *Service) Launch(ctx context.Context, html string, toolInput map[string]interface{}, toolResult *schema.CallToolResult) (string, error) {
	if err := s.ensureServers(ctx); err != nil {
		return "", err
	}
	id := s.registry.Create(html, toolInput, toolResult)
	pageURL := url.Join(s.hostURL, "app", id)
	s.OpenURL(pageURL)
	s.logger.Info("app session created", zap.String("session", id), zap.String("url", pageURL))
	return pageURL, nil
}

func (s *Service) ensureServers(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hostSrv != nil {
		return nil
	}
	sandboxLn, err := net.Listen("tcp", s.config.SandboxAddr)
	if err != nil {
		return fmt.Errorf("failed to bind sandbox listener: %w", err)
	}
	hostLn, err := net.Listen("tcp", s.config.HostAddr)
	if err != nil {
		_ = sandboxLn.Close()
		return fmt.Errorf("failed to bind host listener: %w", err)
	}
	s.sandboxURL = "http://" + sandboxLn.Addr().String()
	s.hostURL = "http://" + hostLn.Addr().String()

	sandboxMux := http.NewServeMux()
	sandboxMux.HandleFunc("/sandbox.html", s.handleSandbox)
	s.sandboxSrv = &http.Server{Handler: sandboxMux}

	hostMux := http.NewServeMux()
	hostMux.HandleFunc("/app/", s.handleAppPage)
	hostMux.HandleFunc("/ws", s.handleSocket)
	s.hostSrv = &http.Server{Handler: hostMux}

	go func() {
		if err := s.sandboxSrv.Serve(sandboxLn); err != nil && err != http.ErrServerClosed {
			s.logger.Error("sandbox server stopped", zap.Error(err))
		}
	}()
	go func() {
		if err := s.hostSrv.Serve(hostLn); err != nil && err != http.ErrServerClosed {
			s.logger.Error("host server stopped", zap.Error(err))
		}
	}()
	// graceful shutdown on ctx cancel
	go func() {
		<-ctx.Done()
		s.Close()
	}()
	return nil
}

// Close stops both listeners and the registry expiry loop.
func (s *Service) Close() {
	s.mu.Lock()
	hostSrv, sandboxSrv := s.hostSrv, s.sandboxSrv
	s.mu.Unlock()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if hostSrv != nil {
		_ = hostSrv.Shutdown(shutdownCtx)
	}
	if sandboxSrv != nil {
		_ = sandboxSrv.Shutdown(shutdownCtx)
	}
	s.registry.Close()
}

// OpenURL opens the default browser, best-effort, covering macOS, Linux and
// Windows launchers.
func (s *Service) OpenURL(u string) {
	if !s.config.OpenBrowser {
		s.logger.Info("open url to continue", zap.String("url", u))
		return
	}
	cmds := [][]string{{"open", u}, {"xdg-open", u}, {"powershell", "Start-Process", u}}
	for _, c := range cmds {
		if _, err := exec.LookPath(c[0]); err == nil {
			_ = exec.Command(c[0], c[1:]...).Start()
			break
		}
	}
}
