package shim

// Options configures the shim: the upstream MCP endpoint, optional upstream
// authentication, the CLI-facing transport, and the app bridging engine.
type Options struct {
	URL                      string `short:"u" long:"url" env:"MCP_APPS_URL" description:"upstream mcp url" required:"true"`
	UseIdToken               bool   `short:"i" long:"id-token" description:"use id token"`
	BackendForFrontend       bool   `short:"b" long:"backend-for-frontend" description:"use backend for frontend"`
	BackendForFrontendHeader string `short:"H" long:"backend-for-frontend-header" description:"backend for frontend header"`
	OAuth2ConfigURL          string `short:"c" long:"config" env:"MCP_APPS_OAUTH_CONFIG" description:"oauth2 config file"`
	EncryptionKey            string `short:"k" long:"key" description:"encryption key"`

	// CLI-facing transport.
	Serve    string `long:"serve" description:"cli facing transport" choice:"stdio" choice:"http" default:"stdio"`
	HTTPAddr string `long:"http-addr" description:"http listen address when --serve=http" default:"127.0.0.1:5000"`

	// App bridging engine.
	HostListenAddr      string `long:"host-listen" env:"MCP_APPS_HOST_LISTEN" description:"host page listen address" default:"127.0.0.1:0"`
	SandboxListenAddr   string `long:"sandbox-listen" env:"MCP_APPS_SANDBOX_LISTEN" description:"sandbox relay listen address" default:"127.0.0.1:0"`
	NoBrowser           bool   `long:"no-browser" description:"do not open the system browser, only print session URLs"`
	ProxyTimeoutSeconds int    `long:"proxy-timeout" description:"seconds a proxied server-tool call may stay pending" default:"60"`
	SessionTTLSeconds   int    `long:"session-ttl" description:"seconds an unclaimed app session is kept" default:"300"`
}
