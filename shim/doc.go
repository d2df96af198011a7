// Package shim implements the mcp-apps frontend.
//
// The shim stands in between a text-only MCP client and a remote MCP server,
// forwarding JSON-RPC requests and responses while transparently handling
// transport and authentication concerns. On top of plain proxying it watches
// tool definitions for UI metadata: when a called tool declares an app
// resource, the shim fetches the resource's HTML, registers a one-shot
// browser session and appends the session URL to the tool result, leaving the
// result otherwise untouched.
package shim

// Transport selection
//
// The shim autodetects the transport of the remote MCP server: it first
// attempts a Streamable HTTP initialize (single-endpoint /mcp). If that
// succeeds, it uses the Streamable client; otherwise it falls back to the SSE
// client (/sse + /message). OAuth2 / backend-for-frontend authentication,
// when configured, is applied consistently to either transport.
