package appbridge

import (
	"html/template"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// hostPage is the top-level document for one session. Its script owns the
// host side of the AppBridge protocol: it pulls the session payload over the
// WebSocket channel, hands the app HTML to the sandbox relay, answers the
// app's initialize handshake and proxies tools/call requests back to the
// process side. All privileged work happens here, on the host origin; the
// app only ever talks to this page through the sandbox relay.
const hostPage = `<!doctype html>
<html>
<head>
<meta charset="utf-8">
<title>{{.HostName}}</title>
<style>
body{font-family:system-ui,Arial,sans-serif;margin:0;display:flex;flex-direction:column;height:100vh}
#status{padding:0.4rem 0.8rem;font-size:0.85rem;color:#555;border-bottom:1px solid #ddd}
#status.error{color:#a00}
#sandbox{border:none;flex:1;width:100%}
</style>
</head>
<body>
<div id="status">connecting…</div>
<iframe id="sandbox" src="{{.SandboxURL}}"></iframe>
<script>
(function () {
	"use strict";
	var SESSION = {{.SessionID}};
	var PROTOCOL_VERSION = {{.ProtocolVersion}};
	var HOST_NAME = {{.HostName}};
	var HOST_VERSION = {{.HostVersion}};
	var METHODS = {
		initialize: {{.MethodInitialize}},
		toolInput: {{.MethodToolInput}},
		toolResult: {{.MethodToolResult}},
		toolsCall: {{.MethodToolsCall}},
		sizeChange: {{.MethodSizeChange}},
		openLink: {{.MethodOpenLink}},
		sandboxReady: {{.MethodSandboxReady}},
		resourceReady: {{.MethodResourceReady}}
	};

	var statusEl = document.getElementById("status");
	var frame = document.getElementById("sandbox");

	// State machine: connecting -> awaiting-payload -> loading-sandbox ->
	// awaiting-initialize -> ready. The payload and the sandbox-ready signal
	// race; whichever arrives first is buffered until both are in.
	var state = "connecting";
	var payload = null;
	var sandboxReady = false;
	var injected = false;

	var nextCallId = 1;
	var pendingCalls = {};

	function setState(next) {
		state = next;
		statusEl.textContent = next;
	}

	function setError(text) {
		statusEl.textContent = text;
		statusEl.className = "error";
	}

	var wsScheme = location.protocol === "https:" ? "wss" : "ws";
	var ws = new WebSocket(wsScheme + "://" + location.host + "/ws?session=" + encodeURIComponent(SESSION));

	ws.onopen = function () {
		setState("awaiting-payload");
	};
	ws.onclose = function () {
		// Outstanding proxied calls can never complete once the channel is
		// gone; fail each one instead of leaving the app pending forever.
		var pending = pendingCalls;
		pendingCalls = {};
		for (var key in pending) {
			pending[key]({ error: "connection closed" });
		}
		if (state !== "ready") {
			setError("session unavailable");
		}
	};
	ws.onmessage = function (event) {
		var msg;
		try {
			msg = JSON.parse(event.data);
		} catch (e) {
			return;
		}
		if (msg.type === "app-data") {
			payload = msg;
			setState("loading-sandbox");
			maybeInject();
		} else if (msg.type === "tool-result") {
			var resolve = pendingCalls[msg.id];
			if (resolve) {
				delete pendingCalls[msg.id];
				resolve(msg);
			}
		}
	};

	function maybeInject() {
		if (injected || !sandboxReady || payload === null) {
			return;
		}
		injected = true;
		sendToSandbox({ jsonrpc: "2.0", method: METHODS.resourceReady, params: { html: payload.html } });
		setState("awaiting-initialize");
	}

	function sendToSandbox(msg) {
		frame.contentWindow.postMessage(msg, "*");
	}

	function reply(id, result) {
		sendToSandbox({ jsonrpc: "2.0", id: id, result: result });
	}

	function replyError(id, message) {
		sendToSandbox({ jsonrpc: "2.0", id: id, error: { code: -32603, message: message } });
	}

	function notify(method, params) {
		sendToSandbox({ jsonrpc: "2.0", method: method, params: params });
	}

	function hostCapabilities() {
		var dark = window.matchMedia && window.matchMedia("(prefers-color-scheme: dark)").matches;
		return {
			protocolVersion: PROTOCOL_VERSION,
			hostInfo: { name: HOST_NAME, version: HOST_VERSION },
			capabilities: { serverTools: {}, openLinks: {} },
			hostContext: {
				theme: dark ? "dark" : "light",
				platform: "web",
				containerSize: { width: frame.clientWidth, height: frame.clientHeight },
				displayMode: "inline",
				availableDisplayModes: ["inline"]
			}
		};
	}

	window.addEventListener("message", function (event) {
		if (event.source !== frame.contentWindow) {
			return;
		}
		var msg = event.data;
		if (!msg || typeof msg !== "object") {
			return;
		}
		if (msg.method === METHODS.sandboxReady) {
			sandboxReady = true;
			maybeInject();
			return;
		}
		handleAppMessage(msg);
	});

	function handleAppMessage(msg) {
		var hasId = msg.id !== undefined && msg.id !== null;
		if (msg.method === METHODS.initialize && hasId) {
			// Fixed sequence: initialize response first, then the tool input
			// and tool result notifications, in that order.
			reply(msg.id, hostCapabilities());
			notify(METHODS.toolInput, { arguments: payload.toolInput || {} });
			notify(METHODS.toolResult, { result: payload.toolResult });
			setState("ready");
			return;
		}
		if (msg.method === METHODS.toolsCall && hasId) {
			if (state !== "ready") {
				replyError(msg.id, "host is not ready");
				return;
			}
			var callId = String(nextCallId++);
			var requestId = msg.id;
			pendingCalls[callId] = function (res) {
				if (res.error) {
					replyError(requestId, res.error);
				} else {
					reply(requestId, res.result);
				}
			};
			var params = msg.params || {};
			ws.send(JSON.stringify({
				type: "call-server-tool",
				id: callId,
				tool: params.name,
				arguments: params.arguments || {}
			}));
			return;
		}
		if (msg.method === METHODS.sizeChange) {
			// The size hint applies whether or not the app expects a reply;
			// the notification form carries no id.
			var params = msg.params || {};
			var width = Math.min(Number(params.width) || frame.clientWidth, window.innerWidth);
			var height = Math.min(Number(params.height) || frame.clientHeight, window.innerHeight);
			frame.style.width = width + "px";
			frame.style.height = height + "px";
			frame.style.flex = "none";
			if (hasId) {
				reply(msg.id, {});
			}
			return;
		}
		if (msg.method === METHODS.openLink && hasId) {
			var href = (msg.params || {}).url;
			if (typeof href === "string" && href !== "") {
				window.open(href, "_blank", "noopener");
			}
			reply(msg.id, {});
			return;
		}
		// Unknown requests get an empty success; unknown notifications are
		// dropped. Either way the controller keeps running.
		if (hasId) {
			reply(msg.id, {});
		}
	}
})();
</script>
</body>
</html>`

var hostTemplate = template.Must(template.New("host").Parse(hostPage))

type hostPageData struct {
	SessionID       string
	SandboxURL      string
	HostName        string
	HostVersion     string
	ProtocolVersion string

	MethodInitialize    string
	MethodToolInput     string
	MethodToolResult    string
	MethodToolsCall     string
	MethodSizeChange    string
	MethodOpenLink      string
	MethodSandboxReady  string
	MethodResourceReady string
}

// handleAppPage serves GET /app/{sessionId}.
func (s *Service) handleAppPage(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/app/")
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}
	if !s.registry.Exists(id) {
		http.NotFound(w, r)
		return
	}
	data := &hostPageData{
		SessionID:       id,
		SandboxURL:      s.sandboxURL + "/sandbox.html",
		HostName:        s.config.HostName,
		HostVersion:     s.config.HostVersion,
		ProtocolVersion: s.config.ProtocolVersion,

		MethodInitialize:    MethodInitialize,
		MethodToolInput:     MethodNotificationToolInput,
		MethodToolResult:    MethodNotificationToolResult,
		MethodToolsCall:     MethodToolsCall,
		MethodSizeChange:    MethodSizeChange,
		MethodOpenLink:      MethodOpenLink,
		MethodSandboxReady:  MethodSandboxReady,
		MethodResourceReady: MethodResourceReady,
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := hostTemplate.Execute(w, data); err != nil {
		s.logger.Error("failed to render host page", zap.Error(err))
	}
}
