package appbridge

import (
	"html/template"
	"net/http"

	"go.uber.org/zap"
)

// sandboxPage is served from its own origin so the app HTML it hosts never
// shares an origin with the host page. The script below is the only code
// allowed to bridge the two origins and it is deliberately content-agnostic:
// apart from the two privileged handshake methods it forwards every message
// verbatim, deciding direction purely by message source.
const sandboxPage = `<!doctype html>
<html>
<head>
<meta charset="utf-8">
<title>sandbox</title>
<style>html,body{margin:0;height:100%}#app{border:none;width:100%;height:100%}</style>
</head>
<body>
<iframe id="app" sandbox="allow-scripts allow-same-origin"></iframe>
<script>
(function () {
	"use strict";
	var SANDBOX_READY = {{.MethodSandboxReady}};
	var RESOURCE_READY = {{.MethodResourceReady}};

	var frame = document.getElementById("app");
	var loaded = false;

	window.addEventListener("message", function (event) {
		if (event.source === window.parent) {
			var msg = event.data;
			if (msg && typeof msg === "object" && msg.method === RESOURCE_READY) {
				// Exactly one injection per sandbox lifetime.
				if (loaded) {
					return;
				}
				loaded = true;
				frame.srcdoc = (msg.params || {}).html || "";
				return;
			}
			frame.contentWindow.postMessage(msg, "*");
			return;
		}
		if (event.source === frame.contentWindow) {
			window.parent.postMessage(event.data, "*");
		}
	});

	window.parent.postMessage({ jsonrpc: "2.0", method: SANDBOX_READY }, "*");
})();
</script>
</body>
</html>`

var sandboxTemplate = template.Must(template.New("sandbox").Parse(sandboxPage))

type sandboxPageData struct {
	MethodSandboxReady  string
	MethodResourceReady string
}

// handleSandbox serves GET /sandbox.html on the sandbox origin.
func (s *Service) handleSandbox(w http.ResponseWriter, r *http.Request) {
	// The relay document may frame nothing but its own script-controlled
	// nested context and loads no plugin content.
	w.Header().Set("Content-Security-Policy",
		"default-src 'self'; script-src 'self' 'unsafe-inline'; style-src 'self' 'unsafe-inline'; "+
			"connect-src 'self'; frame-src 'self' blob: data: about:; object-src 'none'; base-uri 'none'")
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	data := &sandboxPageData{
		MethodSandboxReady:  MethodSandboxReady,
		MethodResourceReady: MethodResourceReady,
	}
	if err := sandboxTemplate.Execute(w, data); err != nil {
		s.logger.Error("failed to render sandbox page", zap.Error(err))
	}
}
