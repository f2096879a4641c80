package server

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
)

// indexScript is the inline bootstrap script injected into "/" and
// "/about", standing in for the asset-tree-certified bundle a served
// frontend would carry. It is intentionally trivial: the point is
// that the CSP's script-src carries a hash of whatever is actually
// inlined, not what the script does.
const indexScript = `window.__anchorsvc_boot = true;`

// cspTemplate is the fixed Content-Security-Policy value every
// response carries, with %s standing in for the inline script's
// sha256 hash. Every clause, ordering and trailing semicolon is
// load-bearing for clients that verify it against a fixed shape.
const cspTemplate = "default-src 'none';" +
	"connect-src 'self' https://identity.internetcomputer.org https://icp-api.io https://*.icp0.io https://*.ic0.app;" +
	"img-src 'self' data:;" +
	"script-src 'sha256-%s' 'unsafe-inline' 'unsafe-eval' 'strict-dynamic' https:;" +
	"base-uri 'none';" +
	"form-action 'none';" +
	"style-src 'self' 'unsafe-inline' https://fonts.googleapis.com;" +
	"style-src-elem 'self' 'unsafe-inline' https://fonts.googleapis.com;" +
	"font-src https://fonts.gstatic.com;" +
	"upgrade-insecure-requests;" +
	"frame-ancestors 'none';"

func scriptHash(script string) string {
	sum := sha256.Sum256([]byte(script))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// securityHeaders sets the fixed response headers every response
// carries. It applies unconditionally to every response the mux
// routes.
func securityHeaders(next http.Handler) http.Handler {
	csp := fmt.Sprintf(cspTemplate, scriptHash(indexScript))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Referrer-Policy", "same-origin")
		h.Set("Permissions-Policy", permissionsPolicyDenyAll)
		h.Set("Content-Security-Policy", csp)
		next.ServeHTTP(w, r)
	})
}

// permissionsPolicyDenyAll denies every permissions-policy feature
// this build knows about.
const permissionsPolicyDenyAll = "accelerometer=(),ambient-light-sensor=()," +
	"autoplay=(),battery=(),camera=(),display-capture=(),document-domain=()," +
	"encrypted-media=(),fullscreen=(),gamepad=(),geolocation=(),gyroscope=()," +
	"layout-animations=(),legacy-image-formats=(),magnetometer=(),microphone=()," +
	"midi=(),oversized-images=(),payment=(),picture-in-picture=()," +
	"publickey-credentials-get=(),speaker-selection=(),sync-xhr=()," +
	"unoptimized-images=(),unsized-media=(),usb=(),screen-wake-lock=()," +
	"web-share=(),xr-spatial-tracking=()"

const pageTemplate = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>%s</title>
<script>%s</script>
</head>
<body>
<h1>%s</h1>
</body>
</html>
`

func renderPage(title string) []byte {
	return []byte(fmt.Sprintf(pageTemplate, title, indexScript, title))
}

func handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(renderPage("Identity Anchor Service"))
}

func handleAbout(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(renderPage("About"))
}
