package gateway

import (
	"encoding/base64"
	"net/http"

	"github.com/novapress/edgeworker/internal/templates"
)

// transparentPixel is a 1x1 transparent GIF served in place of images that
// cannot be fetched or restored from cache, so page layout never breaks on a
// missing asset.
var transparentPixel, _ = base64.StdEncoding.DecodeString(
	"R0lGODlhAQABAIAAAAAAAP///yH5BAEAAAAALAAAAAABAAEAAAIBRAA7")

// defaultOfflinePage is the synthesized navigation fallback. A configured
// template file replaces it when present.
const defaultOfflinePage = `<!DOCTYPE html>
<html lang="fr">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{ .app | title }} — Hors ligne</title>
<style>
body { font-family: system-ui, sans-serif; display: flex; align-items: center; justify-content: center; min-height: 100vh; margin: 0; background: #f5f5f7; }
main { text-align: center; padding: 2rem; }
button { margin-top: 1rem; padding: .6rem 1.4rem; border: none; border-radius: .4rem; background: #1a73e8; color: #fff; font-size: 1rem; cursor: pointer; }
</style>
</head>
<body>
<main>
<h1>Vous êtes hors ligne</h1>
<p>{{ .app | title }} ne peut pas joindre le serveur pour le moment.</p>
<button onclick="location.reload()">Réessayer</button>
</main>
</body>
</html>
`

func writePlaceholderImage(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(transparentPixel)
}

func (g *Gateway) writeOfflinePage(w http.ResponseWriter) {
	body := ""
	if g.offlinePage != nil {
		rendered, err := g.offlinePage.Render(map[string]any{"app": g.app})
		if err == nil {
			body = rendered
		} else {
			g.logger.Warn("offline page render failed", "error", err)
		}
	}
	if body == "" {
		body = "offline"
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte(body))
}

// compileOfflinePage prefers the configured template file and falls back to
// the built-in page.
func compileOfflinePage(renderer *templates.Renderer, file string) (*templates.Template, error) {
	if file != "" {
		return renderer.CompileFile(file)
	}
	return renderer.CompileInline("offline", defaultOfflinePage)
}
