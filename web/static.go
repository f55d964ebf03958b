package web

import (
	"github.com/rohanthewiz/rweb"
)

const faviconSVG = `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 500 500"><rect width="500" height="500" rx="40" fill="#3b5b7a"/><text x="250" y="330" font-family="Georgia,serif" font-weight="700" font-size="260" fill="white" text-anchor="middle">P</text></svg>`

const statusCSS = `body{font-family:system-ui,sans-serif;margin:0;background:#f7f7f5;color:#222}
header{background:#3b5b7a;color:#fff;padding:16px 24px}
header h1{margin:0;font-size:1.4em}
main{padding:24px}
.blog{background:#fff;padding:12px 16px;margin-bottom:16px;border:1px solid #e2e2e2}
.phase{font-family:monospace}
.phase-failed{color:#b00020}
.muted{color:#888}
footer{padding:12px 24px;color:#888;font-size:.85em}`

// SetupStaticFiles serves the favicon and the status page stylesheet.
func SetupStaticFiles(s *rweb.Server) {
	s.Get("/favicon.ico", func(c rweb.Context) error {
		c.Response().SetHeader("Content-Type", "image/svg+xml")
		c.Response().SetHeader("Cache-Control", "public, max-age=86400")
		return c.Bytes([]byte(faviconSVG))
	})

	s.Get("/static/status.css", func(c rweb.Context) error {
		c.Response().SetHeader("Content-Type", "text/css; charset=utf-8")
		c.Response().SetHeader("Cache-Control", "public, max-age=3600")
		return c.Bytes([]byte(statusCSS))
	})
}
