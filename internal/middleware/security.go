package middleware

import (
	"strings"

	"github.com/labstack/echo/v4"
)

// requestHopByHop are connection-scoped request headers dropped before routing.
var requestHopByHop = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"TE",
	"Trailer",
	"Upgrade",
}

// SecurityHeaders returns an Echo middleware that strips hop-by-hop request headers
// and adds baseline security headers to responses that do not already carry them.
// Embed pages are left framable.
func SecurityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			hdr := c.Request().Header
			for _, v := range hdr.Values("Connection") {
				for _, name := range strings.Split(v, ",") {
					if name = strings.TrimSpace(name); name != "" {
						hdr.Del(name)
					}
				}
			}
			for _, h := range requestHopByHop {
				hdr.Del(h)
			}

			embed := strings.HasSuffix(strings.TrimSuffix(c.Request().URL.Path, "/"), "/embed")
			res := c.Response()
			res.Before(func() {
				h := res.Header()
				if h.Get("X-Content-Type-Options") == "" {
					h.Set("X-Content-Type-Options", "nosniff")
				}
				if !embed && h.Get("X-Frame-Options") == "" {
					h.Set("X-Frame-Options", "SAMEORIGIN")
				}
			})

			return next(c)
		}
	}
}
