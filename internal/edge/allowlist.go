package edge

import (
	"net/http"
	"net/url"
	"slices"
	"strings"
)

const (
	corsAllowMethods = "GET,POST,PUT,DELETE,OPTIONS"
	corsAllowHeaders = "Content-Type, Authorization"
)

// AllowList is the set of hostnames permitted as CORS origins. Entries may carry a port.
type AllowList []string

// ParseAllowList splits a comma-separated list, trims each entry, strips one leading and
// one trailing double quote and drops empty entries. Single quotes are kept.
func ParseAllowList(raw string) AllowList {
	var out AllowList
	for _, part := range strings.Split(raw, ",") {
		host := unquote(strings.TrimSpace(part))
		if host == "" {
			continue
		}
		out = append(out, host)
	}
	return out
}

func unquote(s string) string {
	s = strings.TrimPrefix(s, `"`)
	return strings.TrimSuffix(s, `"`)
}

// Allows reports whether origin is an absolute URL whose hostname or host:port is listed.
// A default port for the scheme is not part of the host. Anything that does not parse is denied.
func (a AllowList) Allows(origin string) bool {
	if origin == "" || len(a) == 0 {
		return false
	}
	u, err := url.Parse(origin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return false
	}
	host := strings.ToLower(u.Host)
	if port := u.Port(); port != "" && defaultPorts[strings.ToLower(u.Scheme)] == port {
		host = strings.TrimSuffix(host, ":"+port)
	}
	return slices.Contains(a, strings.ToLower(u.Hostname())) || slices.Contains(a, host)
}

var defaultPorts = map[string]string{
	"http":  "80",
	"https": "443",
	"ws":    "80",
	"wss":   "443",
	"ftp":   "21",
}

// Apply sets the CORS response headers on h when origin is allowed and reports whether it did.
func (a AllowList) Apply(origin string, h http.Header) bool {
	if !a.Allows(origin) {
		return false
	}
	h.Set("Access-Control-Allow-Origin", origin)
	h.Set("Access-Control-Allow-Methods", corsAllowMethods)
	h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
	return true
}
