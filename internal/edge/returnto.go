package edge

import "net/url"

// ReturnTo is the redirect target recovered from a return-to cookie.
// Parsed is false when the cookie was not an absolute URL and Path is the raw value.
type ReturnTo struct {
	Path   string
	Parsed bool
}

// ResolveReturnTo extracts the path component of an absolute URL, falling back to the
// raw value for anything else. Absolute URLs without a hierarchical path, including
// opaque ones such as "javascript:alert(1)" or "mailto:a@b.c", resolve to "/" so the
// redirect always stays on the inbound host.
func ResolveReturnTo(raw string) ReturnTo {
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() {
		return ReturnTo{Path: raw}
	}
	p := u.Path
	if p == "" {
		p = "/"
	}
	return ReturnTo{Path: p, Parsed: true}
}
