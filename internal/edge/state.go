package edge

import (
	"net/http"
	"net/url"
	"strings"
)

// State carries one request through the guard chain. URL, Header and cookies describe
// the inbound request and are never modified. Forward holds the headers sent upstream
// and starts as a copy of the inbound headers minus the ones the chain computes.
// Response holds headers added to the client response.
type State struct {
	URL      *url.URL
	Header   http.Header
	Forward  http.Header
	Response http.Header

	// Nonce is the per-request CSP nonce, empty when CSP is not opted in.
	Nonce string

	cookies []*http.Cookie
}

// NewState captures r as an absolute URL plus its headers and cookies.
func NewState(r *http.Request) *State {
	u := *r.URL
	u.Scheme = requestScheme(r)
	u.Host = r.Host
	fwd := r.Header.Clone()
	for _, h := range computedHeaders {
		fwd.Del(h)
	}
	return &State{
		URL:      &u,
		Header:   r.Header.Clone(),
		Forward:  fwd,
		Response: http.Header{},
		cookies:  r.Cookies(),
	}
}

// computedHeaders are set only by guards; client-supplied values never reach upstream.
var computedHeaders = []string{
	headerURL,
	headerCSPMarker,
	headerCSPEnforce,
	headerTimezone,
	headerPathname,
	headerLocale,
	headerOrgSlug,
}

func requestScheme(r *http.Request) string {
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		return strings.ToLower(strings.TrimSpace(strings.Split(proto, ",")[0]))
	}
	if r.TLS != nil {
		return "https"
	}
	return "http"
}

// Path returns the inbound request path.
func (s *State) Path() string {
	return s.URL.Path
}

// Cookie returns the value of the named inbound cookie.
func (s *State) Cookie(name string) (string, bool) {
	for _, c := range s.cookies {
		if c.Name == name {
			return c.Value, true
		}
	}
	return "", false
}

// Kind is the outcome of a guard or of the whole chain.
type Kind int

const (
	// KindNext passes control to the next guard. It is never returned by Chain.Run.
	KindNext Kind = iota
	// KindContinue forwards the request upstream with the accumulated headers.
	KindContinue
	// KindRewrite forwards the request upstream under a different path.
	KindRewrite
	// KindRedirect sends the client a temporary redirect.
	KindRedirect
	// KindRespond answers the client directly.
	KindRespond
)

func (k Kind) String() string {
	switch k {
	case KindNext:
		return "next"
	case KindContinue:
		return "continue"
	case KindRewrite:
		return "rewrite"
	case KindRedirect:
		return "redirect"
	case KindRespond:
		return "respond"
	default:
		return "unknown"
	}
}

// Result is what a guard decides. Only the fields relevant to Kind are set.
type Result struct {
	Kind  Kind
	Guard string

	// Path is the upstream path for KindContinue and KindRewrite.
	Path string
	// Location is the absolute redirect target for KindRedirect.
	Location string
	// Status and Body form the direct reply for KindRespond.
	Status int
	Body   any

	// Forward is the upstream request header set (KindContinue).
	Forward http.Header
	// Header is added to the client response.
	Header http.Header
}

// Terminal reports whether r ends the chain.
func (r Result) Terminal() bool {
	return r.Kind != KindNext
}

func next() Result {
	return Result{Kind: KindNext}
}

func rewrite(path string) Result {
	return Result{Kind: KindRewrite, Path: path}
}
