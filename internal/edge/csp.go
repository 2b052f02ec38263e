package edge

import (
	"encoding/base64"
	"strings"

	"github.com/google/uuid"
)

// Values of the x-csp request header when no nonce is handed to the page.
const (
	cspNotOptedIn       = "not-opted-in"
	cspInitialPropsOnly = "initialPropsOnly"
)

const (
	headerCSP           = "Content-Security-Policy"
	headerCSPReportOnly = "Content-Security-Policy-Report-Only"
)

// NewNonce returns a base64-encoded random 128-bit value.
func NewNonce() string {
	id := uuid.New()
	return base64.StdEncoding.EncodeToString(id[:])
}

// Policy is a Content-Security-Policy template. The token {nonce} is replaced per request.
type Policy string

// Enabled reports whether a policy was configured.
func (p Policy) Enabled() bool {
	return strings.TrimSpace(string(p)) != ""
}

// Render substitutes the nonce into the template.
func (p Policy) Render(nonce string) string {
	return strings.ReplaceAll(string(p), "{nonce}", nonce)
}

// HeaderName returns the enforcing header when enforce is set, the report-only one otherwise.
func (p Policy) HeaderName(enforce bool) string {
	if enforce {
		return headerCSP
	}
	return headerCSPReportOnly
}
