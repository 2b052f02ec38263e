package license

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"cal-edge/internal/config"
	"cal-edge/internal/metrics"
)

const maxReplyBytes = 1 << 20

// HTTPService calls the private license API and the license console.
type HTTPService struct {
	key        string
	privateURL string
	checkURL   string
	token      string
	e2e        bool
	timeout    time.Duration

	client   *http.Client
	cache    *Cache
	logger   *slog.Logger
	metrics  *metrics.Metrics
	newNonce func() string
}

var _ Service = (*HTTPService)(nil)

// NewHTTP creates the service for key. Metrics may be nil.
func NewHTTP(cfg *config.Config, key string, cache *Cache, logger *slog.Logger, m *metrics.Metrics) (*HTTPService, error) {
	if key == "" {
		return nil, ErrNoLicenseKey
	}
	if cache == nil {
		cache = NewCache(time.Duration(cfg.License.CacheTTLSeconds) * time.Second)
	}
	timeout := time.Duration(cfg.License.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &HTTPService{
		key:        key,
		privateURL: strings.TrimRight(cfg.License.PrivateAPIURL, "/"),
		checkURL:   cfg.License.CheckURL,
		token:      cfg.License.SignatureToken,
		e2e:        cfg.App.E2E,
		timeout:    timeout,
		client:     &http.Client{},
		cache:      cache,
		logger:     logger,
		metrics:    m,
		newNonce:   uuid.NewString,
	}, nil
}

// IncrementUsage posts a usage increment. Errors are logged and returned.
func (s *HTTPService) IncrementUsage(ctx context.Context, event UsageEvent) (any, error) {
	if event == "" {
		event = UsageBooking
	}
	u := s.privateURL + "/v1/license/usage/increment?event=" + url.QueryEscape(string(event))

	var reply any
	if err := s.do(ctx, http.MethodPost, u, &reply); err != nil {
		s.observe("increment", "error")
		s.logger.Error("incrementing usage failed", "event", event, "error", err)
		return nil, err
	}
	s.observe("increment", "ok")
	return reply, nil
}

// CheckLicense asks the license console whether the key is valid. A valid answer is
// cached for the cache TTL; an invalid one is asked again next time.
func (s *HTTPService) CheckLicense(ctx context.Context) bool {
	if s.e2e {
		return true
	}
	u := s.checkURL + "?key=" + url.QueryEscape(s.key)

	if valid, ok := s.cache.Get(u); ok && valid {
		s.observe("check", "cached")
		return true
	}

	var reply struct {
		Valid bool `json:"valid"`
	}
	if err := s.do(ctx, http.MethodGet, u, &reply); err != nil {
		s.observe("check", "error")
		s.logger.Error("check license failed", "error", err)
		return false
	}
	s.cache.Put(u, reply.Valid)
	s.observe("check", "ok")
	return reply.Valid
}

// do sends a request without a body and decodes the JSON reply into out. The
// signature covers the empty JSON object plus the nonce.
func (s *HTTPService) do(ctx context.Context, method, u string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return fmt.Errorf("license: build request: %w", err)
	}
	nonce := s.newNonce()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("nonce", nonce)
	req.Header.Set("x-cal-license-key", s.key)
	if s.token == "" {
		s.logger.Warn("signature token is not set, license requests are unsigned")
	} else {
		req.Header.Set("signature", Sign([]byte("{}"), nonce, s.token))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("license: %s %s: %w", method, redact(u), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return fmt.Errorf("license: read reply: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("license: %s %s: status %d", method, redact(u), resp.StatusCode)
	}
	if err := json.NewDecoder(bytes.NewReader(body)).Decode(out); err != nil {
		return fmt.Errorf("license: decode reply: %w", err)
	}
	return nil
}

func (s *HTTPService) observe(op, outcome string) {
	if s.metrics != nil {
		s.metrics.LicenseCalls.WithLabelValues(op, outcome).Inc()
	}
}

// Sign returns the hex HMAC-SHA256 of body followed by nonce.
func Sign(body []byte, nonce, token string) string {
	mac := hmac.New(sha256.New, []byte(token))
	mac.Write(body)
	mac.Write([]byte(nonce))
	return hex.EncodeToString(mac.Sum(nil))
}

// redact drops the query string, which carries the license key.
func redact(u string) string {
	if i := strings.IndexByte(u, '?'); i >= 0 {
		return u[:i]
	}
	return u
}
