// Package stats fetches popularity data from external analytics providers.
package stats

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/okian/popstats/internal/domain/model"
	"github.com/okian/popstats/pkg/logger"
)

// Source returns popularity entries, most popular first.
type Source interface {
	Fetch(ctx context.Context, params model.FetchParams) ([]model.PopularityEntry, error)
}

// Disabled is the Source used when no provider is configured.
type Disabled struct{}

// Fetch always fails with ErrProviderUnavailable.
func (Disabled) Fetch(context.Context, model.FetchParams) ([]model.PopularityEntry, error) {
	return nil, ErrProviderUnavailable
}

// DefaultAPIKeyHeader carries the provider API key when one is configured.
const DefaultAPIKeyHeader = "X-Api-Key"

// Option configures an HTTP backed source.
type Option func(*httpSource)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(s *httpSource) {
		if c != nil {
			s.client = c
		}
	}
}

// WithTimeout sets the per request timeout. A client passed to
// WithHTTPClient is copied, not modified.
func WithTimeout(d time.Duration) Option {
	return func(s *httpSource) {
		if d > 0 {
			c := *s.client
			c.Timeout = d
			s.client = &c
		}
	}
}

// WithMinInterval throttles requests to at most one per d.
func WithMinInterval(d time.Duration) Option {
	return func(s *httpSource) {
		if d > 0 {
			s.limiter = rate.NewLimiter(rate.Every(d), 1)
		}
	}
}

// WithAPIKey sends key in header on every request.
func WithAPIKey(header, key string) Option {
	return func(s *httpSource) {
		if header == "" {
			header = DefaultAPIKeyHeader
		}
		s.apiHeader, s.apiKey = header, key
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(s *httpSource) {
		if l != nil {
			s.log = l
		}
	}
}

// httpSource holds what every HTTP provider shares.
type httpSource struct {
	endpoint  string
	client    *http.Client
	limiter   *rate.Limiter
	apiHeader string
	apiKey    string
	accept    string
	log       logger.Logger
}

func newHTTPSource(endpoint string, opts ...Option) httpSource {
	s := httpSource{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 5 * time.Second},
		limiter:  rate.NewLimiter(rate.Every(time.Second), 1),
		log:      logger.NewNop(),
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// get performs the throttled request and returns the response body.
func (s *httpSource) get(ctx context.Context, params model.FetchParams) ([]byte, error) {
	if s.endpoint == "" {
		return nil, errors.Wrap(ErrProviderUnavailable, "no endpoint configured")
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, errors.Wrapf(ErrProviderUnavailable, "rate limiter: %v", err)
	}

	u, err := url.Parse(s.endpoint)
	if err != nil {
		return nil, errors.Wrapf(ErrProviderUnavailable, "parse endpoint: %v", err)
	}
	q := u.Query()
	q.Set("days", strconv.Itoa(params.LookbackDays))
	q.Set("limit", strconv.Itoa(params.Limit))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, errors.Wrapf(ErrProviderUnavailable, "build request: %v", err)
	}
	if s.accept != "" {
		req.Header.Set("Accept", s.accept)
	}
	if s.apiKey != "" {
		req.Header.Set(s.apiHeader, s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(ErrProviderUnavailable, "GET %s: %v", s.endpoint, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errors.Wrapf(ErrProviderError, "GET %s: status %d", s.endpoint, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrapf(ErrProviderError, "read body: %v", err)
	}
	if len(body) == 0 {
		return nil, errors.Wrap(ErrProviderError, "empty response body")
	}
	return body, nil
}

// validID reports whether id names a real item. Blank and zero ids are
// placeholders some providers emit for unattributed views.
func validID(id string) bool {
	return id != "" && id != "0"
}
