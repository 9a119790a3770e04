package idp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

// maxBodyBytes bounds how much of a response body is read.
const maxBodyBytes = 1 << 20

// Client talks to the identity provider's admin API and token endpoints.
// It is safe for concurrent use.
type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
	admin      *adminTokenCache
	userConf   *oauth2.Config
	logger     *slog.Logger
	now        func() time.Time
	newBackOff func() backoff.BackOff
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client used for every request. Per-attempt timeouts are applied
// through the request context, not the client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the logger. Tokens and passwords are never logged.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithClock overrides time.Now for token expiry.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// WithBackOff overrides the retry schedule.
func WithBackOff(f func() backoff.BackOff) Option {
	return func(c *Client) { c.newBackOff = f }
}

// New returns a Client for cfg.
func New(cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	c := &Client{
		cfg:        cfg,
		httpClient: http.DefaultClient,
		logger:     slog.Default(),
		now:        time.Now,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = 2 * time.Second
			return b
		},
	}
	for _, opt := range opts {
		opt(c)
	}

	if cfg.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), int(math.Max(1, math.Ceil(cfg.RateLimit))))
	} else {
		c.limiter = rate.NewLimiter(rate.Inf, 0)
	}

	c.admin = &adminTokenCache{
		conf: &oauth2.Config{
			ClientID: cfg.AdminClientID,
			Endpoint: oauth2.Endpoint{
				TokenURL:  c.tokenURL(cfg.AdminRealm),
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		username:   cfg.AdminUsername,
		password:   cfg.AdminPassword,
		ttl:        cfg.TokenTTL,
		timeout:    cfg.Timeout,
		httpClient: c.httpClient,
		now:        c.now,
	}
	c.userConf = &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  c.tokenURL(cfg.Realm),
			AuthStyle: oauth2.AuthStyleInParams,
		},
		Scopes: []string{"openid"},
	}
	return c, nil
}

func (c *Client) tokenURL(realm string) string {
	return c.cfg.BaseURL + "/realms/" + url.PathEscape(realm) + "/protocol/openid-connect/token"
}

func (c *Client) adminURL(path string, query url.Values) string {
	u := c.cfg.BaseURL + "/admin/realms/" + url.PathEscape(c.cfg.Realm) + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

type request struct {
	op     string
	method string
	path   string
	query  url.Values
	body   any
}

type response struct {
	status   int
	header   http.Header
	body     []byte
	attempts int
}

// retryableStatus carries a 429 or 5xx response out of a retry attempt.
type retryableStatus struct {
	resp *response
}

func (e *retryableStatus) Error() string {
	return "idp: status " + strconv.Itoa(e.resp.status)
}

// do sends req with the admin token, retrying network errors, 429 and 5xx up to MaxRetries attempts.
// A 401 forces one token refresh within the same attempt. Non-retryable statuses are returned as a
// response for the caller to classify; only transport failures are returned as errors.
func (c *Client) do(ctx context.Context, req request) (*response, error) {
	var payload []byte
	if req.body != nil {
		b, err := json.Marshal(req.body)
		if err != nil {
			return nil, fmt.Errorf("idp: encode %s: %w", req.op, err)
		}
		payload = b
	}

	attempts := 0
	op := func() (*response, error) {
		attempts++
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, backoff.Permanent(err)
		}
		resp, err := c.attempt(ctx, req, payload)
		if err != nil {
			if errors.Is(err, ErrUnauthorized) || ctx.Err() != nil {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		resp.attempts = attempts
		switch {
		case resp.status == http.StatusTooManyRequests:
			if secs, ok := retryAfter(resp.header.Get("Retry-After"), c.cfg.Timeout); ok {
				return nil, errors.Join(backoff.RetryAfter(secs), &retryableStatus{resp: resp})
			}
			return nil, &retryableStatus{resp: resp}
		case resp.status >= 500:
			return nil, &retryableStatus{resp: resp}
		}
		return resp, nil
	}

	resp, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(c.newBackOff()),
		backoff.WithMaxTries(uint(c.cfg.MaxRetries)),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.logger.WarnContext(ctx, "idp request retry", "op", req.op, "attempt", attempts, "next", next, "error", err)
		}),
	)
	if err != nil {
		var rs *retryableStatus
		if errors.As(err, &rs) {
			return rs.resp, nil
		}
		if errors.Is(err, ErrUnauthorized) {
			return &response{status: http.StatusUnauthorized, attempts: attempts}, nil
		}
		return nil, unreachable(req.op, err)
	}
	return resp, nil
}

// retryAfter parses a Retry-After delay in seconds, capped at limit so a provider hint cannot stall
// a saga past one attempt timeout.
func retryAfter(header string, limit time.Duration) (int, bool) {
	secs, err := strconv.Atoi(strings.TrimSpace(header))
	if err != nil || secs <= 0 {
		return 0, false
	}
	if capSecs := int(math.Ceil(limit.Seconds())); capSecs > 0 && secs > capSecs {
		secs = capSecs
	}
	return secs, true
}

// attempt performs one HTTP exchange bounded by cfg.Timeout.
func (c *Client) attempt(ctx context.Context, req request, payload []byte) (*response, error) {
	for refreshed := false; ; refreshed = true {
		token, err := c.admin.get(ctx)
		if err != nil {
			return nil, err
		}
		resp, err := c.send(ctx, req, payload, token)
		if err != nil {
			return nil, err
		}
		if resp.status == http.StatusUnauthorized && !refreshed {
			c.admin.invalidate(token)
			continue
		}
		return resp, nil
	}
}

func (c *Client) send(ctx context.Context, req request, payload []byte, token string) (*response, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	httpReq, err := http.NewRequestWithContext(attemptCtx, req.method, c.adminURL(req.path, req.query), body)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Accept", "application/json")
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()
	b, err := io.ReadAll(io.LimitReader(httpResp.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}
	return &response{status: httpResp.StatusCode, header: httpResp.Header, body: b}, nil
}

func (r *response) ok() bool {
	return r.status >= 200 && r.status < 300
}

func (r *response) decode(v any) error {
	if err := json.Unmarshal(r.body, v); err != nil {
		return fmt.Errorf("idp: decode response: %w", err)
	}
	return nil
}
