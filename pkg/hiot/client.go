package hiot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hthome/hiot/pkg/common"
	"github.com/hthome/hiot/pkg/log"
	"github.com/hthome/hiot/pkg/metrics"
)

// DefaultBaseURL is the HT HomeService web endpoint.
const DefaultBaseURL = "https://www2.hthomeservice.com"

const (
	maxAuthRetryAttempts = 10
	maxAuthRetryDelay    = 10 * time.Second

	maxErrorBody = 512
)

// Client talks to the HT HomeService API. It holds the login credentials and
// the selected site in memory so that an expired session can be recovered
// without involving the caller. A Client is safe for concurrent use.
type Client struct {
	client     *http.Client
	baseURL    string
	passphrase string
	metrics    *metrics.Metrics
	sleep      func(ctx context.Context, d time.Duration) error

	reauth singleflight.Group

	mu            sync.Mutex
	authenticated bool
	session       uint64 // bumped on every successful login
	username      string
	password      string
	site          Site
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides DefaultBaseURL.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = baseURL
	}
}

// WithPassphrase overrides DefaultPassphrase for credential encryption.
func WithPassphrase(passphrase string) Option {
	return func(c *Client) {
		c.passphrase = passphrase
	}
}

// WithMetrics records request metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// New returns a Client using httpClient for transport. The session lives in
// cookies so httpClient should have a cookie jar. When httpClient is nil
// common.HTTPClient is used.
func New(httpClient *http.Client, opts ...Option) *Client {
	if httpClient == nil {
		httpClient = common.HTTPClient(30 * time.Second)
	}
	c := &Client{
		client:     httpClient,
		baseURL:    DefaultBaseURL,
		passphrase: DefaultPassphrase,
		sleep:      sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// authRetryDelay returns the backoff before retrying attempt (1-based).
func authRetryDelay(attempt int) time.Duration {
	return min(time.Duration(1<<(attempt-1))*time.Second, maxAuthRetryDelay)
}

// Authenticated reports whether the client currently believes its session is
// valid.
func (c *Client) Authenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticated
}

// Site returns the site selected with AcquireSiteToken.
func (c *Client) Site() Site {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.site
}

// Close forgets the credentials and the site. The http.Client is owned by
// the caller and is left alone.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authenticated = false
	c.username = ""
	c.password = ""
	c.site = Site{}
	return nil
}

func (c *Client) loggedIn() {
	c.mu.Lock()
	c.authenticated = true
	c.session++
	c.mu.Unlock()
}

func (c *Client) sessionGeneration() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// invalidateSession marks the session expired unless a login has happened
// since gen was read. A stale 401 must not undo a newer login.
func (c *Client) invalidateSession(gen uint64) {
	c.mu.Lock()
	if c.session == gen {
		c.authenticated = false
	}
	c.mu.Unlock()
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, params url.Values, body any) (*http.Request, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, err
	}
	u = u.JoinPath(endpoint)
	if len(params) > 0 {
		u.RawQuery = params.Encode()
	}

	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), r)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// do performs a request and returns the decoded body. A 401 on a request
// that requires auth recovers the session and retries with backoff.
func (c *Client) do(ctx context.Context, method, endpoint string, params url.Values, body any, requiresAuth bool) (any, error) {
	var attempt int
	for {
		req, err := c.newRequest(ctx, method, endpoint, params, body)
		if err != nil {
			return nil, apiError("failed to build request", err)
		}

		gen := c.sessionGeneration()
		start := time.Now()
		resp, err := c.client.Do(req)
		if err != nil {
			c.metrics.UpstreamRequest(method, 0, time.Since(start))
			log.Ctx(ctx).DebugContext(ctx, "hiot request failed", slog.String("endpoint", endpoint), slog.Any("error", err))
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, apiError("request cancelled", ctxErr)
			}
			return nil, connectionError(err)
		}
		c.metrics.UpstreamRequest(method, resp.StatusCode, time.Since(start))

		if resp.StatusCode != http.StatusUnauthorized {
			return handleResponse(resp)
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		if !requiresAuth {
			return nil, authError("authentication failed")
		}

		c.invalidateSession(gen)
		attempt++
		if attempt > maxAuthRetryAttempts {
			log.Ctx(ctx).ErrorContext(ctx, "hiot re-authentication exhausted", slog.String("endpoint", endpoint))
			return nil, authError(fmt.Sprintf("authentication failed after %d retries", maxAuthRetryAttempts))
		}

		if err := c.ensureAuthenticated(ctx); err != nil {
			return nil, err
		}
		// a flight joined just before another caller's stale 401 landed can
		// finish without a valid session
		if !c.Authenticated() {
			if err := c.ensureAuthenticated(ctx); err != nil {
				return nil, err
			}
		}

		delay := authRetryDelay(attempt)
		log.Ctx(ctx).WarnContext(
			ctx,
			"hiot request unauthorized, retrying",
			slog.String("endpoint", endpoint),
			slog.Int("attempt", attempt),
			slog.Int("maxAttempts", maxAuthRetryAttempts),
			slog.Duration("delay", delay),
		)
		c.metrics.AuthRetry()
		if err := c.sleep(ctx, delay); err != nil {
			return nil, apiError("retry interrupted", err)
		}
	}
}

func handleResponse(resp *http.Response) (any, error) {
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, connectionError(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		excerpt := string(body)
		if len(excerpt) > maxErrorBody {
			excerpt = excerpt[:maxErrorBody]
		}
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: excerpt}
	}
	if len(body) == 0 {
		return map[string]any{}, nil
	}

	contentType := strings.ToLower(resp.Header.Get("Content-Type"))
	if !strings.Contains(contentType, "json") && body[0] != '{' && body[0] != '[' {
		return map[string]any{}, nil
	}

	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, apiError("failed to decode response", err)
	}
	return v, nil
}

// ensureAuthenticated logs in again unless the session is already valid.
// Concurrent callers share a single login.
func (c *Client) ensureAuthenticated(ctx context.Context) error {
	// the flight is shared so it must not be cancelled by whichever caller
	// happened to start it
	flightCtx := context.WithoutCancel(ctx)
	_, err, shared := c.reauth.Do("login", func() (any, error) {
		return nil, c.reauthenticate(flightCtx)
	})
	if shared {
		log.Ctx(ctx).DebugContext(ctx, "joined in-flight hiot re-authentication")
	}
	return err
}

func (c *Client) reauthenticate(ctx context.Context) error {
	c.mu.Lock()
	authenticated := c.authenticated
	username, password := c.username, c.password
	site := c.site
	c.mu.Unlock()

	if authenticated {
		return nil
	}
	if username == "" || password == "" {
		return authError("no credentials stored for re-authentication")
	}

	log.Ctx(ctx).InfoContext(ctx, "re-authenticating to hiot")
	if err := c.Login(ctx, username, password); err != nil {
		return err
	}
	c.metrics.Reauthenticated()

	if site.Complete() {
		// replayed without the retry loop: a 401 here would otherwise wait on
		// the flight that is running this very call
		if err := c.acquireSiteToken(ctx, site, false); err != nil {
			return err
		}
	}
	return nil
}
