package aptus

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/publicsuffix"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

const (
	// DefaultUserAgent mimics a desktop browser; the portal serves its
	// desktop login form to it.
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
		"(KHTML, like Gecko) Chrome/97.0.4692.99 Safari/537.36"

	defaultTimeout           = 15 * time.Second
	loginPageTimeout         = 20 * time.Second
	defaultRequestsPerSecond = 2.0

	// maxBodySize bounds any portal response read into memory.
	maxBodySize = 4 << 20

	htmlAccept = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"
	ajaxAccept = "application/json, text/javascript, */*; q=0.01"

	loginPath  = "Account/Login"
	logoffPath = "Account/LogOff"
	lockPath   = "Lock"

	returnURL = "/AptusPortal/"
)

// successMarkers appear on the portal landing page only when logged in.
var successMarkers = []string{"Log ud", "L&#229;s", "Lås"}

// Config configures a portal client.
type Config struct {
	// BaseURL is the portal root, e.g. https://foo.aptustotal.se/AptusPortal/
	BaseURL  string
	Username string
	Password string

	// Timeout bounds one AJAX request. Zero means 15s.
	Timeout time.Duration

	// RequestsPerSecond caps outgoing requests. Zero means 2/s.
	RequestsPerSecond float64

	// UserAgent overrides DefaultUserAgent.
	UserAgent string

	// HTTPClient replaces the default transport. Its Jar is replaced with a
	// fresh cookie jar.
	HTTPClient *http.Client
}

// Logger is the subset of logging.Logger the client uses.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Observer receives request and login outcomes, typically for metrics.
type Observer interface {
	ObservePortalRequest(endpoint, outcome string, duration time.Duration)
	ObserveLogin(outcome string)
}

// Client is one authenticated session against an Aptus portal.
//
// The session lives in a cookie jar. Session-bound calls made after the
// portal dropped the session trigger one shared re-login and a single retry.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Client struct {
	base      *url.URL
	username  string
	password  string
	userAgent string
	timeout   time.Duration

	http    *http.Client
	limiter *rate.Limiter
	relogin singleflight.Group

	mu       sync.RWMutex
	loggedIn bool
	expired  bool
	gen      uint64

	logger   Logger
	observer Observer
	hookMu   sync.RWMutex
}

// New validates the base URL and prepares an unauthenticated client.
func New(cfg Config) (*Client, error) {
	base, err := parseBaseURL(cfg.BaseURL)
	if err != nil {
		return nil, err
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("creating cookie jar: %w", err)
	}

	httpClient := &http.Client{}
	if cfg.HTTPClient != nil {
		clone := *cfg.HTTPClient
		httpClient = &clone
	}
	httpClient.Jar = jar

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = defaultRequestsPerSecond
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}

	return &Client{
		base:      base,
		username:  cfg.Username,
		password:  cfg.Password,
		userAgent: userAgent,
		timeout:   timeout,
		http:      httpClient,
		limiter:   rate.NewLimiter(rate.Limit(rps), max(1, int(2*rps))),
	}, nil
}

// parseBaseURL requires an absolute http(s) URL and forces a trailing slash
// so relative endpoints resolve below it.
func parseBaseURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidBaseURL)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidBaseURL, err)
	}
	if (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q is not an absolute http(s) URL", ErrInvalidBaseURL, raw)
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}

// BaseURL returns the normalised portal root.
func (c *Client) BaseURL() string {
	return c.base.String()
}

// SetLogger sets a logger for session events.
func (c *Client) SetLogger(logger Logger) {
	c.hookMu.Lock()
	c.logger = logger
	c.hookMu.Unlock()
}

// SetObserver sets a receiver for request and login outcomes.
func (c *Client) SetObserver(o Observer) {
	c.hookMu.Lock()
	c.observer = o
	c.hookMu.Unlock()
}

func (c *Client) hooks() (Logger, Observer) {
	c.hookMu.RLock()
	defer c.hookMu.RUnlock()
	return c.logger, c.observer
}

// IsLoggedIn reports whether the client holds a portal session.
func (c *Client) IsLoggedIn() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loggedIn
}

// session returns the current session generation, or the error a
// session-bound call should fail with. A session the portal dropped reports
// ErrSessionExpired so callers log in again; a client that never logged in
// (or logged out) reports ErrNotLoggedIn.
func (c *Client) session() (uint64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	switch {
	case c.loggedIn:
		return c.gen, nil
	case c.expired:
		return 0, ErrSessionExpired
	default:
		return 0, ErrNotLoggedIn
	}
}

func (c *Client) startSession() {
	c.mu.Lock()
	c.loggedIn = true
	c.expired = false
	c.gen++
	c.mu.Unlock()
}

// dropSession records a failed login. A session that was live, or already
// expired, stays expired so the next session-bound call logs in again.
func (c *Client) dropSession() {
	c.mu.Lock()
	if c.loggedIn {
		c.expired = true
	}
	c.loggedIn = false
	c.mu.Unlock()
}

// liveSession reports the current generation and whether it is logged in.
func (c *Client) liveSession() (uint64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gen, c.loggedIn
}

// expireSession marks session gen as dropped by the portal. Responses to
// requests made under an older session are ignored.
func (c *Client) expireSession(gen uint64) {
	c.mu.Lock()
	if c.loggedIn && c.gen == gen {
		c.loggedIn = false
		c.expired = true
	}
	c.mu.Unlock()
}

func (c *Client) endSession() {
	c.mu.Lock()
	c.loggedIn = false
	c.expired = false
	c.mu.Unlock()
}

func (c *Client) resolve(endpoint string, query url.Values) string {
	u := c.base.ResolveReference(&url.URL{Path: endpoint})
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// Login performs the portal's two-step form login.
//
// It fetches Account/Login for the anti-forgery token and salt, then posts
// the credentials with the XOR-obfuscated password. Invalid credentials
// yield ErrInvalidCredentials; transport and server failures yield
// ErrConnectionFailed.
func (c *Client) Login(ctx context.Context) error {
	err := c.login(ctx)

	_, observer := c.hooks()
	if observer != nil {
		observer.ObserveLogin(outcomeOf(err))
	}
	return err
}

func (c *Client) login(ctx context.Context) error {
	if c.username == "" || c.password == "" {
		return ErrMissingCredentials
	}

	form, err := c.fetchLoginForm(ctx)
	if err != nil {
		c.dropSession()
		return err
	}

	values := url.Values{
		tokenFieldName:    {form.Token},
		"DeviceType":      {"PC"},
		"DesktopSelected": {"true"},
		"UserName":        {c.username},
		"Password":        {""},
		"PwEnc":           {EncryptPassword(c.password, form.Salt)},
		saltFieldName:     {form.Salt},
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	target := c.resolve(loginPath, url.Values{"ReturnUrl": {returnURL}})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(values.Encode()))
	if err != nil {
		return fmt.Errorf("building login request: %w", err)
	}
	c.setBrowserHeaders(req)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Referer", c.resolve(loginPath, nil))

	resp, body, err := c.send(req, "login")
	if err != nil {
		c.dropSession()
		return err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		c.dropSession()
		return fmt.Errorf("%w: %w", ErrConnectionFailed, newAPIError(resp.StatusCode, body))
	}

	if isLoginPage(resp) || !containsAny(string(body), successMarkers) {
		c.dropSession()
		return ErrInvalidCredentials
	}

	c.startSession()
	if logger, _ := c.hooks(); logger != nil {
		logger.Info("logged in to Aptus portal", "host", c.base.Host)
	}
	return nil
}

func (c *Client) fetchLoginForm(ctx context.Context) (loginForm, error) {
	ctx, cancel := context.WithTimeout(ctx, loginPageTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.resolve(loginPath, nil), nil)
	if err != nil {
		return loginForm{}, fmt.Errorf("building login page request: %w", err)
	}
	c.setBrowserHeaders(req)

	resp, body, err := c.send(req, "login_page")
	if err != nil {
		return loginForm{}, err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return loginForm{}, fmt.Errorf("%w: %w", ErrConnectionFailed, newAPIError(resp.StatusCode, body))
	}

	return parseLoginForm(bytes.NewReader(body))
}

// Logout ends the portal session. Local session state is cleared even when
// the request fails.
func (c *Client) Logout(ctx context.Context) error {
	defer c.endSession()

	ctx, cancel := context.WithTimeout(ctx, loginPageTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.resolve(logoffPath, nil), nil)
	if err != nil {
		return fmt.Errorf("building logout request: %w", err)
	}
	c.setBrowserHeaders(req)
	req.Header.Set("Referer", c.resolve(lockPath, nil))

	resp, body, err := c.send(req, "logout")
	if err != nil {
		return err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return newAPIError(resp.StatusCode, body)
	}
	return nil
}

// fetchPage GETs a session-bound HTML page without the AJAX header.
func (c *Client) fetchPage(ctx context.Context, endpoint string) ([]byte, error) {
	gen, err := c.session()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.resolve(endpoint, nil), nil)
	if err != nil {
		return nil, fmt.Errorf("building %s request: %w", endpoint, err)
	}
	c.setBrowserHeaders(req)

	return c.checkSessionResponse(req, endpoint, gen)
}

// ajax performs a session-bound XMLHttpRequest-style GET.
func (c *Client) ajax(ctx context.Context, endpoint string, query url.Values) ([]byte, error) {
	gen, err := c.session()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.resolve(endpoint, query), nil)
	if err != nil {
		return nil, fmt.Errorf("building %s request: %w", endpoint, err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", ajaxAccept)
	req.Header.Set("X-Requested-With", "XMLHttpRequest")

	return c.checkSessionResponse(req, endpoint, gen)
}

func (c *Client) checkSessionResponse(req *http.Request, endpoint string, gen uint64) ([]byte, error) {
	resp, body, err := c.send(req, endpoint)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized || isLoginPage(resp) {
		c.expireSession(gen)
		return nil, ErrSessionExpired
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, newAPIError(resp.StatusCode, body)
	}
	return body, nil
}

// getJSON decodes a JSON endpoint. Objects become the Result itself; any
// other JSON value is wrapped under the "value" key.
func (c *Client) getJSON(ctx context.Context, endpoint string, query url.Values) (Result, error) {
	body, err := c.ajax(ctx, endpoint, query)
	if err != nil {
		return nil, err
	}
	return decodeResult(body)
}

func decodeResult(body []byte) (Result, error) {
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidResponse, err)
	}
	if m, ok := v.(map[string]any); ok {
		return Result(m), nil
	}
	return Result{"value": v}, nil
}

// send rate limits, executes and fully reads one request.
func (c *Client) send(req *http.Request, endpoint string) (*http.Response, []byte, error) {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.observe(endpoint, "error", start)
		return nil, nil, fmt.Errorf("%w: %w", ErrConnectionFailed, redactQuery(err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		c.observe(endpoint, "error", start)
		return nil, nil, fmt.Errorf("%w: reading response: %w", ErrConnectionFailed, err)
	}

	outcome := "success"
	if resp.StatusCode >= http.StatusBadRequest {
		outcome = "http_error"
	}
	c.observe(endpoint, outcome, start)

	return resp, body, nil
}

// redactQuery drops the query string from the URL in a transport error. The
// doorman unlock query carries the door code.
func redactQuery(err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		if u, perr := url.Parse(uerr.URL); perr == nil {
			u.RawQuery = ""
			uerr.URL = u.String()
		}
	}
	return err
}

func (c *Client) observe(endpoint, outcome string, start time.Time) {
	if _, observer := c.hooks(); observer != nil {
		observer.ObservePortalRequest(metricEndpoint(endpoint), outcome, time.Since(start))
	}
}

// metricEndpoint drops path parameters so door ids don't explode label
// cardinality.
func metricEndpoint(endpoint string) string {
	if strings.HasPrefix(endpoint, unlockEntryDoorPath) {
		return unlockEntryDoorPath
	}
	return endpoint
}

func (c *Client) setBrowserHeaders(req *http.Request) {
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", htmlAccept)
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Upgrade-Insecure-Requests", "1")
}

// withSession runs call and, if the portal dropped the session, logs in
// again (once for all concurrent callers) and retries call a single time.
// A caller whose session was already replaced by another caller's login
// retries without logging in.
func (c *Client) withSession(ctx context.Context, call func() error, retryOn ...error) error {
	before, _ := c.liveSession()
	err := call()
	if err == nil || !shouldRetry(err, retryOn) {
		return err
	}

	if gen, live := c.liveSession(); live && gen != before {
		return call()
	}

	if logger, _ := c.hooks(); logger != nil {
		logger.Warn("portal session lost, logging in again", "error", err)
	}
	if loginErr := c.Relogin(ctx); loginErr != nil {
		return fmt.Errorf("re-login after %w: %w", err, loginErr)
	}
	return call()
}

func shouldRetry(err error, extra []error) bool {
	if errors.Is(err, ErrSessionExpired) {
		return true
	}
	for _, target := range extra {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// Relogin logs in again. Concurrent callers share one login round trip.
func (c *Client) Relogin(ctx context.Context) error {
	_, err, _ := c.relogin.Do("login", func() (any, error) {
		return nil, c.Login(ctx)
	})
	return err
}

func isLoginPage(resp *http.Response) bool {
	return resp.Request != nil && resp.Request.URL != nil &&
		strings.Contains(resp.Request.URL.String(), loginPath)
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrInvalidCredentials), errors.Is(err, ErrMissingCredentials):
		return "rejected"
	default:
		return "error"
	}
}
