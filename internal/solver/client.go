// Package solver is the client for the Cloudflyer solver service: it
// files challenge tasks over the JSON API, rides relay credentials
// provisioned for the API key, and issues browser-fingerprinted HTTP
// requests that carry the resulting clearance.
package solver

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

	"github.com/Noooste/azuretls-client"

	"github.com/cloudflyer-project/cloudflyer-go/internal/logging"
	"github.com/cloudflyer-project/cloudflyer-go/internal/metrics"
)

// Defaults for Client construction.
const (
	DefaultAPIBase         = "https://solver.zetx.site"
	DefaultTimeout         = 30 * time.Second
	DefaultPollingInterval = 2 * time.Second
)

// Wait-loop tuning. Long polls get the remaining budget plus slack; the
// service holds a poll open for five minutes at most.
const (
	taskWaitBudget    = 120 * time.Second
	apiRequestTimeout = 30 * time.Second
	longPollSlack     = 10 * time.Second
	longPollMax       = 310 * time.Second
)

// Client talks to the solver service and performs bypass requests.
type Client struct {
	apiKey          string
	apiBase         string
	solve           bool
	onChallenge     bool
	proxy           string
	apiProxy        string
	taskProxy       string
	usePolling      bool
	pollingInterval time.Duration
	timeout         time.Duration
	waitBudget      time.Duration
	userAgent       string
	useCache        bool

	logger  *slog.Logger
	metrics *metrics.Metrics

	// apiClient carries no Timeout of its own; every call runs under a
	// per-request context so long polls are not cut short.
	apiClient *http.Client

	sessionMu sync.Mutex
	session   *azuretls.Session

	cookiesMu sync.RWMutex
	cookies   map[string]map[string]string

	cacheMu sync.RWMutex
	cache   map[string]*Clearance

	linksocks *linkSocksManager
}

// Option configures a Client.
type Option func(*Client)

// WithAPIBase overrides the solver service base URL.
func WithAPIBase(base string) Option {
	return func(c *Client) { c.apiBase = base }
}

// WithProxy routes bypass requests and relay channel dials through an
// upstream proxy URL (socks5:// or http://, credentials in userinfo).
func WithProxy(raw string) Option {
	return func(c *Client) { c.proxy = raw }
}

// WithAPIProxy routes solver API calls through a proxy URL.
func WithAPIProxy(raw string) Option {
	return func(c *Client) { c.apiProxy = raw }
}

// WithTaskProxy is the proxy handed to the solver service inside tasks.
// Only used when relay tunneling is disabled.
func WithTaskProxy(raw string) Option {
	return func(c *Client) { c.taskProxy = raw }
}

// WithPollingMode switches from long-polling to interval polling.
// A non-positive interval keeps the default.
func WithPollingMode(interval time.Duration) Option {
	return func(c *Client) {
		c.usePolling = true
		if interval > 0 {
			c.pollingInterval = interval
		}
	}
}

// WithTimeout bounds individual bypass requests.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithUserAgent pins the initial User-Agent (and thereby the TLS
// fingerprint family) before any challenge has been solved.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithoutLinkSocks disables relay tunneling; tasks fall back to the
// configured task proxy.
func WithoutLinkSocks() Option {
	return func(c *Client) { c.linksocks = nil }
}

// WithoutCache disables the clearance cache.
func WithoutCache() Option {
	return func(c *Client) { c.useCache = false }
}

// WithoutSolving turns the client into a plain fingerprinted HTTP client
// that never files tasks.
func WithoutSolving() Option {
	return func(c *Client) { c.solve = false }
}

// WithPreSolve solves before the first request instead of reacting to a
// detected challenge.
func WithPreSolve() Option {
	return func(c *Client) { c.onChallenge = false }
}

// New creates a solver client for the given API key.
func New(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:          apiKey,
		apiBase:         DefaultAPIBase,
		solve:           true,
		onChallenge:     true,
		usePolling:      false,
		pollingInterval: DefaultPollingInterval,
		timeout:         DefaultTimeout,
		waitBudget:      taskWaitBudget,
		useCache:        true,
		logger:          logging.NopLogger(),
		cookies:         make(map[string]map[string]string),
		cache:           make(map[string]*Clearance),
	}
	// Relay tunneling is on unless an option removes it.
	c.linksocks = newLinkSocksManager(c)

	for _, opt := range opts {
		opt(c)
	}

	c.apiBase = strings.TrimSuffix(c.apiBase, "/")
	c.logger = c.logger.With(logging.KeyComponent, "solver")
	c.apiClient = newAPIClient(c.apiProxy)
	return c
}

func newAPIClient(proxyURL string) *http.Client {
	transport := &http.Transport{}
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	return &http.Client{Transport: transport}
}

// postJSON sends one API request and decodes the JSON reply into out.
// The caller bounds the call through ctx.
func (c *Client) postJSON(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return NewConnectionError("request encode failed", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+path, bytes.NewReader(body))
	if err != nil {
		return NewConnectionError("request build failed", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.apiClient.Do(req)
	if err != nil {
		return NewConnectionError("solver API unreachable", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return NewConnectionError("response read failed", err)
	}
	if resp.StatusCode != http.StatusOK {
		return NewConnectionError(fmt.Sprintf("solver API returned status %d", resp.StatusCode), nil)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return NewConnectionError("response decode failed", err)
	}
	return nil
}

// ===========================================================================
// Clearance cache
// ===========================================================================

// cacheKey identifies a clearance by target host and egress proxy:
// Cloudflare ties clearance to the source address.
func (c *Client) cacheKey(targetURL string) string {
	u, err := url.Parse(targetURL)
	if err != nil {
		return ""
	}
	proxyKey := c.proxy
	if proxyKey == "" {
		proxyKey = "direct"
	}
	return u.Hostname() + "|" + proxyKey
}

// loadClearance applies a cached solution for targetURL, reporting
// whether one existed.
func (c *Client) loadClearance(targetURL string) bool {
	if !c.useCache {
		return false
	}
	key := c.cacheKey(targetURL)
	if key == "" {
		return false
	}

	c.cacheMu.RLock()
	cached := c.cache[key]
	c.cacheMu.RUnlock()
	if cached == nil {
		return false
	}

	if u, err := url.Parse(targetURL); err == nil {
		c.storeCookies(u.Hostname(), cached.Cookies)
	}
	if cached.UserAgent != "" {
		c.userAgent = cached.UserAgent
	}
	if c.metrics != nil {
		c.metrics.RecordSolverCacheHit()
	}
	c.logger.Debug("clearance cache hit", logging.KeyURL, targetURL)
	return true
}

func (c *Client) saveClearance(targetURL string, cookies map[string]string, userAgent string) {
	if !c.useCache || (len(cookies) == 0 && userAgent == "") {
		return
	}
	key := c.cacheKey(targetURL)
	if key == "" {
		return
	}
	c.cacheMu.Lock()
	c.cache[key] = &Clearance{Cookies: cookies, UserAgent: userAgent}
	c.cacheMu.Unlock()
}

// ClearCache drops cached clearances. An empty host clears everything.
func (c *Client) ClearCache(host string) {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	if host == "" {
		c.cache = make(map[string]*Clearance)
		return
	}
	for key := range c.cache {
		if strings.HasPrefix(key, host+"|") {
			delete(c.cache, key)
		}
	}
}

func (c *Client) storeCookies(domain string, cookies map[string]string) {
	c.cookiesMu.Lock()
	defer c.cookiesMu.Unlock()
	if c.cookies[domain] == nil {
		c.cookies[domain] = make(map[string]string)
	}
	for k, v := range cookies {
		c.cookies[domain][k] = v
	}
}

func (c *Client) cookieHeader(domain string) string {
	c.cookiesMu.RLock()
	defer c.cookiesMu.RUnlock()
	domainCookies := c.cookies[domain]
	if len(domainCookies) == 0 {
		return ""
	}
	parts := make([]string, 0, len(domainCookies))
	for k, v := range domainCookies {
		parts = append(parts, k+"="+v)
	}
	return strings.Join(parts, "; ")
}

// ===========================================================================
// Bypass requests
// ===========================================================================

// DetectChallenge reports whether a response is a Cloudflare challenge
// page rather than origin content.
func (c *Client) DetectChallenge(resp *azuretls.Response) bool {
	if resp == nil {
		return false
	}
	if resp.StatusCode != http.StatusForbidden && resp.StatusCode != http.StatusServiceUnavailable {
		return false
	}
	if !strings.Contains(strings.ToLower(resp.Header.Get("Server")), "cloudflare") {
		return false
	}
	body := string(resp.Body)
	return strings.Contains(body, "cf-turnstile") ||
		strings.Contains(body, "cf-challenge") ||
		strings.Contains(body, "Just a moment")
}

// doRequest issues one request on the bypass session with the stored
// cookies for the target's domain.
func (c *Client) doRequest(method, targetURL string, body []byte, headers map[string]string) (*azuretls.Response, error) {
	session, err := c.getSession()
	if err != nil {
		return nil, err
	}

	orderedHeaders := azuretls.OrderedHeaders{}
	if u, err := url.Parse(targetURL); err == nil {
		if cookie := c.cookieHeader(u.Hostname()); cookie != "" {
			orderedHeaders = append(orderedHeaders, []string{"Cookie", cookie})
		}
	}
	for k, v := range headers {
		orderedHeaders = append(orderedHeaders, []string{k, v})
	}

	req := &azuretls.Request{
		Method:         method,
		Url:            targetURL,
		OrderedHeaders: orderedHeaders,
		TimeOut:        c.timeout,
	}
	if body != nil {
		req.Body = bytes.NewReader(body)
	}
	return session.Do(req)
}

// request runs the solve-then-retry flow around one bypass request.
func (c *Client) request(ctx context.Context, method, targetURL string, body []byte, headers map[string]string) (*http.Response, error) {
	if c.useCache {
		c.loadClearance(targetURL)
	}

	if !c.solve {
		resp, err := c.doRequest(method, targetURL, body, headers)
		if err != nil {
			return nil, NewConnectionError("request failed", err)
		}
		return convertResponse(resp), nil
	}

	if !c.onChallenge {
		if _, err := c.SolveCloudflareContext(ctx, targetURL); err != nil {
			c.logger.Warn("pre-solve failed", logging.KeyURL, targetURL, logging.KeyError, err)
		}
	}

	resp, err := c.doRequest(method, targetURL, body, headers)
	if err != nil {
		return nil, NewConnectionError("request failed", err)
	}

	if c.onChallenge && c.DetectChallenge(resp) {
		c.logger.Info("challenge detected", logging.KeyURL, targetURL)
		if _, err := c.SolveCloudflareContext(ctx, targetURL); err != nil {
			return nil, err
		}
		resp, err = c.doRequest(method, targetURL, body, headers)
		if err != nil {
			return nil, NewConnectionError("retry after solve failed", err)
		}
	}
	return convertResponse(resp), nil
}

// Get sends a GET request.
func (c *Client) Get(targetURL string) (*http.Response, error) {
	return c.GetContext(context.Background(), targetURL)
}

// GetContext sends a GET request under ctx.
func (c *Client) GetContext(ctx context.Context, targetURL string) (*http.Response, error) {
	return c.request(ctx, http.MethodGet, targetURL, nil, nil)
}

// GetWithHeaders sends a GET request with extra headers.
func (c *Client) GetWithHeaders(targetURL string, headers map[string]string) (*http.Response, error) {
	return c.GetWithHeadersContext(context.Background(), targetURL, headers)
}

// GetWithHeadersContext sends a GET request with extra headers under ctx.
func (c *Client) GetWithHeadersContext(ctx context.Context, targetURL string, headers map[string]string) (*http.Response, error) {
	return c.request(ctx, http.MethodGet, targetURL, nil, headers)
}

// Post sends a POST request.
func (c *Client) Post(targetURL, contentType string, body io.Reader) (*http.Response, error) {
	return c.PostContext(context.Background(), targetURL, contentType, body)
}

// PostContext sends a POST request under ctx.
func (c *Client) PostContext(ctx context.Context, targetURL, contentType string, body io.Reader) (*http.Response, error) {
	data, err := readBody(body)
	if err != nil {
		return nil, err
	}
	return c.request(ctx, http.MethodPost, targetURL, data, map[string]string{"Content-Type": contentType})
}

// PostJSON sends a POST request with a JSON-encoded body.
func (c *Client) PostJSON(targetURL string, payload any) (*http.Response, error) {
	return c.PostJSONContext(context.Background(), targetURL, payload)
}

// PostJSONContext sends a POST request with a JSON-encoded body under ctx.
func (c *Client) PostJSONContext(ctx context.Context, targetURL string, payload any) (*http.Response, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, NewConnectionError("request encode failed", err)
	}
	return c.request(ctx, http.MethodPost, targetURL, data, map[string]string{"Content-Type": "application/json"})
}

// PostForm sends a POST request with form-encoded values.
func (c *Client) PostForm(targetURL string, values url.Values) (*http.Response, error) {
	return c.PostFormContext(context.Background(), targetURL, values)
}

// PostFormContext sends a POST request with form-encoded values under ctx.
func (c *Client) PostFormContext(ctx context.Context, targetURL string, values url.Values) (*http.Response, error) {
	return c.request(ctx, http.MethodPost, targetURL, []byte(values.Encode()),
		map[string]string{"Content-Type": "application/x-www-form-urlencoded"})
}

// Put sends a PUT request.
func (c *Client) Put(targetURL, contentType string, body io.Reader) (*http.Response, error) {
	return c.PutContext(context.Background(), targetURL, contentType, body)
}

// PutContext sends a PUT request under ctx.
func (c *Client) PutContext(ctx context.Context, targetURL, contentType string, body io.Reader) (*http.Response, error) {
	data, err := readBody(body)
	if err != nil {
		return nil, err
	}
	return c.request(ctx, http.MethodPut, targetURL, data, map[string]string{"Content-Type": contentType})
}

// Delete sends a DELETE request.
func (c *Client) Delete(targetURL string) (*http.Response, error) {
	return c.DeleteContext(context.Background(), targetURL)
}

// DeleteContext sends a DELETE request under ctx.
func (c *Client) DeleteContext(ctx context.Context, targetURL string) (*http.Response, error) {
	return c.request(ctx, http.MethodDelete, targetURL, nil, nil)
}

// Head sends a HEAD request.
func (c *Client) Head(targetURL string) (*http.Response, error) {
	return c.HeadContext(context.Background(), targetURL)
}

// HeadContext sends a HEAD request under ctx.
func (c *Client) HeadContext(ctx context.Context, targetURL string) (*http.Response, error) {
	return c.request(ctx, http.MethodHead, targetURL, nil, nil)
}

func readBody(body io.Reader) ([]byte, error) {
	if body == nil {
		return nil, nil
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, NewConnectionError("request body read failed", err)
	}
	return data, nil
}

// convertResponse adapts an azuretls response to *http.Response so
// callers stay on the standard type.
func convertResponse(resp *azuretls.Response) *http.Response {
	out := &http.Response{
		Status:        resp.Status,
		StatusCode:    resp.StatusCode,
		Proto:         "HTTP/2.0",
		ProtoMajor:    2,
		Header:        make(http.Header, len(resp.Header)),
		Body:          io.NopCloser(bytes.NewReader(resp.Body)),
		ContentLength: int64(len(resp.Body)),
	}
	for k, v := range resp.Header {
		out.Header[k] = v
	}
	return out
}

// Close releases the bypass session and shuts down the relay provider if
// one was started.
func (c *Client) Close() error {
	c.sessionMu.Lock()
	if c.session != nil {
		c.session.Close()
		c.session = nil
	}
	c.sessionMu.Unlock()

	if c.linksocks != nil {
		return c.linksocks.close()
	}
	return nil
}
