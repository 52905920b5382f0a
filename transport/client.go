// Package transport implements the adapter's HTTP boundary against the
// upstream timetable site: a pooled, retrying client that
// reports success/failure signals into a concurrency.Limiter and forwards
// the caller's opaque cookies unchanged.
package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/skulanet/timatalva/concurrency"
	"github.com/skulanet/timatalva/model"
)

const (
	userAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) timatalva-adapter"

	defaultMaxIdleConns        = 100
	defaultMaxIdleConnsPerHost = 20
)

type contextKey int

const attemptStateKey contextKey = iota

// attemptState threads a single Get/Post call's limiter through
// retryablehttp's CheckRetry hook via the request context, since the
// underlying *retryablehttp.Client is shared across concurrent requests
// and cannot hold per-call state as a field.
type attemptState struct {
	limiter *concurrency.Limiter
}

// Response is the normalized result of one HTTP round trip.
type Response struct {
	StatusCode int
	Body       string
	FinalURL   string
	Header     http.Header
}

// Options configures a Client.
type Options struct {
	BaseURL        string
	MaxRetries     int
	BackoffFactor  float64
	RequestTimeout time.Duration

	// ProxyFile, when non-empty, names a newline-delimited list of proxy
	// addresses; every outbound request then rotates through them instead
	// of dialing directly. Useful when the upstream rate-limits by source
	// IP; never required for correctness.
	ProxyFile string
}

// Client is the adapter's sole HTTP boundary against the upstream.
//
// One Client is constructed per process and shared by every component
// that needs to reach
// the upstream: session bootstrap, the teacher cache, and the week and
// homework scrapers.
type Client struct {
	base *url.URL

	retrying      *retryablehttp.Client
	noRedirect    *http.Client
	backoffFactor float64
}

// New builds a Client from opts. One Client is constructed per process and
// shared by every inbound request; because concurrent requests carry
// different callers' cookies, the Client deliberately has no cookie jar;
// every Get/Post/GetBasePage call takes its own cookie map and attaches it
// as an explicit Cookie header, so one caller's session can never leak onto
// another's in-flight request. Cookies are never logged.
func New(opts Options) (*Client, error) {
	base, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, model.InternalError(err, "invalid base URL %q", opts.BaseURL)
	}

	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	backoffFactor := opts.BackoffFactor
	if backoffFactor <= 0 {
		backoffFactor = 0.5
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	var ring *proxyRing
	if opts.ProxyFile != "" {
		ring, err = loadProxyRing(opts.ProxyFile)
		if err != nil {
			return nil, model.InternalError(err, "failed to load proxy rotation")
		}
	}
	proxyFunc := ring.proxyFunc()

	transport := &http.Transport{
		MaxIdleConns:        defaultMaxIdleConns,
		MaxIdleConnsPerHost: defaultMaxIdleConnsPerHost,
		ForceAttemptHTTP2:   true,
		Proxy:               proxyFunc,
	}

	baseHTTPClient := &http.Client{
		Transport: transport,
		Timeout:   timeout,
		// The upstream only ever redirects to its login page, which means
		// loss of session; following it would surface as a misleading 200
		// on the login HTML instead of the authentication failure it is.
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	rhc := retryablehttp.NewClient()
	rhc.HTTPClient = baseHTTPClient
	rhc.RetryMax = maxRetries
	rhc.Logger = nil
	rhc.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		shouldRetry, checkErr := retryablehttp.DefaultRetryPolicy(ctx, resp, err)
		if shouldRetry {
			if state, ok := ctx.Value(attemptStateKey).(*attemptState); ok && state.limiter != nil {
				state.limiter.ReportFailure()
			}
		}
		return shouldRetry, checkErr
	}
	rhc.Backoff = func(min, max time.Duration, attemptNum int, resp *http.Response) time.Duration {
		seconds := backoffFactor * pow2(attemptNum)
		return time.Duration(seconds * float64(time.Second))
	}

	noRedirectTransport := &http.Transport{
		MaxIdleConns:        defaultMaxIdleConns,
		MaxIdleConnsPerHost: defaultMaxIdleConnsPerHost,
		Proxy:               proxyFunc,
	}
	noRedirect := &http.Client{
		Transport: noRedirectTransport,
		Timeout:   timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	return &Client{base: base, retrying: rhc, noRedirect: noRedirect, backoffFactor: backoffFactor}, nil
}

func pow2(attemptNum int) float64 {
	result := 1.0
	for i := 0; i < attemptNum; i++ {
		result *= 2
	}
	return result
}

func (c *Client) resolve(path string) (string, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return "", model.InternalError(err, "invalid request path %q", path)
	}
	return c.base.ResolveReference(ref).String(), nil
}

func headerWithDefaults(headers map[string]string, cookies map[string]string) http.Header {
	h := http.Header{}
	h.Set("User-Agent", userAgent)
	h.Set("Accept", "text/html,application/xhtml+xml,*/*;q=0.8")
	for k, v := range headers {
		h.Set(k, v)
	}
	if cookieHeader := encodeCookies(cookies); cookieHeader != "" {
		h.Set("Cookie", cookieHeader)
	}
	return h
}

// encodeCookies renders a caller's cookie map as a single Cookie header
// value. Map iteration order is randomized by Go, which is harmless here
// since upstream reads cookies by name, not position.
func encodeCookies(cookies map[string]string) string {
	if len(cookies) == 0 {
		return ""
	}
	pairs := make([]string, 0, len(cookies))
	for name, value := range cookies {
		pairs = append(pairs, (&http.Cookie{Name: name, Value: value}).String())
	}
	return strings.Join(pairs, "; ")
}

// GetBasePage issues the single, non-retrying, non-redirect-following GET
// used by session bootstrap. A redirect surfaces as StatusCode in the 3xx
// range rather than being followed. cookies is the caller's opaque cookie
// map, forwarded unchanged.
func (c *Client) GetBasePage(ctx context.Context, path string, cookies map[string]string) (*Response, error) {
	fullURL, err := c.resolve(path)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, model.InternalError(err, "failed to build bootstrap request")
	}
	req.Header = headerWithDefaults(nil, cookies)

	resp, err := c.noRedirect.Do(req)
	if err != nil {
		return nil, model.NetworkError(err, "bootstrap request to %s failed", path)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, model.NetworkError(err, "failed reading bootstrap response body")
	}
	return &Response{StatusCode: resp.StatusCode, Body: string(body), FinalURL: resp.Request.URL.String(), Header: resp.Header}, nil
}

// Get issues a retrying GET with optional query params, forwarding cookies
// unchanged and reporting success/failure into limiter (if non-nil).
func (c *Client) Get(ctx context.Context, path string, params map[string]string, headers map[string]string, cookies map[string]string, limiter *concurrency.Limiter) (*Response, error) {
	fullURL, err := c.resolve(path)
	if err != nil {
		return nil, err
	}
	if len(params) > 0 {
		u, _ := url.Parse(fullURL)
		q := u.Query()
		for k, v := range params {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
		fullURL = u.String()
	}
	return c.do(ctx, http.MethodGet, fullURL, nil, headers, cookies, limiter)
}

// Post issues a retrying x-www-form-urlencoded POST, forwarding cookies
// unchanged and reporting success/failure into limiter (if non-nil).
func (c *Client) Post(ctx context.Context, path string, form map[string]string, headers map[string]string, cookies map[string]string, limiter *concurrency.Limiter) (*Response, error) {
	fullURL, err := c.resolve(path)
	if err != nil {
		return nil, err
	}
	values := url.Values{}
	for k, v := range form {
		values.Set(k, v)
	}
	body := values.Encode()

	mergedHeaders := map[string]string{"Content-Type": "application/x-www-form-urlencoded"}
	for k, v := range headers {
		mergedHeaders[k] = v
	}
	return c.do(ctx, http.MethodPost, fullURL, strings.NewReader(body), mergedHeaders, cookies, limiter)
}

func (c *Client) do(ctx context.Context, method, fullURL string, body io.Reader, headers map[string]string, cookies map[string]string, limiter *concurrency.Limiter) (*Response, error) {
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = io.ReadAll(body)
		if err != nil {
			return nil, model.InternalError(err, "failed to buffer request body")
		}
	}

	state := &attemptState{limiter: limiter}
	ctx = context.WithValue(ctx, attemptStateKey, state)

	req, err := retryablehttp.NewRequestWithContext(ctx, method, fullURL, bodyBytes)
	if err != nil {
		return nil, model.InternalError(err, "failed to build %s request to %s", method, fullURL)
	}
	req.Header = headerWithDefaults(headers, cookies)

	resp, err := c.retrying.Do(req)
	if err != nil {
		return nil, model.NetworkError(err, "%s %s failed after retries", method, fullURL)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, model.NetworkError(err, "failed reading response body for %s %s", method, fullURL)
	}

	// The final attempt's own outcome reports independently of whatever
	// earlier attempts on this same call already reported through
	// CheckRetry: a 503,503,200 sequence must report two failures AND one
	// success, not just the failures.
	if limiter != nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
		limiter.ReportSuccess()
	}

	if resp.StatusCode >= 300 && resp.StatusCode < 400 {
		return &Response{StatusCode: resp.StatusCode, Body: string(respBody), FinalURL: fullURL, Header: resp.Header},
			model.AuthError("upstream redirected %s %s (status %d), session likely lost", method, fullURL, resp.StatusCode)
	}

	if resp.StatusCode >= 400 {
		return &Response{StatusCode: resp.StatusCode, Body: string(respBody), FinalURL: fullURL, Header: resp.Header},
			model.UpstreamStatusError(resp.StatusCode, fullURL)
	}

	return &Response{StatusCode: resp.StatusCode, Body: string(respBody), FinalURL: fullURL, Header: resp.Header}, nil
}

var _ fmt.Stringer = (*Response)(nil)

func (r *Response) String() string {
	return fmt.Sprintf("Response{status=%d, finalURL=%s, bytes=%d}", r.StatusCode, r.FinalURL, len(r.Body))
}
