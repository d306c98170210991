// Package transport performs single HTTP round trips against the Easemob
// REST API and normalises every outcome into a Response. Remote failures,
// including connection errors, are reported on the Response and never
// returned as Go errors; only malformed requests produce an error.
package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"runtime"
	"strconv"
	"strings"
	"time"

	apierrors "github.com/alexjbarnes/easemob-go/internal/errors"
	"github.com/prometheus/client_golang/prometheus"
)

// Version is reported in the User-Agent header.
const Version = "1.0.0"

const (
	// maxRedirects is the maximum number of HTTP redirects to follow
	// before giving up, matching the default net/http limit.
	maxRedirects = 10

	// defaultTimeout applies when Config.Timeout is zero.
	defaultTimeout = 30 * time.Second

	// maxResponseBytes caps response body reads.
	maxResponseBytes = 32 << 20

	contentTypeJSON = "application/json"
	contentTypeForm = "application/x-www-form-urlencoded"
)

// RemoteError is the {code, error, error_description} envelope.
type RemoteError = apierrors.RemoteError

// ConnectionFailed is the StatusCode of a Response that never reached
// the server.
const ConnectionFailed = apierrors.ConnectionFailed

// Config holds process-level transport settings. It is passed to New once
// and shared by every request the Client makes.
type Config struct {
	// Proxy settings. The proxy is used only when both host and port are
	// set; credentials only when both user and password are set.
	ProxyHost string
	ProxyPort int
	ProxyUser string
	ProxyPass string

	// InsecureSkipVerify disables TLS certificate and host name checks.
	// Verification is on by default.
	InsecureSkipVerify bool

	Timeout   time.Duration
	UserAgent string
}

// ProxyURL returns the configured proxy, or nil when none is set.
func (c Config) ProxyURL() *url.URL {
	if c.ProxyHost == "" || c.ProxyPort <= 0 {
		return nil
	}

	u := &url.URL{
		Scheme: "http",
		Host:   net.JoinHostPort(c.ProxyHost, strconv.Itoa(c.ProxyPort)),
	}
	if c.ProxyUser != "" && c.ProxyPass != "" {
		u.User = url.UserPassword(c.ProxyUser, c.ProxyPass)
	}

	return u
}

// Request is a single HTTP call. Header keys are sent exactly as given.
// Body may be nil, a string or []byte sent verbatim, or any other value,
// which is encoded as JSON.
type Request struct {
	Method string
	URI    string
	Header map[string]string
	Body   any
}

// Client sends Requests. It is safe for concurrent use.
type Client struct {
	httpClient *http.Client
	userAgent  string
	logger     *slog.Logger
	metrics    *metrics
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the http.Client built from Config. Proxy, TLS
// and timeout settings in Config are then ignored.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithLogger sets the logger used for per-request debug output.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics registers request counters and latency histograms on reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(c *Client) {
		if reg != nil {
			c.metrics = newMetrics(reg)
		}
	}
}

// New creates a Client from cfg.
func New(cfg Config, opts ...Option) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = "EasemobServerSDK-Go/" + Version + " (" + runtime.Version() + ")"
	}

	c := &Client{
		httpClient: &http.Client{
			Timeout:       timeout,
			Transport:     newHTTPTransport(cfg),
			CheckRedirect: sameHostRedirectPolicy,
		},
		userAgent: userAgent,
		logger:    slog.New(slog.DiscardHandler),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

func newHTTPTransport(cfg Config) *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	// Proxying is explicit configuration only, never the environment.
	t.Proxy = nil

	if u := cfg.ProxyURL(); u != nil {
		t.Proxy = http.ProxyURL(u)
	}

	if cfg.InsecureSkipVerify {
		t.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // explicit opt-in
	}

	return t
}

// sameHostRedirectPolicy follows redirects only when the target host
// matches the original request host, so Authorization headers never
// reach a third-party domain.
func sameHostRedirectPolicy(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return errors.New("stopped after 10 redirects")
	}

	if len(via) > 0 {
		origHost := via[0].URL.Host
		if req.URL.Host != origHost {
			return fmt.Errorf("redirect to different host blocked: %s -> %s", origHost, req.URL.Host)
		}
	}

	return nil
}

// Get sends a GET request.
func (c *Client) Get(ctx context.Context, uri string, header map[string]string) (*Response, error) {
	return c.Send(ctx, &Request{Method: http.MethodGet, URI: uri, Header: header})
}

// Post sends a POST request.
func (c *Client) Post(ctx context.Context, uri string, body any, header map[string]string) (*Response, error) {
	return c.Send(ctx, &Request{Method: http.MethodPost, URI: uri, Header: header, Body: body})
}

// Put sends a PUT request.
func (c *Client) Put(ctx context.Context, uri string, body any, header map[string]string) (*Response, error) {
	return c.Send(ctx, &Request{Method: http.MethodPut, URI: uri, Header: header, Body: body})
}

// Delete sends a DELETE request. Some endpoints take a body on DELETE.
func (c *Client) Delete(ctx context.Context, uri string, body any, header map[string]string) (*Response, error) {
	return c.Send(ctx, &Request{Method: http.MethodDelete, URI: uri, Header: header, Body: body})
}

// Send performs one round trip. The returned error is non-nil only when
// the request itself cannot be built (bad URI, unencodable body). Every
// remote outcome, connection failures included, is carried by the
// Response.
func (c *Client) Send(ctx context.Context, r *Request) (*Response, error) {
	payload, structured, err := encodeBody(r.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: encoding request body: %v", apierrors.ErrValidation, err)
	}

	method := strings.ToUpper(r.Method)
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.URI, body)
	if err != nil {
		return nil, fmt.Errorf("%w: creating request: %v", apierrors.ErrValidation, err)
	}

	if !hasHeader(r.Header, "User-Agent") {
		req.Header.Set("User-Agent", c.userAgent)
	}

	for k, v := range r.Header {
		// net/http only recognises the canonical User-Agent key.
		if strings.EqualFold(k, "User-Agent") {
			if v != "" {
				req.Header.Set("User-Agent", v)
			}
			continue
		}

		// Direct assignment keeps the key exactly as the caller wrote it.
		req.Header[k] = []string{v}
	}

	if !hasHeader(r.Header, "Content-Type") {
		if structured {
			req.Header.Set("Content-Type", contentTypeJSON)
		} else {
			req.Header.Set("Content-Type", contentTypeForm)
		}
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		duration := time.Since(start)
		c.observe(method, ConnectionFailed, duration)
		c.logger.Debug("request failed",
			slog.String("method", method),
			slog.String("uri", redactURI(r.URI)),
			slog.String("error", err.Error()),
		)

		return newFailedResponse(duration, err), nil
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	duration := time.Since(start)
	if err != nil {
		c.observe(method, ConnectionFailed, duration)
		return newFailedResponse(duration, fmt.Errorf("reading response: %w", err)), nil
	}

	c.observe(method, resp.StatusCode, duration)

	out := newResponse(resp.StatusCode, duration, resp.Header, respBody)
	if !out.OK() {
		c.logger.Debug("request returned error",
			slog.String("method", method),
			slog.String("uri", redactURI(r.URI)),
			slog.Int("status", resp.StatusCode),
			slog.String("body", sanitizeResponseBody(respBody)),
		)
	} else {
		c.logger.Debug("request completed",
			slog.String("method", method),
			slog.String("uri", redactURI(r.URI)),
			slog.Int("status", resp.StatusCode),
			slog.Duration("duration", duration),
		)
	}

	return out, nil
}

func (c *Client) observe(method string, code int, d time.Duration) {
	if c.metrics != nil {
		c.metrics.observe(method, code, d)
	}
}

// encodeBody returns the wire payload and whether it came from a
// structured value. A nil body counts as structured, so it defaults to
// a JSON content type.
func encodeBody(body any) ([]byte, bool, error) {
	switch b := body.(type) {
	case nil:
		return nil, true, nil
	case string:
		return []byte(b), false, nil
	case []byte:
		return b, false, nil
	case json.RawMessage:
		return b, true, nil
	default:
		payload, err := json.Marshal(b)
		if err != nil {
			return nil, true, err
		}

		return payload, true, nil
	}
}

func hasHeader(header map[string]string, name string) bool {
	for k, v := range header {
		if strings.EqualFold(k, name) && v != "" {
			return true
		}
	}

	return false
}

// redactURI strips the query string, which may carry secrets such as
// share-secret download parameters.
func redactURI(uri string) string {
	if i := strings.IndexByte(uri, '?'); i >= 0 {
		return uri[:i]
	}

	return uri
}
