package hostfuncs

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	domainerrors "github.com/moc-dev/moc-runtime/domain/errors"
	"github.com/moc-dev/moc-runtime/domain/ports"
)

// DefaultMaxResponseSize bounds response bodies read by get_url (10MB).
const DefaultMaxResponseSize = 10 * 1024 * 1024

// HTTPOption is a functional option for configuring the Fetcher.
type HTTPOption func(*httpConfig)

type httpConfig struct {
	egress          EgressPolicy
	timeout         time.Duration
	maxRedirects    int
	maxBodySize     int64
	followRedirects bool
	egressEnabled   bool
}

func defaultHTTPConfig() httpConfig {
	return httpConfig{
		timeout:         30 * time.Second,
		maxRedirects:    10,
		followRedirects: true,
		maxBodySize:     DefaultMaxResponseSize,
	}
}

// WithHTTPRequestTimeout sets the HTTP request timeout.
func WithHTTPRequestTimeout(d time.Duration) HTTPOption {
	return func(c *httpConfig) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithHTTPMaxRedirects sets the maximum number of redirects to follow.
func WithHTTPMaxRedirects(n int) HTTPOption {
	return func(c *httpConfig) {
		if n >= 0 {
			c.maxRedirects = n
		}
	}
}

// WithHTTPFollowRedirects controls whether to follow redirects.
func WithHTTPFollowRedirects(follow bool) HTTPOption {
	return func(c *httpConfig) {
		c.followRedirects = follow
	}
}

// WithHTTPMaxBodySize sets the maximum response body size.
func WithHTTPMaxBodySize(size int64) HTTPOption {
	return func(c *httpConfig) {
		if size > 0 {
			c.maxBodySize = size
		}
	}
}

// WithEgressPolicy checks every destination against policy and pins the
// connection to the address that was checked, defeating DNS rebinding.
func WithEgressPolicy(policy EgressPolicy) HTTPOption {
	return func(c *httpConfig) {
		c.egress = policy
		c.egressEnabled = true
	}
}

// Fetcher is the ports.HTTPClient used for guest get_url calls.
type Fetcher struct {
	client *http.Client
	cfg    httpConfig
}

var _ ports.HTTPClient = (*Fetcher)(nil)

// NewFetcher builds a Fetcher.
func NewFetcher(opts ...HTTPOption) *Fetcher {
	cfg := defaultHTTPConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Fetcher{client: createHTTPClient(cfg), cfg: cfg}
}

// Get implements ports.HTTPClient.
func (f *Fetcher) Get(ctx context.Context, url string) (*ports.HTTPResponse, error) {
	return f.Do(ctx, ports.HTTPRequest{Method: http.MethodGet, URL: url})
}

// Do implements ports.HTTPClient.
func (f *Fetcher) Do(ctx context.Context, req ports.HTTPRequest) (*ports.HTTPResponse, error) {
	if req.URL == "" {
		return nil, &domainerrors.DecodeError{What: "url", Err: fmt.Errorf("URL is required")}
	}
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	timeout := f.cfg.timeout
	if req.Timeout > 0 {
		timeout = time.Duration(req.Timeout) * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, strings.ToUpper(req.Method), req.URL, body)
	if err != nil {
		return nil, &domainerrors.DecodeError{What: "url", Err: err}
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, domainerrors.Internal("get_url "+req.URL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.cfg.maxBodySize+1))
	if err != nil {
		return nil, domainerrors.Internal("get_url read body", err)
	}
	truncated := false
	if int64(len(data)) > f.cfg.maxBodySize {
		data = data[:f.cfg.maxBodySize]
		truncated = true
	}

	return &ports.HTTPResponse{
		Headers:       resp.Header,
		Body:          data,
		Proto:         resp.Proto,
		StatusCode:    resp.StatusCode,
		BodyTruncated: truncated,
	}, nil
}

func createHTTPClient(cfg httpConfig) *http.Client {
	transport := &http.Transport{
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	var rt http.RoundTripper = transport
	if cfg.egressEnabled {
		rt = &pinningTransport{base: transport, policy: cfg.egress}
	}

	client := &http.Client{
		Timeout:   cfg.timeout,
		Transport: rt,
	}

	if !cfg.followRedirects {
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}
	} else if cfg.maxRedirects > 0 {
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			if len(via) >= cfg.maxRedirects {
				return fmt.Errorf("stopped after %d redirects", cfg.maxRedirects)
			}
			return nil
		}
	}
	return client
}

// pinningTransport checks each request against the egress policy and dials
// the IP that was checked rather than resolving the name again.
type pinningTransport struct {
	base   *http.Transport
	policy EgressPolicy
}

func (t *pinningTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	hostname := req.URL.Hostname()
	decision := t.policy.Check(hostname)
	if !decision.Allowed {
		return nil, fmt.Errorf("egress blocked for %s: %s", hostname, decision.Reason)
	}
	if decision.ResolvedIP == "" {
		return t.base.RoundTrip(req)
	}

	target := net.JoinHostPort(decision.ResolvedIP, defaultPort(req.URL.Scheme, req.URL.Port()))
	pinned := t.base.Clone()
	pinned.DialContext = func(ctx context.Context, network, _ string) (net.Conn, error) {
		return (&net.Dialer{}).DialContext(ctx, network, target)
	}
	if req.URL.Scheme == "https" {
		if pinned.TLSClientConfig == nil {
			pinned.TLSClientConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		pinned.TLSClientConfig.ServerName = hostname
	}
	return pinned.RoundTrip(req)
}
