package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"entityportal/internal/portal"
)

// StatusError reports a non-2xx reply from the portal host. Business
// failures never produce one; they travel in the response envelope.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("portal host returned %d: %s", e.StatusCode, strings.TrimSpace(e.Body))
}

// HTTPProxy sends portal requests to a remote host. The endpoint is read
// from the configuration on every call.
type HTTPProxy struct {
	registry *portal.Registry
	config   portal.Config
	client   *retryablehttp.Client
	logger   *zap.SugaredLogger
	header   http.Header
}

var _ portal.Proxy = (*HTTPProxy)(nil)

// ProxyOption configures an HTTPProxy.
type ProxyOption func(*HTTPProxy)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(c *http.Client) ProxyOption {
	return func(p *HTTPProxy) {
		if c != nil {
			p.client.HTTPClient = c
		}
	}
}

// WithRetry sets how often and how patiently a call that could not reach
// the host is retried.
func WithRetry(max int, waitMin, waitMax time.Duration) ProxyOption {
	return func(p *HTTPProxy) {
		p.client.RetryMax = max
		p.client.RetryWaitMin = waitMin
		p.client.RetryWaitMax = waitMax
	}
}

// WithHeader adds a header to every request, such as the credentials a
// fronting authentication proxy expects.
func WithHeader(key, value string) ProxyOption {
	return func(p *HTTPProxy) {
		p.header.Add(key, value)
	}
}

// WithProxyLogger sets the proxy's logger.
func WithProxyLogger(l *zap.SugaredLogger) ProxyOption {
	return func(p *HTTPProxy) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewHTTPProxy returns a proxy encoding objects through reg.
func NewHTTPProxy(reg *portal.Registry, cfg portal.Config, opts ...ProxyOption) *HTTPProxy {
	p := &HTTPProxy{
		registry: reg,
		config:   cfg,
		client:   retryablehttp.NewClient(),
		logger:   zap.NewNop().Sugar(),
		header:   make(http.Header),
	}
	p.client.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	p.client.RetryMax = 3
	p.client.RetryWaitMin = 200 * time.Millisecond
	p.client.RetryWaitMax = 2 * time.Second
	p.client.CheckRetry = retryUnreached
	for _, opt := range opts {
		opt(p)
	}
	p.client.Logger = &zapRetryLogger{logger: p.logger}
	return p
}

// retryUnreached retries only when the request never reached the host.
// Updates are not idempotent, so a call that may have run is not repeated.
func retryUnreached(ctx context.Context, _ *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err == nil {
		return false, nil
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true, nil
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsTemporary, nil
	}
	return false, nil
}

// Dispatch implements portal.Proxy.
func (p *HTTPProxy) Dispatch(ctx context.Context, req *portal.Request) (*portal.Response, error) {
	endpoint := strings.TrimRight(p.config.Endpoint(), "/")
	if endpoint == "" {
		return nil, errors.New("transport: no portal endpoint configured")
	}
	body, err := EncodeRequest(p.registry, req)
	if err != nil {
		return nil, errors.Wrap(err, "transport: encode request")
	}
	url := endpoint + "/portal/" + string(req.Operation)
	hreq, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "transport: build request")
	}
	for k, vs := range p.header {
		for _, v := range vs {
			hreq.Header.Add(k, v)
		}
	}
	hreq.Header.Set("Content-Type", "application/json")

	hresp, err := p.client.Do(hreq)
	if err != nil {
		return nil, errors.Wrapf(err, "transport: %s %s", req.Operation, url)
	}
	defer hresp.Body.Close()
	raw, err := io.ReadAll(hresp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "transport: read response")
	}
	if hresp.StatusCode < 200 || hresp.StatusCode > 299 {
		return nil, &StatusError{StatusCode: hresp.StatusCode, Body: string(raw)}
	}

	resp, callErr, err := DecodeResponse(p.registry, raw)
	if err != nil {
		return nil, errors.Wrap(err, "transport")
	}
	return resp, callErr
}

// zapRetryLogger adapts zap.SugaredLogger to retryablehttp.LeveledLogger interface.
type zapRetryLogger struct {
	logger *zap.SugaredLogger
}

func (z *zapRetryLogger) Error(msg string, keysAndValues ...interface{}) {
	z.logger.Errorw(msg, keysAndValues...)
}

func (z *zapRetryLogger) Info(msg string, keysAndValues ...interface{}) {
	z.logger.Infow(msg, keysAndValues...)
}

func (z *zapRetryLogger) Debug(msg string, keysAndValues ...interface{}) {
	z.logger.Debugw(msg, keysAndValues...)
}

func (z *zapRetryLogger) Warn(msg string, keysAndValues ...interface{}) {
	z.logger.Warnw(msg, keysAndValues...)
}
