package uhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"go.uber.org/ratelimit"
	"go.uber.org/zap"
)

const csrfTokenHeader = "X-Csrf-Token"

type (
	HttpClient interface {
		HttpClient() *http.Client
		Do(req *http.Request, options ...DoOption) (*http.Response, error)
		NewRequest(ctx context.Context, method string, url *url.URL, options ...RequestOption) (*http.Request, error)
		Close() error
	}
	BaseHttpClient struct {
		httpClient     *http.Client
		limiter        ratelimit.Limiter
		userAgent      string
		debugPrintBody bool

		csrfMtx   sync.RWMutex
		csrfToken string

		closed atomic.Bool
		// closeCtx is cancelled by Close and aborts requests in flight.
		closeCtx    context.Context
		closeCancel context.CancelFunc
	}

	DoOption      func(*http.Response) error
	RequestOption func() (io.ReadWriter, map[string]string, error)

	WrapperOption interface {
		Apply(*BaseHttpClient)
	}
)

var _ HttpClient = (*BaseHttpClient)(nil)

func NewBaseHttpClient(httpClient *http.Client, opts ...WrapperOption) *BaseHttpClient {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	c := &BaseHttpClient{
		httpClient: httpClient,
		limiter:    ratelimit.NewUnlimited(),
	}
	c.closeCtx, c.closeCancel = context.WithCancel(context.Background())
	for _, opt := range opts {
		opt.Apply(c)
	}
	return c
}

type userAgentOption struct {
	userAgent string
}

func (o userAgentOption) Apply(c *BaseHttpClient) {
	c.userAgent = o.userAgent
}

func WithUserAgent(userAgent string) WrapperOption {
	return userAgentOption{userAgent: userAgent}
}

type rateLimitOption struct {
	perSecond int
}

func (o rateLimitOption) Apply(c *BaseHttpClient) {
	if o.perSecond <= 0 {
		c.limiter = ratelimit.NewUnlimited()
		return
	}
	c.limiter = ratelimit.New(o.perSecond)
}

// WithRateLimit caps outgoing requests to perSecond. Zero or less disables the limit.
func WithRateLimit(perSecond int) WrapperOption {
	return rateLimitOption{perSecond: perSecond}
}

func (c *BaseHttpClient) HttpClient() *http.Client {
	return c.httpClient
}

func WithJSONResponse(response interface{}) DoOption {
	return func(resp *http.Response) error {
		defer resp.Body.Close()
		return json.NewDecoder(resp.Body).Decode(response)
	}
}

// Do sends req and applies options to the response once its status is 2xx.
// A 403 carrying a CSRF challenge is replayed once with the issued token.
// Callers must close the body of any returned response.
func (c *BaseHttpClient) Do(req *http.Request, options ...DoOption) (*http.Response, error) {
	if c.closed.Load() {
		return nil, ErrClientClosed
	}

	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusForbidden && c.acceptCSRFChallenge(req.Context(), resp) {
		retry, err := replayable(req)
		if err != nil {
			return nil, err
		}
		resp, err = c.do(retry)
		if err != nil {
			return nil, err
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, newStatusError(resp)
	}

	for _, option := range options {
		err = option(resp)
		if err != nil {
			return resp, err
		}
	}

	return resp, nil
}

func (c *BaseHttpClient) do(req *http.Request) (*http.Response, error) {
	c.limiter.Take()

	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if token := c.currentCSRFToken(); token != "" {
		req.Header.Set(csrfTokenHeader, token)
	}

	ctx, cancel := context.WithCancel(req.Context())
	stop := context.AfterFunc(c.closeCtx, cancel)
	release := func() {
		stop()
		cancel()
	}

	resp, err := c.httpClient.Do(req.WithContext(ctx))
	if err != nil {
		release()
		if c.closed.Load() {
			return nil, fmt.Errorf("%w: %w", ErrClientClosed, err)
		}
		return nil, err
	}
	resp.Body = &releasingBody{ReadCloser: resp.Body, release: release}

	if c.debugPrintBody {
		resp.Body = &readCloser{
			Reader: wrapPrintBody(req.Context(), resp.Body),
			Closer: resp.Body,
		}
	}

	return resp, nil
}

// acceptCSRFChallenge drains and closes resp when it carries a fresh token.
func (c *BaseHttpClient) acceptCSRFChallenge(ctx context.Context, resp *http.Response) bool {
	token := resp.Header.Get(csrfTokenHeader)
	if token == "" || token == c.currentCSRFToken() {
		return false
	}

	c.csrfMtx.Lock()
	c.csrfToken = token
	c.csrfMtx.Unlock()

	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()

	ctxzap.Extract(ctx).Debug("uhttp: csrf token refreshed, replaying request", zap.String("url", resp.Request.URL.String()))
	return true
}

func (c *BaseHttpClient) currentCSRFToken() string {
	c.csrfMtx.RLock()
	defer c.csrfMtx.RUnlock()
	return c.csrfToken
}

func replayable(req *http.Request) (*http.Request, error) {
	retry := req.Clone(req.Context())
	if req.Body == nil || req.Body == http.NoBody {
		return retry, nil
	}
	if req.GetBody == nil {
		return nil, errors.New("uhttp: request body cannot be replayed")
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, err
	}
	retry.Body = body
	return retry, nil
}

// Close aborts requests in flight and releases idle connections. Any later
// Do fails with ErrClientClosed.
func (c *BaseHttpClient) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.closeCancel()
	c.httpClient.CloseIdleConnections()
	return nil
}

// releasingBody ties the request context to the body, so reading it is not
// cut short when Do returns.
type releasingBody struct {
	io.ReadCloser
	release func()
}

func (b *releasingBody) Close() error {
	err := b.ReadCloser.Close()
	b.release()
	return err
}

func WithJSONBody(body interface{}) RequestOption {
	return func() (io.ReadWriter, map[string]string, error) {
		buffer := new(bytes.Buffer)
		err := json.NewEncoder(buffer).Encode(body)
		if err != nil {
			return nil, nil, err
		}

		_, headers, err := WithContentTypeJSONHeader()()
		if err != nil {
			return nil, nil, err
		}

		return buffer, headers, nil
	}
}

func WithAcceptJSONHeader() RequestOption {
	return func() (io.ReadWriter, map[string]string, error) {
		return nil, map[string]string{
			"Accept": "application/json",
		}, nil
	}
}

func WithContentTypeJSONHeader() RequestOption {
	return func() (io.ReadWriter, map[string]string, error) {
		return nil, map[string]string{
			"Content-Type": "application/json",
		}, nil
	}
}

func (c *BaseHttpClient) NewRequest(ctx context.Context, method string, url *url.URL, options ...RequestOption) (*http.Request, error) {
	var buffer io.ReadWriter
	var headers map[string]string = make(map[string]string)
	for _, option := range options {
		buf, h, err := option()
		if err != nil {
			return nil, err
		}

		if buf != nil {
			buffer = buf
		}

		for k, v := range h {
			headers[k] = v
		}
	}

	var body io.Reader
	if buffer != nil {
		body = buffer
	}

	req, err := http.NewRequestWithContext(ctx, method, url.String(), body)
	if err != nil {
		return nil, err
	}

	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return req, nil
}
