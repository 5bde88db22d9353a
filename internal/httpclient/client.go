// Package httpclient fetches catalog feeds over HTTP. Requests are retried
// with exponential backoff behind a circuit breaker per host, responses are
// decompressed according to Content-Encoding, and stream locator headers
// (url|Header=Value) are sent with the request.
package httpclient

import (
	"bufio"
	"bytes"
	"compress/flate"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/andybalholm/brotli"

	"github.com/jmylchreest/tvinput/internal/urlutil"
	"github.com/jmylchreest/tvinput/internal/version"
)

var (
	// ErrCircuitOpen is returned while the feed host is considered down.
	ErrCircuitOpen = errors.New("feed circuit open")
	// ErrMaxRetries wraps the last failure once every attempt is spent.
	ErrMaxRetries = errors.New("retries exhausted")
	// ErrUnexpectedStatus is returned for responses that are not usable.
	ErrUnexpectedStatus = errors.New("unexpected status code")
)

const (
	DefaultConnectTimeout       = 3 * time.Second
	DefaultReadTimeout          = 10 * time.Second
	DefaultRetryAttempts        = 2
	DefaultRetryDelay           = 2 * time.Second
	DefaultRetryMaxDelay        = 30 * time.Second
	DefaultBackoffMultiplier    = 2.0
	DefaultCircuitThreshold     = 5
	DefaultCircuitTimeout       = 30 * time.Second
	DefaultCircuitHalfOpenMax   = 1
	DefaultAcceptEncodingHeader = "gzip, deflate, br"
)

const (
	HeaderAcceptEncoding  = "Accept-Encoding"
	HeaderContentEncoding = "Content-Encoding"
	HeaderUserAgent       = "User-Agent"

	EncodingGzip    = "gzip"
	EncodingDeflate = "deflate"
	EncodingBrotli  = "br"
)

// Config holds the configuration for the HTTP client.
type Config struct {
	// ConnectTimeout bounds dialing the feed host.
	ConnectTimeout time.Duration

	// ReadTimeout bounds waiting for response headers.
	ReadTimeout time.Duration

	// RetryAttempts is the number of retries after the first attempt.
	RetryAttempts int

	// RetryDelay is the initial delay between retries.
	RetryDelay time.Duration

	// RetryMaxDelay caps the backoff.
	RetryMaxDelay time.Duration

	// BackoffMultiplier grows the delay after each retry.
	BackoffMultiplier float64

	// CircuitThreshold is the number of failures before the circuit opens.
	CircuitThreshold int

	// CircuitTimeout is how long the circuit stays open.
	CircuitTimeout time.Duration

	// CircuitHalfOpenMax is the number of trial requests while half-open.
	CircuitHalfOpenMax int

	// UserAgent is sent unless the request or locator sets one.
	UserAgent string

	// EnableDecompression decodes gzip, deflate and brotli bodies.
	EnableDecompression bool

	Logger *slog.Logger

	// BaseClient replaces the client built from the timeouts.
	BaseClient *http.Client
}

// DefaultConfig returns the configuration used for feed fetching.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:      DefaultConnectTimeout,
		ReadTimeout:         DefaultReadTimeout,
		RetryAttempts:       DefaultRetryAttempts,
		RetryDelay:          DefaultRetryDelay,
		RetryMaxDelay:       DefaultRetryMaxDelay,
		BackoffMultiplier:   DefaultBackoffMultiplier,
		CircuitThreshold:    DefaultCircuitThreshold,
		CircuitTimeout:      DefaultCircuitTimeout,
		CircuitHalfOpenMax:  DefaultCircuitHalfOpenMax,
		UserAgent:           version.UserAgent(),
		EnableDecompression: true,
		Logger:              slog.Default(),
	}
}

// Client is a retrying HTTP client. Each host gets its own circuit
// breaker.
type Client struct {
	config Config
	client *http.Client
	logger *slog.Logger

	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

// New creates a client. Zero values in cfg fall back to DefaultConfig.
func New(cfg Config) *Client {
	def := DefaultConfig()
	if cfg.Logger == nil {
		cfg.Logger = def.Logger
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	if cfg.RetryAttempts < 0 {
		cfg.RetryAttempts = 0
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = def.RetryMaxDelay
	}
	if cfg.BackoffMultiplier < 1 {
		cfg.BackoffMultiplier = def.BackoffMultiplier
	}
	if cfg.CircuitThreshold <= 0 {
		cfg.CircuitThreshold = def.CircuitThreshold
	}
	if cfg.CircuitTimeout <= 0 {
		cfg.CircuitTimeout = def.CircuitTimeout
	}
	if cfg.CircuitHalfOpenMax <= 0 {
		cfg.CircuitHalfOpenMax = def.CircuitHalfOpenMax
	}

	base := cfg.BaseClient
	if base == nil {
		base = &http.Client{Transport: newTransport(cfg)}
	}

	return &Client{
		config:   cfg,
		client:   base,
		logger:   cfg.Logger,
		breakers: make(map[string]*CircuitBreaker),
	}
}

func (c *Client) breakerFor(host string) *CircuitBreaker {
	host = strings.ToLower(host)

	c.mu.Lock()
	defer c.mu.Unlock()
	cb, ok := c.breakers[host]
	if !ok {
		cb = NewCircuitBreaker(c.config.CircuitThreshold, c.config.CircuitTimeout, c.config.CircuitHalfOpenMax)
		c.breakers[host] = cb
	}
	return cb
}

func (c *Client) eachBreaker(fn func(cb *CircuitBreaker)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, cb := range c.breakers {
		fn(cb)
	}
}

// NewWithDefaults creates a client with DefaultConfig.
func NewWithDefaults() *Client {
	return New(DefaultConfig())
}

func newTransport(cfg Config) *http.Transport {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{
		Timeout:   cfg.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}).DialContext
	transport.TLSHandshakeTimeout = cfg.ConnectTimeout
	transport.ResponseHeaderTimeout = cfg.ReadTimeout
	// Bodies are decoded here so brotli is handled alongside gzip.
	transport.DisableCompression = true
	return transport
}

// Do executes req, retrying transport errors and retryable statuses with
// exponential backoff. Any other status is returned as is. Request bodies
// are not replayed, so only send bodiless requests through Do.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if req.Header.Get(HeaderUserAgent) == "" && c.config.UserAgent != "" {
		req.Header.Set(HeaderUserAgent, c.config.UserAgent)
	}
	if c.config.EnableDecompression && req.Header.Get(HeaderAcceptEncoding) == "" {
		req.Header.Set(HeaderAcceptEncoding, DefaultAcceptEncodingHeader)
	}

	logger := c.logger.With(slog.String("url", urlutil.Redact(req.URL.String())))
	delay := c.config.RetryDelay
	var lastErr error

	for attempt := 0; attempt <= c.config.RetryAttempts; attempt++ {
		if attempt > 0 {
			logger.Debug("retrying request", slog.Int("attempt", attempt), slog.Duration("delay", delay))
			if err := sleep(req.Context(), delay); err != nil {
				return nil, err
			}
			delay = min(time.Duration(float64(delay)*c.config.BackoffMultiplier), c.config.RetryMaxDelay)
		}

		resp, err := c.attempt(req, logger)
		if err == nil {
			return resp, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		lastErr = err
	}

	return nil, fmt.Errorf("%w: %w", ErrMaxRetries, lastErr)
}

// attempt sends req once through the host's breaker. Every returned error
// is worth retrying unless it is a context error. A request abandoned by its
// caller says nothing about the host and is not counted.
func (c *Client) attempt(req *http.Request, logger *slog.Logger) (*http.Response, error) {
	breaker := c.breakerFor(req.URL.Host)
	if !breaker.Allow() {
		logger.Warn("feed circuit open, request skipped")
		return nil, ErrCircuitOpen
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		if req.Context().Err() != nil {
			breaker.Abandon()
			logger.Debug("request cancelled", slog.Duration("duration", elapsed))
			return nil, req.Context().Err()
		}
		breaker.RecordFailure()
		logger.Warn("request failed", slog.Duration("duration", elapsed), slog.String("error", err.Error()))
		return nil, err
	}
	if isRetryableStatus(resp.StatusCode) {
		breaker.RecordFailure()
		_ = resp.Body.Close()
		logger.Warn("retryable response", slog.Int("status", resp.StatusCode), slog.Duration("duration", elapsed))
		return nil, fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}

	breaker.RecordSuccess()
	logger.Debug("request completed",
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", elapsed),
		slog.Int64("content_length", resp.ContentLength))

	if c.config.EnableDecompression {
		if err := c.decode(resp); err != nil {
			_ = resp.Body.Close()
			logger.Warn("undecodable response body", slog.String("error", err.Error()))
			return nil, err
		}
	}
	return resp, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Get fetches a stream or feed locator. Headers carried by the locator
// (url|Header=Value) are sent with the request.
func (c *Client) Get(ctx context.Context, locator string) (*http.Response, error) {
	loc := urlutil.ParseLocator(locator)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, loc.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	loc.Apply(req)
	return c.Do(req)
}

// Fetch is Get that treats any non-2xx status as an error. The caller
// closes the returned body.
func (c *Client) Fetch(ctx context.Context, locator string) (io.ReadCloser, error) {
	resp, err := c.Get(ctx, locator)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}
	return resp.Body, nil
}

// CircuitState returns the worst state across the hosts contacted so far.
func (c *Client) CircuitState() CircuitState {
	state := CircuitClosed
	c.eachBreaker(func(cb *CircuitBreaker) {
		switch cb.State() {
		case CircuitOpen:
			state = CircuitOpen
		case CircuitHalfOpen:
			if state == CircuitClosed {
				state = CircuitHalfOpen
			}
		}
	})
	return state
}

// CircuitFailures returns the highest failure count of any host since its
// last success.
func (c *Client) CircuitFailures() int {
	failures := 0
	c.eachBreaker(func(cb *CircuitBreaker) {
		failures = max(failures, cb.Failures())
	})
	return failures
}

// ResetCircuit closes every host's circuit breaker.
func (c *Client) ResetCircuit() {
	c.eachBreaker(func(cb *CircuitBreaker) {
		cb.Reset()
	})
}

// StandardClient returns an *http.Client whose transport is this client, for
// libraries that take a plain client.
func (c *Client) StandardClient() *http.Client {
	return &http.Client{Transport: roundTripper{client: c}}
}

type roundTripper struct {
	client *Client
}

func (t roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	return t.client.Do(req)
}

var _ http.RoundTripper = roundTripper{}

var gzipMagic = []byte{0x1f, 0x8b}

var decoders = map[string]func(*bufio.Reader) (io.Reader, error){
	EncodingGzip: func(r *bufio.Reader) (io.Reader, error) {
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, err
		}
		return gz, nil
	},
	EncodingDeflate: func(r *bufio.Reader) (io.Reader, error) {
		return flate.NewReader(r), nil
	},
	EncodingBrotli: func(r *bufio.Reader) (io.Reader, error) {
		return brotli.NewReader(r), nil
	},
}

// decode replaces the body of a response with a Content-Encoding this
// client understands by a decoding reader. Other bodies are left alone, as
// is a body labelled gzip that does not start with the gzip magic.
func (c *Client) decode(resp *http.Response) error {
	encoding := strings.ToLower(strings.TrimSpace(resp.Header.Get(HeaderContentEncoding)))
	newDecoder, ok := decoders[encoding]
	if !ok {
		if encoding != "" {
			c.logger.Debug("unsupported content encoding", slog.String("encoding", encoding))
		}
		return nil
	}

	br := bufio.NewReader(resp.Body)
	if encoding == EncodingGzip {
		if head, _ := br.Peek(len(gzipMagic)); !bytes.Equal(head, gzipMagic) {
			c.logger.Debug("body labelled gzip is not compressed, passing through")
			resp.Header.Del(HeaderContentEncoding)
			resp.Body = &decodedBody{Reader: br, raw: resp.Body}
			return nil
		}
	}

	r, err := newDecoder(br)
	if err != nil {
		return fmt.Errorf("decoding %s body: %w", encoding, err)
	}

	resp.Header.Del(HeaderContentEncoding)
	resp.ContentLength = -1
	resp.Body = &decodedBody{Reader: r, raw: resp.Body}
	return nil
}

type decodedBody struct {
	io.Reader
	raw io.Closer
}

func (b *decodedBody) Close() error {
	if c, ok := b.Reader.(io.Closer); ok {
		_ = c.Close()
	}
	return b.raw.Close()
}

func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
