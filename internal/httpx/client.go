package httpx

import (
	"context"
	"crypto/tls"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// Config mirrors the http.* block of the configuration file.
type Config struct {
	TimeoutConnect time.Duration
	TimeoutRead    time.Duration
	UserAgent      string
	Headers        map[string]string
	HTTP2          bool
	RateLimitRPS   float64
	JitterMin      time.Duration
	JitterMax      time.Duration
}

const maxRedirects = 10

// Client wraps a shared http.Client with the request discipline every
// component uses: identity encoding, configured user agent, bounded
// redirects, and a process-global token bucket for catalog and probe
// requests. It is stateless across resources and safe for concurrent use.
type Client struct {
	client  *http.Client
	cfg     Config
	limiter *rate.Limiter
}

func New(cfg Config) *Client {
	if cfg.TimeoutConnect == 0 {
		cfg.TimeoutConnect = 10 * time.Second
	}
	if cfg.TimeoutRead == 0 {
		cfg.TimeoutRead = 60 * time.Second
	}
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 1.0
	}
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   cfg.TimeoutConnect,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ResponseHeaderTimeout: cfg.TimeoutRead,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   8,
		MaxConnsPerHost:       8,
		DisableCompression:    true,
		ForceAttemptHTTP2:     cfg.HTTP2,
	}
	if !cfg.HTTP2 {
		transport.TLSNextProto = make(map[string]func(string, *tls.Conn) http.RoundTripper)
	}
	return &Client{
		client: &http.Client{
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("stopped after %d redirects", maxRedirects)
				}
				return nil
			},
		},
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), 1),
	}
}

// Do injects the shared headers and executes the request.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	} else {
		req.Header.Set("User-Agent", "anacsync")
	}
	// Identity keeps Content-Length meaningful for ranged transfers.
	req.Header.Set("Accept-Encoding", "identity")
	for k, v := range c.cfg.Headers {
		req.Header.Set(k, v)
	}
	return c.client.Do(req)
}

// Throttle blocks on the global token bucket plus a configured jitter.
// Catalog and probe requests go through it; transfer reads do not.
func (c *Client) Throttle(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	if c.cfg.JitterMax > c.cfg.JitterMin && c.cfg.JitterMin >= 0 {
		d := c.cfg.JitterMin + time.Duration(rand.Int63n(int64(c.cfg.JitterMax-c.cfg.JitterMin)))
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Get issues a plain whole-body GET.
func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Connection", "keep-alive")
	return c.Do(req)
}

// RangeGet issues a ranged GET over a keep-alive connection. end < 0
// requests an open-ended range. A non-empty ifRange invalidates resume
// server-side when the resource changed.
func (c *Client) RangeGet(ctx context.Context, url string, start, end int64, ifRange string) (*http.Response, error) {
	return c.rangeRequest(ctx, url, start, end, ifRange, false)
}

// ShortGet is RangeGet with Connection: close, for servers that degrade
// over a persistent connection.
func (c *Client) ShortGet(ctx context.Context, url string, start, end int64, ifRange string) (*http.Response, error) {
	return c.rangeRequest(ctx, url, start, end, ifRange, true)
}

// TailGet requests the final n bytes (Range: bytes=-n).
func (c *Client) TailGet(ctx context.Context, url string, n int64, ifRange string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=-%d", n))
	if ifRange != "" {
		req.Header.Set("If-Range", ifRange)
	}
	return c.Do(req)
}

func (c *Client) rangeRequest(ctx context.Context, url string, start, end int64, ifRange string, short bool) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if end >= 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end))
	} else {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", start))
	}
	if ifRange != "" {
		req.Header.Set("If-Range", ifRange)
	}
	if short {
		req.Close = true
		req.Header.Set("Connection", "close")
	} else {
		req.Header.Set("Connection", "keep-alive")
	}
	return c.Do(req)
}
