package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/joeycumines/logiface"
)

// HTTP fetches over HTTP, retrying transient failures. Use [NewHTTP].
type HTTP struct {
	client  *retryablehttp.Client
	maxSize int64
}

// HTTPOption configures [NewHTTP].
type HTTPOption func(*retryablehttp.Client, *HTTP)

// WithRetryMax sets the maximum number of retries.
func WithRetryMax(n int) HTTPOption {
	return func(c *retryablehttp.Client, _ *HTTP) { c.RetryMax = n }
}

// WithRetryWait sets the bounds of the retry backoff.
func WithRetryWait(minWait, maxWait time.Duration) HTTPOption {
	return func(c *retryablehttp.Client, _ *HTTP) {
		c.RetryWaitMin = minWait
		c.RetryWaitMax = maxWait
	}
}

// WithTimeout sets the timeout of each attempt.
func WithTimeout(d time.Duration) HTTPOption {
	return func(c *retryablehttp.Client, _ *HTTP) { c.HTTPClient.Timeout = d }
}

// WithMaxSize limits the accepted response size, in bytes.
func WithMaxSize(n int64) HTTPOption {
	return func(_ *retryablehttp.Client, h *HTTP) { h.maxSize = n }
}

// WithHTTPLogger routes the client's logging to logger.
func WithHTTPLogger(logger *logiface.Logger[logiface.Event]) HTTPOption {
	return func(c *retryablehttp.Client, _ *HTTP) {
		if logger == nil {
			c.Logger = nil
			return
		}
		c.Logger = leveledLogger{logger}
	}
}

// NewHTTP returns an HTTP fetcher. By default it retries up to 3 times, and
// does not log.
func NewHTTP(opts ...HTTPOption) *HTTP {
	c := retryablehttp.NewClient()
	c.Logger = nil
	c.RetryMax = 3
	h := &HTTP{client: c, maxSize: 32 << 20}
	for _, opt := range opts {
		opt(c, h)
	}
	return h
}

func (h *HTTP) Fetch(ctx context.Context, url string) (string, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return ``, err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return ``, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return ``, fmt.Errorf(`%w: %s: %s`, ErrStatus, url, resp.Status)
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, h.maxSize))
	if err != nil {
		return ``, err
	}
	return string(b), nil
}

// leveledLogger implements [retryablehttp.LeveledLogger].
type leveledLogger struct {
	logger *logiface.Logger[logiface.Event]
}

func (x leveledLogger) Error(msg string, keysAndValues ...any) {
	x.log(x.logger.Err(), msg, keysAndValues)
}

func (x leveledLogger) Info(msg string, keysAndValues ...any) {
	x.log(x.logger.Info(), msg, keysAndValues)
}

func (x leveledLogger) Debug(msg string, keysAndValues ...any) {
	x.log(x.logger.Debug(), msg, keysAndValues)
}

func (x leveledLogger) Warn(msg string, keysAndValues ...any) {
	x.log(x.logger.Warning(), msg, keysAndValues)
}

func (leveledLogger) log(b *logiface.Builder[logiface.Event], msg string, keysAndValues []any) {
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		if k, ok := keysAndValues[i].(string); ok {
			b = b.Any(k, keysAndValues[i+1])
		}
	}
	b.Log(msg)
}
