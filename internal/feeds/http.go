// Package feeds implements the remote price lookups: a fiat rate table by
// base currency and a crypto spot price in USD. Lookups never fail towards
// the caller; a failed lookup yields a neutral value flagged as degraded.
package feeds

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/you/swap-desk/internal/config"
	"github.com/you/swap-desk/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Price is a feed result. Degraded means the value is a fallback and must not
// be trusted as a market price.
type Price struct {
	Value    decimal.Decimal
	Degraded bool
}

var one = decimal.NewFromInt(1)

func fallback() Price { return Price{Value: one, Degraded: true} }

type httpError struct {
	Status      int
	URL         string
	Body        string
	RateLimited bool
}

func (e *httpError) Error() string {
	return fmt.Sprintf("http %d %s: %s", e.Status, e.URL, e.Body)
}

func newHTTPError(resp *http.Response, body []byte) *httpError {
	msg := strings.TrimSpace(string(body))
	return &httpError{
		Status:      resp.StatusCode,
		URL:         resp.Request.URL.String(),
		Body:        truncate(msg, 240),
		RateLimited: resp.StatusCode == http.StatusTooManyRequests || strings.Contains(strings.ToLower(msg), "throttled"),
	}
}

// NewLimiter builds the token bucket shared by both feeds.
func NewLimiter(cfg *config.Config) *rate.Limiter {
	perSecond := cfg.Feeds.RequestsPerMinute / 60.0
	if perSecond <= 0 {
		return nil
	}
	burst := cfg.Feeds.Burst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}

// getter is the transport shared by the feeds: one deadline per call,
// throttled, no retries.
type getter struct {
	cli     *http.Client
	timeout time.Duration
	limiter *rate.Limiter
}

func (g *getter) getJSON(ctx context.Context, u string, hdr http.Header, v any) error {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("throttled: %w", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	for k, vals := range hdr {
		for _, val := range vals {
			req.Header.Add(k, val)
		}
	}
	return httpDoJSON(g.cli, req, &v)
}

func httpDoJSON[T any](cli *http.Client, req *http.Request, v *T) error {
	resp, err := cli.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return newHTTPError(resp, b)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func observe(feed string, start time.Time, p Price) Price {
	metrics.FeedLatency.WithLabelValues(feed).Observe(time.Since(start).Seconds())
	outcome := "ok"
	if p.Degraded {
		outcome = "fallback"
	}
	metrics.FeedRequests.WithLabelValues(feed, outcome).Inc()
	return p
}

func logFallback(log *zap.Logger, feed, key string, err error) {
	fields := []zap.Field{zap.String("feed", feed), zap.String("key", key), zap.Error(err)}
	var he *httpError
	if errors.As(err, &he) && he.RateLimited {
		fields = append(fields, zap.Bool("rate_limited", true))
	}
	log.Warn("price feed degraded, using fallback", fields...)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
