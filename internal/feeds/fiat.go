package feeds

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/you/swap-desk/internal/config"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type fiatTable struct {
	Base  string                     `json:"base"`
	Rates map[string]decimal.Decimal `json:"rates"`
}

// FiatFeed reads "rates by base currency" tables (exchangerate-api v4 shape).
type FiatFeed struct {
	baseURL string
	get     *getter
	log     *zap.Logger
}

func NewFiatFeed(cfg *config.Config, limiter *rate.Limiter, log *zap.Logger) *FiatFeed {
	return &FiatFeed{
		baseURL: strings.TrimRight(cfg.Feeds.FiatURL, "/"),
		get: &getter{
			cli:     &http.Client{Timeout: cfg.FeedTimeout() + time.Second},
			timeout: cfg.FeedTimeout(),
			limiter: limiter,
		},
		log: log,
	}
}

// Rate returns how many units of to one unit of from buys.
func (f *FiatFeed) Rate(ctx context.Context, from, to string) Price {
	from, to = strings.ToUpper(from), strings.ToUpper(to)
	if from == to {
		return Price{Value: one}
	}
	start := time.Now()
	key := from + "/" + to

	var tbl fiatTable
	if err := f.get.getJSON(ctx, f.baseURL+"/"+url.PathEscape(from), nil, &tbl); err != nil {
		logFallback(f.log, "fiat", key, err)
		return observe("fiat", start, fallback())
	}
	r, ok := tbl.Rates[to]
	if !ok || !r.IsPositive() {
		logFallback(f.log, "fiat", key, fmt.Errorf("no positive rate for %s in %s table", to, from))
		return observe("fiat", start, fallback())
	}
	return observe("fiat", start, Price{Value: r})
}
