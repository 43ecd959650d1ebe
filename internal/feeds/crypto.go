package feeds

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/you/swap-desk/internal/asset"
	"github.com/you/swap-desk/internal/config"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// CryptoFeed reads USD spot prices from CoinGecko /simple/price.
type CryptoFeed struct {
	baseURL string
	apiKey  string
	isPro   bool
	get     *getter
	log     *zap.Logger
}

func NewCryptoFeed(cfg *config.Config, limiter *rate.Limiter, log *zap.Logger) *CryptoFeed {
	return &CryptoFeed{
		baseURL: strings.TrimRight(cfg.Feeds.CoinGeckoURL, "/"),
		apiKey:  cfg.Feeds.CoinGeckoKey,
		isPro:   cfg.Feeds.CoinGeckoPro,
		get: &getter{
			cli:     &http.Client{Timeout: cfg.FeedTimeout() + time.Second},
			timeout: cfg.FeedTimeout(),
			limiter: limiter,
		},
		log: log,
	}
}

// PriceUSD returns the USD price of one unit of the crypto asset.
func (f *CryptoFeed) PriceUSD(ctx context.Context, code string) Price {
	start := time.Now()
	id, ok := asset.CoinGeckoID(code)
	if !ok {
		// no default coin: an unmapped code is reported, never priced as another asset
		logFallback(f.log, "crypto", code, fmt.Errorf("no coingecko id for %q", code))
		return observe("crypto", start, fallback())
	}

	hdr := http.Header{}
	if f.apiKey != "" {
		if f.isPro {
			hdr.Set("x-cg-pro-api-key", f.apiKey)
		} else {
			hdr.Set("x-cg-demo-api-key", f.apiKey)
		}
	}

	u := f.baseURL + "/simple/price?ids=" + url.QueryEscape(id) + "&vs_currencies=usd"
	var body map[string]map[string]decimal.Decimal
	if err := f.get.getJSON(ctx, u, hdr, &body); err != nil {
		logFallback(f.log, "crypto", code, err)
		return observe("crypto", start, fallback())
	}
	p, ok := body[id]["usd"]
	if !ok || !p.IsPositive() {
		logFallback(f.log, "crypto", code, fmt.Errorf("no usd price for %s", id))
		return observe("crypto", start, fallback())
	}
	return observe("crypto", start, Price{Value: p})
}
