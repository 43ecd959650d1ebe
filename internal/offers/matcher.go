package offers

import (
	"context"

	"github.com/you/swap-desk/internal/metrics"
	"github.com/you/swap-desk/internal/types"
	"go.uber.org/zap"
)

// DefaultLimit caps how many similar offers are shown next to a quote.
const DefaultLimit = 3

type Matcher struct {
	store Store
	limit int
	log   *zap.Logger
}

func NewMatcher(store Store, limit int, log *zap.Logger) *Matcher {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Matcher{store: store, limit: limit, log: log}
}

// FindSimilar returns up to limit records for exactly (give, receive). A
// store failure is logged and yields no matches.
func (m *Matcher) FindSimilar(ctx context.Context, give, receive string) []types.OfferRecord {
	p := types.Pair{Give: give, Receive: receive}
	recs, err := m.store.Similar(ctx, p, m.limit)
	if err != nil {
		metrics.StorageErrors.WithLabelValues("offers").Inc()
		m.log.Warn("similar offers unavailable", zap.String("pair", p.Key()), zap.Error(err))
		return nil
	}
	out := make([]types.OfferRecord, 0, len(recs))
	for _, r := range recs {
		if r.Pair() != p {
			continue
		}
		out = append(out, r)
		if len(out) == m.limit {
			break
		}
	}
	return out
}
