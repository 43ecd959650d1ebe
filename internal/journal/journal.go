// Package journal mirrors published offers into a Redis stream for
// bookkeeping.
package journal

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/you/swap-desk/internal/config"
	"github.com/you/swap-desk/internal/metrics"
	"github.com/you/swap-desk/internal/types"
	"go.uber.org/zap"
)

const dateLayout = "2006-01-02 15:04:05"

// Row is one journal line.
type Row struct {
	StreamID string
	OfferID  string
	Date     time.Time
	UserID   string
	From     string
	To       string
	Amount   decimal.Decimal
	Receive  decimal.Decimal
	Contact  string
	Fee      decimal.Decimal
	Note     string
}

type Publisher struct {
	rdb    *redis.Client
	stream string
	maxLen int64
	note   string
	log    *zap.Logger
}

func NewPublisher(rdb *redis.Client, cfg *config.Config, log *zap.Logger) *Publisher {
	return &Publisher{
		rdb:    rdb,
		stream: cfg.Key(cfg.Journal.Stream),
		maxLen: cfg.Journal.MaxLen,
		note:   cfg.Journal.Note,
		log:    log,
	}
}

// Append writes the record to the stream, trimming it approximately to
// maxLen. Failures are logged and counted; callers may ignore the error.
func (p *Publisher) Append(ctx context.Context, rec types.OfferRecord) error {
	args := &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]interface{}{
			"id":      rec.ID,
			"date":    rec.CreatedAt.UTC().Format(dateLayout),
			"user":    rec.UserID,
			"from":    rec.GiveAsset,
			"to":      rec.ReceiveAsset,
			"amount":  rec.GiveAmount.String(),
			"receive": rec.ReceiveAmount.String(),
			"contact": rec.Contact,
			"fee":     rec.Fee.String(),
			"note":    p.note,
		},
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}
	if err := p.rdb.XAdd(ctx, args).Err(); err != nil {
		metrics.StorageErrors.WithLabelValues("journal").Inc()
		p.log.Warn("journal append failed", zap.String("offer", rec.ID), zap.Error(err))
		return err
	}
	return nil
}

type Consumer struct {
	rdb    *redis.Client
	stream string
	log    *zap.Logger
}

func NewConsumer(rdb *redis.Client, cfg *config.Config, log *zap.Logger) *Consumer {
	return &Consumer{rdb: rdb, stream: cfg.Key(cfg.Journal.Stream), log: log}
}

// EnsureGroup creates the consumer group at the start of the stream,
// creating the stream too. An existing group is fine.
func (c *Consumer) EnsureGroup(ctx context.Context, group string) error {
	err := c.rdb.XGroupCreateMkStream(ctx, c.stream, group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

// Tail delivers rows to out through the consumer group until ctx is done.
// Each row is acked once handed over.
func (c *Consumer) Tail(ctx context.Context, group, consumer string, out chan<- Row) error {
	if err := c.EnsureGroup(ctx, group); err != nil {
		return err
	}
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		streams, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    group,
			Consumer: consumer,
			Streams:  []string{c.stream, ">"},
			Count:    100,
			Block:    time.Second,
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.Warn("journal read failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(200 * time.Millisecond):
			}
			continue
		}
		for _, s := range streams {
			for _, m := range s.Messages {
				select {
				case out <- decode(m):
				case <-ctx.Done():
					return ctx.Err()
				}
				_ = c.rdb.XAck(ctx, c.stream, group, m.ID).Err()
			}
		}
	}
}

func decode(m redis.XMessage) Row {
	str := func(k string) string {
		v, _ := m.Values[k].(string)
		return v
	}
	dec := func(k string) decimal.Decimal {
		d, err := decimal.NewFromString(str(k))
		if err != nil {
			return decimal.Zero
		}
		return d
	}
	r := Row{
		StreamID: m.ID,
		OfferID:  str("id"),
		UserID:   str("user"),
		From:     str("from"),
		To:       str("to"),
		Amount:   dec("amount"),
		Receive:  dec("receive"),
		Contact:  str("contact"),
		Fee:      dec("fee"),
		Note:     str("note"),
	}
	if t, err := time.Parse(dateLayout, str("date")); err == nil {
		r.Date = t
	}
	return r
}
