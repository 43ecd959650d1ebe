package journal

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/you/swap-desk/internal/config"
	"github.com/you/swap-desk/internal/types"
	"go.uber.org/zap"
)

func setup(t *testing.T) (*miniredis.Miniredis, *redis.Client, *config.Config) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := &config.Config{}
	cfg.Journal.Stream = "offers:journal"
	cfg.Journal.MaxLen = 100
	cfg.Journal.Note = "desk-1"
	return mr, rdb, cfg
}

func offer(id string) types.OfferRecord {
	return types.OfferRecord{
		ID:            id,
		UserID:        "42",
		Seq:           1,
		GiveAsset:     "RUB",
		GiveAmount:    decimal.NewFromInt(1000),
		ReceiveAsset:  "USDT",
		ReceiveAmount: decimal.RequireFromString("10.69518716"),
		Fee:           decimal.RequireFromString("0.1"),
		Contact:       "@whale",
		CreatedAt:     time.Date(2025, 3, 1, 12, 30, 0, 0, time.UTC),
	}
}

func TestPublisher_Append(t *testing.T) {
	_, rdb, cfg := setup(t)
	p := NewPublisher(rdb, cfg, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, p.Append(ctx, offer("a")))
	require.NoError(t, p.Append(ctx, offer("b")))

	msgs, err := rdb.XRange(ctx, "offers:journal", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	v := msgs[0].Values
	assert.Equal(t, "a", v["id"])
	assert.Equal(t, "2025-03-01 12:30:00", v["date"])
	assert.Equal(t, "RUB", v["from"])
	assert.Equal(t, "USDT", v["to"])
	assert.Equal(t, "1000", v["amount"])
	assert.Equal(t, "0.1", v["fee"])
	assert.Equal(t, "@whale", v["contact"])
	assert.Equal(t, "desk-1", v["note"])
}

func TestPublisher_AppendFailureIsReported(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer rdb.Close()
	mr.Close()

	cfg := &config.Config{}
	cfg.Journal.Stream = "offers:journal"
	p := NewPublisher(rdb, cfg, zap.NewNop())
	assert.Error(t, p.Append(context.Background(), offer("a")))
}

func TestConsumer_Tail(t *testing.T) {
	_, rdb, cfg := setup(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	p := NewPublisher(rdb, cfg, zap.NewNop())
	require.NoError(t, p.Append(ctx, offer("a")))
	require.NoError(t, p.Append(ctx, offer("b")))

	c := NewConsumer(rdb, cfg, zap.NewNop())
	out := make(chan Row, 4)
	done := make(chan error, 1)
	go func() { done <- c.Tail(ctx, "tail", "t1", out) }()

	var got []Row
	for len(got) < 2 {
		select {
		case r := <-out:
			got = append(got, r)
		case <-ctx.Done():
			t.Fatal("timed out waiting for journal rows")
		}
	}
	assert.Eventually(t, func() bool {
		pending, err := rdb.XPending(ctx, "offers:journal", "tail").Result()
		return err == nil && pending.Count == 0
	}, 2*time.Second, 20*time.Millisecond, "rows acked")
	cancel()
	<-done

	assert.Equal(t, "a", got[0].OfferID)
	assert.Equal(t, "b", got[1].OfferID)
	assert.Equal(t, "42", got[0].UserID)
	assert.True(t, got[0].Amount.Equal(decimal.NewFromInt(1000)))
	assert.True(t, got[0].Receive.Equal(decimal.RequireFromString("10.69518716")))
	assert.True(t, got[0].Date.Equal(time.Date(2025, 3, 1, 12, 30, 0, 0, time.UTC)))
}

func TestConsumer_EnsureGroupIdempotent(t *testing.T) {
	_, rdb, cfg := setup(t)
	c := NewConsumer(rdb, cfg, zap.NewNop())
	require.NoError(t, c.EnsureGroup(context.Background(), "g"))
	require.NoError(t, c.EnsureGroup(context.Background(), "g"))
}
