package offers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
	"github.com/you/swap-desk/internal/config"
	"github.com/you/swap-desk/internal/types"
)

// RedisStore keeps offers in Redis:
//
//	offers:seq                  last assigned user rank
//	offers:users                ZSET user -> first-publish rank
//	offers:user:<id>            LIST of JSON records, oldest first
//	offers:user:<id>:n          per-user record counter
//	offers:pair:<give>:<recv>   ZSET user -> rank, users that published the pair
type RedisStore struct {
	rdb    *redis.Client
	cfg    *config.Config
	window int
}

func NewRedisStore(rdb *redis.Client, cfg *config.Config) *RedisStore {
	w := cfg.Offers.Window
	if w <= 0 {
		w = DefaultWindow
	}
	return &RedisStore{rdb: rdb, cfg: cfg, window: w}
}

func (s *RedisStore) usersKey() string         { return s.cfg.Key("offers:users") }
func (s *RedisStore) seqKey() string           { return s.cfg.Key("offers:seq") }
func (s *RedisStore) userKey(id string) string { return s.cfg.Key("offers:user:" + id) }
func (s *RedisStore) pairKey(p types.Pair) string {
	return s.cfg.Key("offers:pair:" + p.Key())
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: offers %s: %w", types.ErrStorageUnavailable, op, err)
}

// maxAppendRetries bounds optimistic retries when a concurrent append
// touched the watched keys.
const maxAppendRetries = 16

// Append stores rec in one WATCH/MULTI transaction: the per-user counter,
// the first-publish rank, the record and the pair index all change together
// or not at all.
func (s *RedisStore) Append(ctx context.Context, rec types.OfferRecord) (types.OfferRecord, error) {
	userKey := s.userKey(rec.UserID)
	countKey := userKey + ":n"
	for i := 0; i < maxAppendRetries; i++ {
		var out types.OfferRecord
		err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			n, err := tx.Get(ctx, countKey).Int64()
			if err != nil && !errors.Is(err, redis.Nil) {
				return err
			}
			rank, err := tx.ZScore(ctx, s.usersKey(), rec.UserID).Result()
			first := errors.Is(err, redis.Nil)
			if err != nil && !first {
				return err
			}
			if first {
				last, err := tx.Get(ctx, s.seqKey()).Int64()
				if err != nil && !errors.Is(err, redis.Nil) {
					return err
				}
				rank = float64(last + 1)
			}

			out = rec
			out.Seq = n + 1
			b, err := json.Marshal(out)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Incr(ctx, countKey)
				if first {
					pipe.Incr(ctx, s.seqKey())
					pipe.ZAdd(ctx, s.usersKey(), redis.Z{Score: rank, Member: rec.UserID})
				}
				pipe.RPush(ctx, userKey, b)
				pipe.ZAddNX(ctx, s.pairKey(rec.Pair()), redis.Z{Score: rank, Member: rec.UserID})
				return nil
			})
			return err
		}, countKey, s.seqKey(), s.usersKey())

		switch {
		case err == nil:
			return out, nil
		case errors.Is(err, redis.TxFailedErr):
			continue
		default:
			return rec, storageErr("append", err)
		}
	}
	return rec, storageErr("append", redis.TxFailedErr)
}

func (s *RedisStore) ByUser(ctx context.Context, userID string, limit int) ([]types.OfferRecord, error) {
	start := int64(0)
	if limit > 0 {
		start = -int64(limit)
	}
	raw, err := s.rdb.LRange(ctx, s.userKey(userID), start, -1).Result()
	if err != nil {
		return nil, storageErr("by user", err)
	}
	return decodeAll(raw)
}

func (s *RedisStore) Similar(ctx context.Context, p types.Pair, limit int) ([]types.OfferRecord, error) {
	if limit <= 0 {
		return nil, nil
	}
	users, err := s.rdb.ZRange(ctx, s.pairKey(p), 0, -1).Result()
	if err != nil {
		return nil, storageErr("pair users", err)
	}
	out := make([]types.OfferRecord, 0, limit)
	for _, uid := range users {
		raw, err := s.rdb.LRange(ctx, s.userKey(uid), -int64(s.window), -1).Result()
		if err != nil {
			return nil, storageErr("user window "+strconv.Quote(uid), err)
		}
		recs, err := decodeAll(raw)
		if err != nil {
			return nil, err
		}
		for _, r := range recs {
			if r.Pair() != p {
				continue
			}
			out = append(out, r)
			if len(out) == limit {
				return out, nil
			}
		}
	}
	return out, nil
}

func decodeAll(raw []string) ([]types.OfferRecord, error) {
	out := make([]types.OfferRecord, 0, len(raw))
	for _, s := range raw {
		var r types.OfferRecord
		if err := json.Unmarshal([]byte(s), &r); err != nil {
			return nil, fmt.Errorf("decode offer record: %w", err)
		}
		out = append(out, r)
	}
	return out, nil
}
