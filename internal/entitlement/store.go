package entitlement

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/you/swap-desk/internal/config"
)

type MemoryStore struct {
	mu    sync.Mutex
	accts map[string]*Account
	memos map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{accts: make(map[string]*Account), memos: make(map[string]string)}
}

func (m *MemoryStore) Get(_ context.Context, userID string) (Account, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accts[userID]
	if !ok {
		return Account{}, false, nil
	}
	return *a, true, nil
}

func (m *MemoryStore) account(userID string) *Account {
	a, ok := m.accts[userID]
	if !ok {
		a = &Account{}
		m.accts[userID] = a
	}
	return a
}

func (m *MemoryStore) SetUntil(_ context.Context, userID string, k Kind, until time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := m.account(userID)
	if k == KindP2P {
		a.P2PUntil = until
	} else {
		a.MainUntil = until
	}
	return nil
}

func (m *MemoryStore) AddUsage(_ context.Context, userID string, delta int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := m.account(userID)
	a.Used += delta
	if a.Used < 0 {
		a.Used = 0
	}
	return a.Used, nil
}

func (m *MemoryStore) Memo(_ context.Context, userID, memo string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.memos[userID]; ok {
		return cur, nil
	}
	m.memos[userID] = memo
	return memo, nil
}

func (m *MemoryStore) InitTrial(_ context.Context, userID string, until time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accts[userID]; ok {
		return false, nil
	}
	m.accts[userID] = &Account{MainUntil: until}
	return true, nil
}

// RedisStore keeps one HASH sub:<user> with fields created, main_until,
// p2p_until (unix seconds), used and memo. Every account write sets created,
// so its presence marks a known user; a memo alone does not.
type RedisStore struct {
	rdb *redis.Client
	cfg *config.Config
}

func NewRedisStore(rdb *redis.Client, cfg *config.Config) *RedisStore {
	return &RedisStore{rdb: rdb, cfg: cfg}
}

func (r *RedisStore) key(userID string) string { return r.cfg.Key("sub:" + userID) }

func untilField(k Kind) string {
	if k == KindP2P {
		return "p2p_until"
	}
	return "main_until"
}

func (r *RedisStore) Get(ctx context.Context, userID string) (Account, bool, error) {
	m, err := r.rdb.HGetAll(ctx, r.key(userID)).Result()
	if err != nil {
		return Account{}, false, err
	}
	if len(m) == 0 {
		return Account{}, false, nil
	}
	var a Account
	if v, ok := m["main_until"]; ok {
		a.MainUntil = unix(v)
	}
	if v, ok := m["p2p_until"]; ok {
		a.P2PUntil = unix(v)
	}
	a.Used, _ = strconv.Atoi(m["used"])
	return a, true, nil
}

func unix(s string) time.Time {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n == 0 {
		return time.Time{}
	}
	return time.Unix(n, 0).UTC()
}

func (r *RedisStore) SetUntil(ctx context.Context, userID string, k Kind, until time.Time) error {
	key := r.key(userID)
	pipe := r.rdb.TxPipeline()
	pipe.HSetNX(ctx, key, "created", time.Now().Unix())
	pipe.HSet(ctx, key, untilField(k), until.Unix())
	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisStore) AddUsage(ctx context.Context, userID string, delta int) (int, error) {
	key := r.key(userID)
	pipe := r.rdb.TxPipeline()
	pipe.HSetNX(ctx, key, "created", time.Now().Unix())
	n := pipe.HIncrBy(ctx, key, "used", int64(delta))
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return int(n.Val()), nil
}

func (r *RedisStore) Memo(ctx context.Context, userID, memo string) (string, error) {
	key := r.key(userID)
	pipe := r.rdb.TxPipeline()
	pipe.HSetNX(ctx, key, "memo", memo)
	cur := pipe.HGet(ctx, key, "memo")
	if _, err := pipe.Exec(ctx); err != nil {
		return "", err
	}
	return cur.Val(), nil
}

func (r *RedisStore) InitTrial(ctx context.Context, userID string, until time.Time) (bool, error) {
	key := r.key(userID)
	created, err := r.rdb.HSetNX(ctx, key, "created", time.Now().Unix()).Result()
	if err != nil {
		return false, err
	}
	if !created {
		return false, nil
	}
	if err := r.rdb.HSet(ctx, key, "main_until", until.Unix()).Err(); err != nil {
		return false, err
	}
	return true, nil
}
