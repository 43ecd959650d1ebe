// Package offers keeps the append-only history of published swaps and finds
// comparable offers for a pair.
package offers

import (
	"context"
	"sort"
	"sync"

	"github.com/you/swap-desk/internal/types"
)

// DefaultWindow is how many of each user's latest records are considered
// when matching.
const DefaultWindow = 5

// Store is append-only. Similar returns records whose pair equals p, taken
// from each user's latest window records, users in first-publish order and
// records in chronological order, stopping at limit.
type Store interface {
	Append(ctx context.Context, rec types.OfferRecord) (types.OfferRecord, error)
	ByUser(ctx context.Context, userID string, limit int) ([]types.OfferRecord, error)
	Similar(ctx context.Context, p types.Pair, limit int) ([]types.OfferRecord, error)
}

type userLog struct {
	rank    int
	records []types.OfferRecord
}

// pairIndex lists the users that ever published a pair, sorted by rank, and
// for each of them the positions of their latest window records of that pair.
type pairIndex struct {
	users  []string
	recent map[string][]int
}

// MemoryStore is an in-process Store. Appends take the write lock briefly;
// matching runs under the read lock and touches only indexed users.
type MemoryStore struct {
	mu       sync.RWMutex
	window   int
	nextRank int
	users    map[string]*userLog
	pairs    map[types.Pair]*pairIndex
}

func NewMemoryStore(window int) *MemoryStore {
	if window <= 0 {
		window = DefaultWindow
	}
	return &MemoryStore{
		window: window,
		users:  make(map[string]*userLog, 64),
		pairs:  make(map[types.Pair]*pairIndex, 64),
	}
}

func (s *MemoryStore) Append(_ context.Context, rec types.OfferRecord) (types.OfferRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ul := s.users[rec.UserID]
	if ul == nil {
		ul = &userLog{rank: s.nextRank}
		s.nextRank++
		s.users[rec.UserID] = ul
	}
	rec.Seq = int64(len(ul.records) + 1)
	ul.records = append(ul.records, rec)
	pos := len(ul.records) - 1

	p := rec.Pair()
	idx := s.pairs[p]
	if idx == nil {
		idx = &pairIndex{recent: make(map[string][]int, 4)}
		s.pairs[p] = idx
	}
	positions, seen := idx.recent[rec.UserID]
	if !seen {
		i := sort.Search(len(idx.users), func(i int) bool {
			return s.users[idx.users[i]].rank > ul.rank
		})
		idx.users = append(idx.users, "")
		copy(idx.users[i+1:], idx.users[i:])
		idx.users[i] = rec.UserID
	}
	positions = append(positions, pos)
	if len(positions) > s.window {
		positions = append(positions[:0], positions[1:]...)
	}
	idx.recent[rec.UserID] = positions
	return rec, nil
}

func (s *MemoryStore) ByUser(_ context.Context, userID string, limit int) ([]types.OfferRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ul := s.users[userID]
	if ul == nil {
		return nil, nil
	}
	recs := ul.records
	if limit > 0 && len(recs) > limit {
		recs = recs[len(recs)-limit:]
	}
	out := make([]types.OfferRecord, len(recs))
	copy(out, recs)
	return out, nil
}

func (s *MemoryStore) Similar(_ context.Context, p types.Pair, limit int) ([]types.OfferRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx := s.pairs[p]
	if idx == nil || limit <= 0 {
		return nil, nil
	}
	out := make([]types.OfferRecord, 0, limit)
	for _, uid := range idx.users {
		ul := s.users[uid]
		oldest := len(ul.records) - s.window
		for _, pos := range idx.recent[uid] {
			if pos < oldest {
				continue
			}
			out = append(out, ul.records[pos])
			if len(out) == limit {
				return out, nil
			}
		}
	}
	return out, nil
}
