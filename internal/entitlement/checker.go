// Package entitlement decides whether a user may publish an offer: an active
// main or P2P subscription, or some of the free offers left.
package entitlement

import (
	"context"
	"fmt"
	"time"

	"github.com/you/swap-desk/internal/config"
	"github.com/you/swap-desk/internal/metrics"
	"github.com/you/swap-desk/internal/types"
	"go.uber.org/zap"
)

// Account is what the store keeps per user.
type Account struct {
	MainUntil time.Time
	P2PUntil  time.Time
	Used      int
}

// Store persists accounts. InitTrial creates the account with MainUntil set
// only when the user has never been seen and reports whether it did.
// AddUsage is atomic and returns the new count. Memo stores memo unless the
// user already has one and returns the stored value.
type Store interface {
	Get(ctx context.Context, userID string) (Account, bool, error)
	SetUntil(ctx context.Context, userID string, k Kind, until time.Time) error
	AddUsage(ctx context.Context, userID string, delta int) (int, error)
	InitTrial(ctx context.Context, userID string, until time.Time) (bool, error)
	Memo(ctx context.Context, userID, memo string) (string, error)
}

type Status struct {
	UserID    string    `json:"user_id"`
	Entitled  bool      `json:"entitled"`
	MainUntil time.Time `json:"main_until,omitempty"`
	P2PUntil  time.Time `json:"p2p_until,omitempty"`
	Used      int       `json:"used"`
	FreeLeft  int       `json:"free_left"`
}

type Checker interface {
	IsEntitled(ctx context.Context, userID string) (bool, error)
	Reserve(ctx context.Context, userID string) (bool, error)
	Release(ctx context.Context, userID string) error
	Grant(ctx context.Context, userID string, p Plan) (Status, error)
	StartTrial(ctx context.Context, userID string) (bool, error)
	Status(ctx context.Context, userID string) (Status, error)
	Payment(ctx context.Context, r RateResolver, userID string, p Plan, code string) (Payment, error)
}

type Service struct {
	store   Store
	free    int
	trial   time.Duration
	pay     config.PaymentCfg
	log     *zap.Logger
	now     func() time.Time
	newMemo func(userID string) string
}

func NewService(store Store, cfg *config.Config, log *zap.Logger) *Service {
	free := cfg.Entitlement.FreeOffers
	if free <= 0 {
		free = 3
	}
	trial := cfg.TrialPeriod()
	if trial <= 0 {
		trial = 24 * time.Hour
	}
	pay := cfg.Payment
	if pay.MemoPrefix == "" {
		pay.MemoPrefix = "WA"
	}
	return &Service{
		store:   store,
		free:    free,
		trial:   trial,
		pay:     pay,
		log:     log,
		now:     time.Now,
		newMemo: randomMemo(pay.MemoPrefix),
	}
}

func storageErr(op string, err error) error {
	metrics.StorageErrors.WithLabelValues("entitlement").Inc()
	return fmt.Errorf("%w: entitlement %s: %w", types.ErrStorageUnavailable, op, err)
}

func (s *Service) Status(ctx context.Context, userID string) (Status, error) {
	acct, _, err := s.store.Get(ctx, userID)
	if err != nil {
		return Status{}, storageErr("status", err)
	}
	return s.status(userID, acct), nil
}

func (s *Service) status(userID string, a Account) Status {
	now := s.now()
	st := Status{UserID: userID, MainUntil: a.MainUntil, P2PUntil: a.P2PUntil, Used: a.Used}
	if left := s.free - a.Used; left > 0 {
		st.FreeLeft = left
	}
	st.Entitled = s.subscribed(a, now) || st.FreeLeft > 0
	return st
}

func (s *Service) subscribed(a Account, now time.Time) bool {
	return a.MainUntil.After(now) || a.P2PUntil.After(now)
}

func (s *Service) IsEntitled(ctx context.Context, userID string) (bool, error) {
	st, err := s.Status(ctx, userID)
	if err != nil {
		return false, err
	}
	return st.Entitled, nil
}

// Reserve counts one offer against userID and reports whether it was
// allowed. The counter is bumped before the free limit is checked, so of
// several concurrent reservations only as many as there are free offers
// left succeed. A refused reservation is rolled back.
func (s *Service) Reserve(ctx context.Context, userID string) (bool, error) {
	acct, _, err := s.store.Get(ctx, userID)
	if err != nil {
		return false, storageErr("reserve", err)
	}
	n, err := s.store.AddUsage(ctx, userID, 1)
	if err != nil {
		return false, storageErr("reserve", err)
	}
	if s.subscribed(acct, s.now()) || n <= s.free {
		s.log.Debug("usage recorded", zap.String("user", userID), zap.Int("used", n))
		return true, nil
	}
	if _, err := s.store.AddUsage(ctx, userID, -1); err != nil {
		s.log.Warn("refused reservation not rolled back", zap.String("user", userID), zap.Error(err))
	}
	return false, nil
}

// Release returns an offer taken by Reserve that was never published.
func (s *Service) Release(ctx context.Context, userID string) error {
	if _, err := s.store.AddUsage(ctx, userID, -1); err != nil {
		return storageErr("release", err)
	}
	return nil
}

// Grant extends the plan's subscription by its length, counting from now or
// from the current expiry, whichever is later.
func (s *Service) Grant(ctx context.Context, userID string, p Plan) (Status, error) {
	acct, _, err := s.store.Get(ctx, userID)
	if err != nil {
		return Status{}, storageErr("grant", err)
	}
	from := s.now()
	cur := acct.MainUntil
	if p.Kind == KindP2P {
		cur = acct.P2PUntil
	}
	if cur.After(from) {
		from = cur
	}
	until := from.Add(time.Duration(p.Days) * 24 * time.Hour)
	if err := s.store.SetUntil(ctx, userID, p.Kind, until); err != nil {
		return Status{}, storageErr("grant", err)
	}
	if p.Kind == KindP2P {
		acct.P2PUntil = until
	} else {
		acct.MainUntil = until
	}
	s.log.Info("plan granted", zap.String("user", userID), zap.String("plan", p.ID()), zap.Time("until", until))
	return s.status(userID, acct), nil
}

// StartTrial gives a first-time user one trial period of the main
// subscription. Known users get nothing.
func (s *Service) StartTrial(ctx context.Context, userID string) (bool, error) {
	ok, err := s.store.InitTrial(ctx, userID, s.now().Add(s.trial))
	if err != nil {
		return false, storageErr("trial", err)
	}
	if ok {
		s.log.Info("trial started", zap.String("user", userID))
	}
	return ok, nil
}
