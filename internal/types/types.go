package types

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Scale is the number of decimal places kept for fees and quoted amounts.
const Scale = 8

var (
	ErrUnknownAsset       = errors.New("unknown asset")
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrNotEntitled        = errors.New("not entitled")
)

type Class string

const (
	Fiat   Class = "fiat"
	Crypto Class = "crypto"
	Points Class = "points"
)

type Asset struct {
	Code  string `json:"code"`
	Class Class  `json:"class"`
}

func (a Asset) String() string { return a.Code }
func (a Asset) IsZero() bool   { return a.Code == "" }

type Money struct {
	Asset  Asset           `json:"asset"`
	Amount decimal.Decimal `json:"amount"`
}

// Pair is a swap direction keyed by asset codes.
type Pair struct {
	Give    string `json:"give"`
	Receive string `json:"receive"`
}

func (p Pair) Key() string { return p.Give + ":" + p.Receive }

// FeePolicy selects which side of the swap carries the fee.
type FeePolicy string

const (
	// FeePolicyLegacy subtracts the fee, computed in give-asset units, from
	// the receive amount as is.
	FeePolicyLegacy FeePolicy = "legacy"
	// FeePolicyConverted converts the fee through the rate before
	// subtracting it, so the fee is denominated in the receive asset.
	FeePolicyConverted FeePolicy = "converted"
)

func (p FeePolicy) Valid() bool {
	return p == FeePolicyLegacy || p == FeePolicyConverted
}

// Quote is a priced swap. FeeExceeds is set when the fee ate the whole
// converted amount and Receive was clamped to zero; such a quote is also
// Degraded.
type Quote struct {
	Give       Money           `json:"give"`
	Receive    Money           `json:"receive"`
	Fee        Money           `json:"fee"`
	Rate       decimal.Decimal `json:"rate"`
	Degraded   bool            `json:"degraded"`
	FeeExceeds bool            `json:"fee_exceeds,omitempty"`
	Policy     FeePolicy       `json:"policy"`
	Similar    []OfferRecord   `json:"similar,omitempty"`
	Ts         time.Time       `json:"ts"`
}

func (q Quote) Pair() Pair {
	return Pair{Give: q.Give.Asset.Code, Receive: q.Receive.Asset.Code}
}

// OfferRecord is a published swap. Records are append-only.
type OfferRecord struct {
	ID            string          `json:"id"`
	UserID        string          `json:"user_id"`
	Seq           int64           `json:"seq"` // 1-based position in the user's history
	GiveAsset     string          `json:"give_asset"`
	GiveAmount    decimal.Decimal `json:"give_amount"`
	ReceiveAsset  string          `json:"receive_asset"`
	ReceiveAmount decimal.Decimal `json:"receive_amount"`
	Fee           decimal.Decimal `json:"fee"`
	Degraded      bool            `json:"degraded,omitempty"`
	Contact       string          `json:"contact"`
	CreatedAt     time.Time       `json:"created_at"`
}

func (r OfferRecord) Pair() Pair {
	return Pair{Give: r.GiveAsset, Receive: r.ReceiveAsset}
}
