package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/you/swap-desk/internal/asset"
	"github.com/you/swap-desk/internal/entitlement"
	"github.com/you/swap-desk/internal/types"
	"go.uber.org/zap"
)

const (
	degradedCaveat = "rate is approximate: a price source was unavailable"
	feeCaveat      = "fee exceeds the converted amount: receive is shown as zero"
)

type quoteRequest struct {
	Give    string `json:"give" validate:"required,max=8"`
	Amount  string `json:"amount" validate:"required,numeric"`
	Receive string `json:"receive" validate:"required,max=8"`
}

type offerRequest struct {
	quoteRequest
	UserID  string `json:"user_id" validate:"required,max=64"`
	Contact string `json:"contact" validate:"required,max=128"`
}

type grantRequest struct {
	Kind string `json:"kind" validate:"required,oneof=main p2p"`
	Days int    `json:"days" validate:"required,gt=0"`
}

type quoteResponse struct {
	types.Quote
	Caveat string `json:"caveat,omitempty"`
}

type rateResponse struct {
	From     string          `json:"from"`
	To       string          `json:"to"`
	Rate     decimal.Decimal `json:"rate"`
	Degraded bool            `json:"degraded"`
	Caveat   string          `json:"caveat,omitempty"`
}

type offerResponse struct {
	Offer types.OfferRecord `json:"offer"`
	Quote quoteResponse     `json:"quote"`
}

type planPrice struct {
	entitlement.Plan
	ID       string          `json:"id"`
	Price    decimal.Decimal `json:"price"`
	Currency string          `json:"currency"`
	Degraded bool            `json:"degraded,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func caveat(degraded bool) string {
	if degraded {
		return degradedCaveat
	}
	return ""
}

func quoteCaveat(q types.Quote) string {
	if q.FeeExceeds {
		return feeCaveat
	}
	return caveat(q.Degraded)
}

func (s *Server) getRate(w http.ResponseWriter, r *http.Request) {
	from, to := r.URL.Query().Get("from"), r.URL.Query().Get("to")
	rt, err := s.quotes.Rate(r.Context(), from, to)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	degraded := rt.Degraded || rt.Unavailable()
	writeJSON(w, http.StatusOK, rateResponse{
		From:     strings.ToUpper(strings.TrimSpace(from)),
		To:       strings.ToUpper(strings.TrimSpace(to)),
		Rate:     rt.Value,
		Degraded: degraded,
		Caveat:   caveat(degraded),
	})
}

func (s *Server) postQuote(w http.ResponseWriter, r *http.Request) {
	var req quoteRequest
	if !s.decode(w, r, &req) {
		return
	}
	q, err := s.quote(r, req)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, quoteResponse{Quote: q, Caveat: quoteCaveat(q)})
}

func (s *Server) quote(r *http.Request, req quoteRequest) (types.Quote, error) {
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		return types.Quote{}, fmt.Errorf("%w: %q is not a number", types.ErrInvalidAmount, req.Amount)
	}
	return s.quotes.BuildQuote(r.Context(), req.Give, amount, req.Receive)
}

func (s *Server) postOffer(w http.ResponseWriter, r *http.Request) {
	var req offerRequest
	if !s.decode(w, r, &req) {
		return
	}
	q, err := s.quote(r, req.quoteRequest)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	rec, err := s.quotes.PublishOffer(r.Context(), req.UserID, req.Contact, q)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, offerResponse{
		Offer: rec,
		Quote: quoteResponse{Quote: q, Caveat: quoteCaveat(q)},
	})
}

func (s *Server) getSimilar(w http.ResponseWriter, r *http.Request) {
	recs, err := s.quotes.FindSimilar(r.Context(), r.URL.Query().Get("give"), r.URL.Query().Get("receive"))
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(recs))
}

func (s *Server) getUserOffers(w http.ResponseWriter, r *http.Request) {
	recs, err := s.quotes.UserOffers(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(recs))
}

func (s *Server) getEntitlement(w http.ResponseWriter, r *http.Request) {
	st, err := s.ent.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) postTrial(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	granted, err := s.ent.StartTrial(r.Context(), id)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	st, err := s.ent.Status(r.Context(), id)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"granted": granted, "status": st})
}

// postGrant activates a plan once its payment was confirmed out of band.
func (s *Server) postGrant(w http.ResponseWriter, r *http.Request) {
	var req grantRequest
	if !s.decode(w, r, &req) {
		return
	}
	p, ok := entitlement.FindPlan(entitlement.Kind(req.Kind), req.Days)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("no %s plan for %d days", req.Kind, req.Days)})
		return
	}
	st, err := s.ent.Grant(r.Context(), chi.URLParam(r, "id"), p)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// getPayment returns how to pay for ?plan= in ?asset= (STARS by default).
func (s *Server) getPayment(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	p, ok := entitlement.PlanByID(q.Get("plan"))
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("unknown plan %q", q.Get("plan"))})
		return
	}
	code := q.Get("asset")
	if code == "" {
		code = asset.STARS
	}
	pay, err := s.ent.Payment(r.Context(), s.rates, chi.URLParam(r, "id"), p, code)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pay)
}

func (s *Server) getPlans(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("fiat")
	if code == "" {
		code = asset.RUB
	}
	a, err := asset.Lookup(code)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	if a.Class != types.Fiat {
		s.writeErr(w, fmt.Errorf("%w: %s is not a fiat currency", types.ErrUnknownAsset, a.Code))
		return
	}
	plans := entitlement.Plans()
	out := make([]planPrice, 0, len(plans))
	for _, p := range plans {
		price, degraded, err := entitlement.PriceIn(r.Context(), s.rates, p, a.Code)
		if err != nil {
			s.writeErr(w, err)
			return
		}
		out = append(out, planPrice{Plan: p, ID: p.ID(), Price: price, Currency: a.Code, Degraded: degraded})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed JSON body"})
		return false
	}
	if err := s.validate.Struct(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: validationMessage(err)})
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s: %s", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return "invalid request: " + strings.Join(parts, ", ")
}

func (s *Server) writeErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, types.ErrUnknownAsset), errors.Is(err, types.ErrInvalidAmount):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, types.ErrNotEntitled):
		writeJSON(w, http.StatusPaymentRequired, errorResponse{Error: "no subscription or free offers left"})
	case errors.Is(err, types.ErrStorageUnavailable):
		s.log.Error("storage unavailable", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "temporarily unavailable, try again later"})
	default:
		s.log.Error("request failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func nonNil(recs []types.OfferRecord) []types.OfferRecord {
	if recs == nil {
		return []types.OfferRecord{}
	}
	return recs
}
