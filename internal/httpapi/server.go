// Package httpapi is the JSON surface the bot front-end talks to.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/you/swap-desk/internal/entitlement"
	"github.com/you/swap-desk/internal/rates"
	"github.com/you/swap-desk/internal/types"
	"go.uber.org/zap"
)

// Quoter is the part of quote.Service the API needs.
type Quoter interface {
	BuildQuote(ctx context.Context, give string, amount decimal.Decimal, receive string) (types.Quote, error)
	PublishOffer(ctx context.Context, userID, contact string, q types.Quote) (types.OfferRecord, error)
	FindSimilar(ctx context.Context, give, receive string) ([]types.OfferRecord, error)
	UserOffers(ctx context.Context, userID string) ([]types.OfferRecord, error)
	Rate(ctx context.Context, from, to string) (rates.Rate, error)
}

type Server struct {
	quotes   Quoter
	ent      entitlement.Checker
	rates    entitlement.RateResolver
	log      *zap.Logger
	validate *validator.Validate
	router   http.Handler
}

func New(q Quoter, ent entitlement.Checker, r entitlement.RateResolver, log *zap.Logger) *Server {
	s := &Server{
		quotes:   q,
		ent:      ent,
		rates:    r,
		log:      log,
		validate: validator.New(),
	}
	s.router = s.buildRouter()
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(s.accessLog)
	r.Use(withCORS)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(indexHTML))
	})

	r.Route("/api", func(api chi.Router) {
		api.Get("/rates", s.getRate)
		api.Post("/quotes", s.postQuote)
		api.Post("/offers", s.postOffer)
		api.Get("/offers/similar", s.getSimilar)
		api.Get("/plans", s.getPlans)
		api.Route("/users/{id}", func(u chi.Router) {
			u.Get("/offers", s.getUserOffers)
			u.Get("/entitlement", s.getEntitlement)
			u.Post("/trial", s.postTrial)
			u.Post("/grants", s.postGrant)
			u.Get("/payment", s.getPayment)
		})
	})
	return r
}

// Serve runs the API until ctx is done.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 3 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.log.Info("api listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("took", time.Since(start)),
			zap.String("request_id", chimw.GetReqID(r.Context())),
		)
	})
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

const indexHTML = `<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8"/>
  <meta name="viewport" content="width=device-width, initial-scale=1"/>
  <title>Swap Desk</title>
  <style>
    body{margin:0;background:#f8fafc;font:14px/1.4 ui-sans-serif,system-ui,-apple-system,Segoe UI,Roboto,Ubuntu;color:#111827;}
    .wrap{max-width:720px;margin:24px auto;padding:0 16px;}
    table{width:100%;border-collapse:collapse;background:#fff;border-radius:16px;overflow:hidden;box-shadow:0 10px 30px rgba(0,0,0,.06);}
    thead{background:#f3f4f6;} th,td{padding:12px 14px;text-align:left;} tbody tr{border-top:1px solid #f3f4f6;}
    .dim{color:#9ca3af;}
  </style>
</head>
<body>
<div class="wrap">
  <h1 style="font-size:22px;font-weight:600">Swap Desk rates</h1>
  <table>
    <thead><tr><th>Pair</th><th>Rate</th><th></th></tr></thead>
    <tbody id="rows"></tbody>
  </table>
</div>
<script>
  var pairs = [['USD','RUB'],['RUB','USDT'],['BTC','USD'],['TON','RUB'],['STARS','RUB']];
  async function tick(){
    var html = '';
    for (var i = 0; i < pairs.length; i++) {
      var p = pairs[i];
      try {
        var res = await fetch('/api/rates?from='+p[0]+'&to='+p[1], {cache:'no-store'});
        var r = await res.json();
        html += '<tr><td><strong>'+p[0]+' → '+p[1]+'</strong></td><td>'+r.rate+'</td><td class="dim">'+(r.degraded?'approximate':'')+'</td></tr>';
      } catch (e) {
        html += '<tr><td>'+p[0]+' → '+p[1]+'</td><td class="dim">—</td><td></td></tr>';
      }
    }
    document.getElementById('rows').innerHTML = html;
  }
  tick(); setInterval(tick, 30000);
</script>
</body>
</html>`
