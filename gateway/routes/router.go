package routes

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/readone97/Sol-Kart/gateway/middleware"
)

// Scopes and rate limit keys used by the payment routes.
const (
	ScopeCreate = "payments:create"

	RateLimitCreate = "create"
	RateLimitVerify = "verify"
)

// PaymentsAPI is implemented by the payments service.
type PaymentsAPI interface {
	CreatePayment(w http.ResponseWriter, r *http.Request)
	VerifyPayment(w http.ResponseWriter, r *http.Request)
	PaymentQR(w http.ResponseWriter, r *http.Request)
	PaymentEvents(w http.ResponseWriter, r *http.Request)
	Receipt(w http.ResponseWriter, r *http.Request)
	ListReceipts(w http.ResponseWriter, r *http.Request)
}

type Config struct {
	API           PaymentsAPI
	HealthHandler http.Handler
	Authenticator *middleware.Authenticator
	RateLimiter   *middleware.RateLimiter
	Observability *middleware.Observability
	CORS          middleware.CORSConfig
}

func New(cfg Config) (http.Handler, error) {
	if cfg.API == nil {
		return nil, errors.New("payments api required")
	}
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.CORS(cfg.CORS))

	health := cfg.HealthHandler
	if health == nil {
		health = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
	}
	r.Handle("/healthz", health)

	group := func(route, rateKey string, scopes []string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			h := next
			if cfg.Authenticator != nil && scopes != nil {
				h = cfg.Authenticator.Middleware(scopes...)(h)
			}
			if cfg.RateLimiter != nil && rateKey != "" {
				h = cfg.RateLimiter.Middleware(rateKey)(h)
			}
			if cfg.Observability != nil {
				h = cfg.Observability.Middleware(route)(h)
			}
			return h
		}
	}

	r.Route("/api/pay", func(sr chi.Router) {
		sr.With(group("create", RateLimitCreate, []string{ScopeCreate})).Post("/", cfg.API.CreatePayment)
		sr.With(group("verify", RateLimitVerify, nil)).Get("/", cfg.API.VerifyPayment)
		sr.With(group("qr", RateLimitVerify, nil)).Get("/{reference}/qr", cfg.API.PaymentQR)
		sr.With(group("events", RateLimitVerify, nil)).Get("/{reference}/events", cfg.API.PaymentEvents)
	})
	r.Route("/api/receipts", func(sr chi.Router) {
		sr.With(group("receipts", RateLimitVerify, nil)).Get("/", cfg.API.ListReceipts)
		sr.With(group("receipt", RateLimitVerify, nil)).Get("/{reference}", cfg.API.Receipt)
	})

	if cfg.Observability != nil {
		r.Handle("/metrics", cfg.Observability.MetricsHandler())
	}
	return r, nil
}
