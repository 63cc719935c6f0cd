package routes

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/readone97/Sol-Kart/gateway/middleware"
)

type stubAPI struct {
	calls []string
}

func (s *stubAPI) record(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		call := name
		if ref := chi.URLParam(r, "reference"); ref != "" {
			call += ":" + ref
		}
		s.calls = append(s.calls, call)
		w.WriteHeader(http.StatusOK)
	}
}

func (s *stubAPI) CreatePayment(w http.ResponseWriter, r *http.Request) { s.record("create")(w, r) }
func (s *stubAPI) VerifyPayment(w http.ResponseWriter, r *http.Request) { s.record("verify")(w, r) }
func (s *stubAPI) PaymentQR(w http.ResponseWriter, r *http.Request)     { s.record("qr")(w, r) }
func (s *stubAPI) PaymentEvents(w http.ResponseWriter, r *http.Request) { s.record("events")(w, r) }
func (s *stubAPI) Receipt(w http.ResponseWriter, r *http.Request)       { s.record("receipt")(w, r) }
func (s *stubAPI) ListReceipts(w http.ResponseWriter, r *http.Request)  { s.record("receipts")(w, r) }

func TestRouterDispatch(t *testing.T) {
	api := &stubAPI{}
	handler, err := New(Config{API: api})
	if err != nil {
		t.Fatalf("new router: %v", err)
	}
	requests := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/api/pay"},
		{http.MethodGet, "/api/pay?reference=abc"},
		{http.MethodGet, "/api/pay/abc/qr"},
		{http.MethodGet, "/api/pay/abc/events"},
		{http.MethodGet, "/api/receipts/abc"},
		{http.MethodGet, "/api/receipts?since=2024-05-01T00:00:00Z"},
	}
	for _, req := range requests {
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, httptest.NewRequest(req.method, req.path, nil))
		if res.Code != http.StatusOK {
			t.Fatalf("%s %s: expected 200, got %d", req.method, req.path, res.Code)
		}
	}
	want := []string{"create", "verify", "qr:abc", "events:abc", "receipt:abc", "receipts"}
	if len(api.calls) != len(want) {
		t.Fatalf("unexpected calls %v", api.calls)
	}
	for i := range want {
		if api.calls[i] != want[i] {
			t.Fatalf("call %d: expected %s, got %s", i, want[i], api.calls[i])
		}
	}
}

func TestRouterProtectsCreateOnly(t *testing.T) {
	api := &stubAPI{}
	auth := middleware.NewAuthenticator(middleware.AuthConfig{Enabled: true, HMACSecret: "secret"}, nil)
	handler, err := New(Config{API: api, Authenticator: auth})
	if err != nil {
		t.Fatalf("new router: %v", err)
	}

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodPost, "/api/pay", nil))
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected create to require auth, got %d", res.Code)
	}

	res = httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/api/pay?reference=abc", nil))
	if res.Code != http.StatusOK {
		t.Fatalf("expected verify to stay public, got %d", res.Code)
	}
}

func TestRouterRequiresAPI(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected error without api")
	}
}
