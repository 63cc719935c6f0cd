package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"lukechampine.com/blake3"
	"nhooyr.io/websocket"

	"github.com/readone97/Sol-Kart/config"
	"github.com/readone97/Sol-Kart/gateway/routes"
	"github.com/readone97/Sol-Kart/native/payrequest"
	"github.com/readone97/Sol-Kart/observability"
)

const (
	maxRequestBody       = 1 << 20
	headerIdempotencyKey = "Idempotency-Key"
	maxOrderNumber       = 999999
	wsWriteTimeout       = 10 * time.Second
	defaultPollInterval  = 2 * time.Second
	minQRSize            = 128
	maxQRSize            = 1024
)

const (
	errMsgCreateFailed     = "Failed to generate payment"
	errMsgVerifyFailed     = "Failed to verify payment"
	errMsgMissingReference = "Missing reference parameter"
	errMsgInvalidReference = "Invalid reference parameter"
)

// ReceiptHistory is the read side of the receipt ledger.
type ReceiptHistory interface {
	Get(ctx context.Context, ref payrequest.Reference) (*payrequest.Receipt, error)
	Recent(ctx context.Context, since time.Time) ([]payrequest.Receipt, error)
}

// Server exposes the payment request lifecycle over HTTP.
type Server struct {
	registry       *payrequest.Registry
	verifier       *payrequest.Verifier
	merchant       *config.Merchant
	store          *SQLiteStore
	receipts       ReceiptHistory
	metrics        *observability.PaymentsMetrics
	logger         *slog.Logger
	pollInterval   time.Duration
	originPatterns []string
	nowFn          func() time.Time
	orderFn        func() int
}

var _ routes.PaymentsAPI = (*Server)(nil)

// ServerOption customises a Server.
type ServerOption func(*Server)

// WithAuditStore enables the audit log and Idempotency-Key replay.
func WithAuditStore(store *SQLiteStore) ServerOption {
	return func(s *Server) { s.store = store }
}

// WithReceiptHistory serves settled receipts.
func WithReceiptHistory(r ReceiptHistory) ServerOption {
	return func(s *Server) { s.receipts = r }
}

func WithMetrics(m *observability.PaymentsMetrics) ServerOption {
	return func(s *Server) { s.metrics = m }
}

func WithServerLogger(l *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = l }
}

// WithEvents configures the websocket status stream.
func WithEvents(pollInterval time.Duration, originPatterns []string) ServerOption {
	return func(s *Server) {
		s.pollInterval = pollInterval
		s.originPatterns = originPatterns
	}
}

// CreatePaymentRequest is the optional body accepted by POST /api/pay. Empty
// fields fall back to the merchant profile.
type CreatePaymentRequest struct {
	Amount   *decimal.Decimal `json:"amount,omitempty"`
	Label    string           `json:"label,omitempty"`
	Message  string           `json:"message,omitempty"`
	Memo     string           `json:"memo,omitempty"`
	SPLToken string           `json:"splToken,omitempty"`
}

// CreatePaymentResponse is returned by POST /api/pay.
type CreatePaymentResponse struct {
	URL string `json:"url"`
	Ref string `json:"ref"`
}

// VerifyPaymentResponse is returned by GET /api/pay.
type VerifyPaymentResponse struct {
	Status string `json:"status"`
}

// PaymentEvent is pushed on the events websocket.
type PaymentEvent struct {
	Reference string `json:"reference"`
	Status    string `json:"status"`
}

// NewServer constructs a payments gateway server.
func NewServer(registry *payrequest.Registry, verifier *payrequest.Verifier, merchant *config.Merchant, opts ...ServerOption) *Server {
	if registry == nil {
		panic("registry required")
	}
	if verifier == nil {
		panic("verifier required")
	}
	if merchant == nil {
		panic("merchant profile required")
	}
	s := &Server{
		registry:     registry,
		verifier:     verifier,
		merchant:     merchant,
		pollInterval: defaultPollInterval,
		nowFn:        time.Now,
		orderFn:      func() int { return rand.Intn(maxOrderNumber) + 1 },
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.metrics == nil {
		s.metrics = observability.Payments()
	}
	if s.pollInterval <= 0 {
		s.pollInterval = defaultPollInterval
	}
	return s
}

func (s *Server) CreatePayment(w http.ResponseWriter, r *http.Request) {
	body, err := s.readBody(w, r)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err, body, nil)
		return
	}
	key := strings.TrimSpace(r.Header.Get(headerIdempotencyKey))
	var requestHash string
	if key != "" && s.store != nil {
		requestHash = hashRequest(r.Method, canonicalRequestPath(r), body)
		if cached, err := s.store.LookupIdempotency(r.Context(), key, requestHash); err != nil {
			if errors.Is(err, ErrIdempotencyConflict) {
				s.writeError(w, r, http.StatusConflict, err, body, nil)
				return
			}
			s.logger.Error("create: idempotency lookup failed", slog.Any("error", err))
			s.writeError(w, r, http.StatusInternalServerError, errors.New(errMsgCreateFailed), body, nil)
			return
		} else if cached != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(cached.Status)
			_, _ = w.Write(cached.Body)
			s.audit(r.Context(), r, body, cached.Body, cached.Status)
			return
		}
	}

	req, err := s.createRequest(body)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err, body, nil)
		return
	}
	intent, err := s.registry.Create(r.Context(), req)
	if err != nil {
		if isValidationError(err) {
			s.writeError(w, r, http.StatusBadRequest, err, body, nil)
			return
		}
		s.logger.Error("create: register intent failed", slog.Any("error", err))
		s.writeError(w, r, http.StatusInternalServerError, errors.New(errMsgCreateFailed), body, nil)
		return
	}

	u := payrequest.EncodeURL(payrequest.IntentRequest(intent))
	respBody, err := json.Marshal(CreatePaymentResponse{URL: u.String(), Ref: intent.Reference.String()})
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, errors.New(errMsgCreateFailed), body, nil)
		return
	}
	if key != "" && s.store != nil {
		if err := s.store.SaveIdempotency(r.Context(), key, requestHash, http.StatusOK, respBody, s.nowFn()); err != nil {
			s.logger.Error("create: save idempotency key failed", slog.Any("error", err))
			_ = s.registry.Delete(r.Context(), intent.Reference)
			s.writeError(w, r, http.StatusInternalServerError, errors.New(errMsgCreateFailed), body, nil)
			return
		}
	}
	s.metrics.RecordCreated(s.assetLabel(intent.SPLToken))
	s.logger.Info("create: payment request registered",
		slog.String("reference", intent.Reference.String()),
		slog.String("amount", intent.Amount.String()))
	s.writeJSONBytes(w, r, http.StatusOK, respBody, body)
}

// createRequest merges the optional body with the merchant profile.
func (s *Server) createRequest(body []byte) (payrequest.CreateRequest, error) {
	var in CreatePaymentRequest
	if len(strings.TrimSpace(string(body))) > 0 {
		if err := json.Unmarshal(body, &in); err != nil {
			return payrequest.CreateRequest{}, fmt.Errorf("invalid JSON payload: %w", err)
		}
	}
	amount, err := s.merchant.Amount()
	if err != nil {
		return payrequest.CreateRequest{}, err
	}
	if in.Amount != nil {
		amount = *in.Amount
	}
	token := in.SPLToken
	if token == "" {
		token = s.merchant.SPLToken
	}
	mint, err := s.merchant.Mint(token)
	if err != nil {
		return payrequest.CreateRequest{}, err
	}
	return payrequest.CreateRequest{
		Recipient: s.merchant.Recipient,
		Amount:    amount,
		SPLToken:  mint,
		Label:     firstNonEmpty(in.Label, s.merchant.Label),
		Message:   firstNonEmpty(in.Message, s.merchant.OrderMessage(s.orderFn())),
		Memo:      firstNonEmpty(in.Memo, s.merchant.Memo),
	}, nil
}

func isValidationError(err error) bool {
	return errors.Is(err, payrequest.ErrInvalidAmount) ||
		errors.Is(err, payrequest.ErrInvalidRecipient)
}

func (s *Server) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimSpace(r.URL.Query().Get("reference"))
	if raw == "" {
		s.writeError(w, r, http.StatusBadRequest, errors.New(errMsgMissingReference), nil, nil)
		return
	}
	ref, err := payrequest.ParseReference(raw)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, errors.New(errMsgInvalidReference), nil, nil)
		return
	}
	out := s.verify(r.Context(), ref)
	switch out.Status {
	case payrequest.StatusVerified:
		s.writeJSON(w, r, http.StatusOK, VerifyPaymentResponse{Status: payrequest.StatusVerified.String()}, nil)
	case payrequest.StatusNotFound, payrequest.StatusPending, payrequest.StatusMismatch:
		s.writeJSON(w, r, http.StatusOK, VerifyPaymentResponse{Status: payrequest.StatusNotFound.String()}, nil)
	default:
		s.writeError(w, r, http.StatusInternalServerError, errors.New(errMsgVerifyFailed), nil, nil)
	}
}

// verify runs one verification and records its metrics.
func (s *Server) verify(ctx context.Context, ref payrequest.Reference) payrequest.Outcome {
	start := s.nowFn()
	out := s.verifier.Verify(ctx, ref)
	s.metrics.RecordVerification(out.Status.String(), s.nowFn().Sub(start))
	if out.Status == payrequest.StatusVerified {
		s.metrics.RecordSettled(s.assetLabel(out.SPLToken))
	}
	return out
}

func (s *Server) PaymentQR(w http.ResponseWriter, r *http.Request) {
	ref, err := payrequest.ParseReference(chi.URLParam(r, "reference"))
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, errors.New(errMsgInvalidReference), nil, nil)
		return
	}
	size := payrequest.DefaultQRSize
	if raw := strings.TrimSpace(r.URL.Query().Get("size")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < minQRSize || n > maxQRSize {
			s.writeError(w, r, http.StatusBadRequest, fmt.Errorf("size must be between %d and %d", minQRSize, maxQRSize), nil, nil)
			return
		}
		size = n
	}
	intent, err := s.registry.Lookup(r.Context(), ref)
	if errors.Is(err, payrequest.ErrNotFound) {
		s.writeError(w, r, http.StatusNotFound, errors.New("payment request not found"), nil, nil)
		return
	}
	if err != nil {
		s.logger.Error("qr: lookup failed", slog.String("reference", ref.String()), slog.Any("error", err))
		s.writeError(w, r, http.StatusInternalServerError, errors.New("failed to render payment qr"), nil, nil)
		return
	}
	png, err := payrequest.RenderQR(payrequest.EncodeURL(payrequest.IntentRequest(intent)), size)
	if err != nil {
		s.logger.Error("qr: render failed", slog.String("reference", ref.String()), slog.Any("error", err))
		s.writeError(w, r, http.StatusInternalServerError, errors.New("failed to render payment qr"), nil, nil)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
	s.audit(r.Context(), r, nil, nil, http.StatusOK)
}

// PaymentEvents streams verification results until the payment settles or the
// intent is gone.
func (s *Server) PaymentEvents(w http.ResponseWriter, r *http.Request) {
	ref, err := payrequest.ParseReference(chi.URLParam(r, "reference"))
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, errors.New(errMsgInvalidReference), nil, nil)
		return
	}
	origins := s.originPatterns
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: origins})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")
	if err := s.streamPaymentEvents(conn.CloseRead(r.Context()), conn, ref); err != nil {
		if status := websocket.CloseStatus(err); status == -1 && !errors.Is(err, context.Canceled) {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (s *Server) streamPaymentEvents(ctx context.Context, conn *websocket.Conn, ref payrequest.Reference) error {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	for {
		out := s.verify(ctx, ref)
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := writePaymentEvent(ctx, conn, PaymentEvent{Reference: ref.String(), Status: out.Status.String()}); err != nil {
			return err
		}
		if out.Status == payrequest.StatusVerified || out.Status == payrequest.StatusNotFound {
			return conn.Close(websocket.StatusNormalClosure, out.Status.String())
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func writePaymentEvent(ctx context.Context, conn *websocket.Conn, event PaymentEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}

func (s *Server) Receipt(w http.ResponseWriter, r *http.Request) {
	ref, err := payrequest.ParseReference(chi.URLParam(r, "reference"))
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, errors.New(errMsgInvalidReference), nil, nil)
		return
	}
	if s.receipts == nil {
		s.writeError(w, r, http.StatusNotFound, errors.New("receipt not found"), nil, nil)
		return
	}
	receipt, err := s.receipts.Get(r.Context(), ref)
	if errors.Is(err, payrequest.ErrNotFound) {
		s.writeError(w, r, http.StatusNotFound, errors.New("receipt not found"), nil, nil)
		return
	}
	if err != nil {
		s.logger.Error("receipt: lookup failed", slog.String("reference", ref.String()), slog.Any("error", err))
		s.writeError(w, r, http.StatusInternalServerError, errors.New("failed to load receipt"), nil, nil)
		return
	}
	s.writeJSON(w, r, http.StatusOK, receipt, nil)
}

// ListReceipts returns receipts settled at or after ?since= (RFC 3339),
// defaulting to the last 24 hours.
func (s *Server) ListReceipts(w http.ResponseWriter, r *http.Request) {
	since := s.nowFn().Add(-24 * time.Hour)
	if raw := strings.TrimSpace(r.URL.Query().Get("since")); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			s.writeError(w, r, http.StatusBadRequest, errors.New("since must be an RFC 3339 timestamp"), nil, nil)
			return
		}
		since = parsed
	}
	receipts := []payrequest.Receipt{}
	if s.receipts != nil {
		recent, err := s.receipts.Recent(r.Context(), since)
		if err != nil {
			s.logger.Error("receipts: list failed", slog.Any("error", err))
			s.writeError(w, r, http.StatusInternalServerError, errors.New("failed to list receipts"), nil, nil)
			return
		}
		if recent != nil {
			receipts = recent
		}
	}
	s.writeJSON(w, r, http.StatusOK, map[string]interface{}{"receipts": receipts}, nil)
}

// assetLabel maps a mint to its profile symbol so metric labels stay bounded.
func (s *Server) assetLabel(mint string) string {
	if mint == "" {
		return "SOL"
	}
	for symbol, candidate := range s.merchant.Tokens {
		if candidate == mint {
			return strings.ToUpper(symbol)
		}
	}
	return "SPL"
}

func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBody)
	defer func() {
		_ = r.Body.Close()
	}()
	return io.ReadAll(reader)
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, payload interface{}, reqBody []byte) {
	body, err := json.Marshal(payload)
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, err, reqBody, nil)
		return
	}
	s.writeJSONBytes(w, r, status, body, reqBody)
}

func (s *Server) writeJSONBytes(w http.ResponseWriter, r *http.Request, status int, body []byte, reqBody []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
	s.audit(r.Context(), r, reqBody, body, status)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, err error, reqBody []byte, extra map[string]interface{}) {
	if status <= 0 {
		status = http.StatusInternalServerError
	}
	payload := map[string]interface{}{"error": err.Error()}
	for k, v := range extra {
		payload[k] = v
	}
	body, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
	s.audit(r.Context(), r, reqBody, body, status)
}

func (s *Server) audit(ctx context.Context, r *http.Request, requestBody, responseBody []byte, status int) {
	if s.store == nil {
		return
	}
	entry := AuditEntry{
		Method:         r.Method,
		Path:           canonicalRequestPath(r),
		RequestBody:    requestBody,
		ResponseStatus: status,
		ResponseBody:   responseBody,
		Timestamp:      s.nowFn().UTC(),
	}
	if err := s.store.InsertAudit(ctx, entry); err != nil {
		s.logger.Warn("audit: insert failed", slog.String("path", entry.Path), slog.Any("error", err))
	}
}

func canonicalRequestPath(r *http.Request) string {
	path := r.URL.Path
	if path == "" {
		path = "/"
	}
	if r.URL.RawQuery != "" {
		parts := strings.Split(r.URL.RawQuery, "&")
		sort.Strings(parts)
		path += "?" + strings.Join(parts, "&")
	}
	return path
}

func hashRequest(method, path string, body []byte) string {
	payload := strings.Join([]string{strings.ToUpper(method), path, string(body)}, "\n")
	sum := blake3.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
