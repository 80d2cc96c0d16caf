package api

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/punchamoorthee/transferledger/internal/domain"
	"github.com/punchamoorthee/transferledger/internal/idempotency"
	"github.com/punchamoorthee/transferledger/internal/models"
	"github.com/punchamoorthee/transferledger/internal/service"
)

// Metrics
var (
	httpReqTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "endpoint", "status"})

	httpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledger_http_request_duration_seconds",
		Help:    "Request latency",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}, []string{"method", "endpoint"})
)

const maxBodyBytes = 1 << 20

type Handler struct {
	service *service.TransferService
	logger  *zap.Logger
}

func NewHandler(svc *service.TransferService, logger *zap.Logger) *Handler {
	return &Handler{service: svc, logger: logger}
}

func (h *Handler) CreateTransfer(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/transfers"
	timer := prometheus.NewTimer(httpLatency.WithLabelValues("POST", endpoint))
	defer timer.ObserveDuration()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "Stream read error", "POST", endpoint)
		return
	}
	hash := sha256.Sum256(body)
	reqHash := hex.EncodeToString(hash[:])
	r.Body = io.NopCloser(bytes.NewBuffer(body))

	var req models.TransferRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid JSON", "POST", endpoint)
		return
	}

	idemKey := r.Header.Get("Idempotency-Key")
	resp, existing, err := h.service.CreateTransfer(r.Context(), req, idemKey, reqHash)
	if err != nil {
		h.fail(w, r, err, "POST", endpoint)
		return
	}

	// Idempotent replay
	if existing != nil {
		httpReqTotal.WithLabelValues("POST", endpoint, strconv.Itoa(http.StatusOK)).Inc()
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Idempotent-Replayed", "true")
		w.WriteHeader(http.StatusOK)
		w.Write(existing.ResponseBody)
		return
	}

	w.Header().Set("Location", fmt.Sprintf("/api/v1/transfers/%s", resp.TransferID))
	h.respondJSON(w, http.StatusCreated, resp, "POST", endpoint)
}

func (h *Handler) ApproveTransfer(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/transfers/{id}/approve"
	timer := prometheus.NewTimer(httpLatency.WithLabelValues("POST", endpoint))
	defer timer.ObserveDuration()

	var req models.ApprovalRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid JSON", "POST", endpoint)
		return
	}
	req.TransferID = mux.Vars(r)["id"]

	resp, err := h.service.ApproveTransfer(r.Context(), req)
	if err != nil {
		h.fail(w, r, err, "POST", endpoint)
		return
	}
	h.respondJSON(w, http.StatusOK, resp, "POST", endpoint)
}

func (h *Handler) ListTransfers(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/accounts/{email}/transfers"
	timer := prometheus.NewTimer(httpLatency.WithLabelValues("GET", endpoint))
	defer timer.ObserveDuration()

	transfers, err := h.service.ListTransfers(r.Context(), mux.Vars(r)["email"])
	if err != nil {
		h.fail(w, r, err, "GET", endpoint)
		return
	}
	h.respondJSON(w, http.StatusOK, transfers, "GET", endpoint)
}

func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/accounts"
	var req models.CreateAccountRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid JSON", "POST", endpoint)
		return
	}

	acc, err := h.service.CreateAccount(r.Context(), req)
	if err != nil {
		h.fail(w, r, err, "POST", endpoint)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/api/v1/accounts/%s", acc.Email))
	h.respondJSON(w, http.StatusCreated, acc, "POST", endpoint)
}

func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/accounts/{email}"
	acc, err := h.service.GetAccount(r.Context(), mux.Vars(r)["email"])
	if err != nil {
		h.fail(w, r, err, "GET", endpoint)
		return
	}
	h.respondJSON(w, http.StatusOK, acc, "GET", endpoint)
}

func (h *Handler) SetBalance(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/accounts/{email}/balance"
	var req models.SetBalanceRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid JSON", "PUT", endpoint)
		return
	}
	req.Email = mux.Vars(r)["email"]

	if err := h.service.SetBalance(r.Context(), req); err != nil {
		h.fail(w, r, err, "PUT", endpoint)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"message": "Balance updated"}, "PUT", endpoint)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"}, "GET", "/health")
}

// statusFor maps service and ledger errors to HTTP status codes.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrSameAccount),
		errors.Is(err, domain.ErrNegativeBalance),
		errors.Is(err, service.ErrInvalidEmail),
		errors.Is(err, service.ErrMissingBalance),
		errors.Is(err, domain.ErrInsufficientFunds),
		errors.Is(err, idempotency.ErrMismatch):
		return http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, domain.ErrAccountNotFound),
		errors.Is(err, domain.ErrTransferNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, domain.ErrAccountExists),
		errors.Is(err, idempotency.ErrInFlight):
		return http.StatusConflict, err.Error()
	case errors.Is(err, domain.ErrUnavailable):
		return http.StatusServiceUnavailable, "Ledger busy, retry later"
	default:
		return http.StatusInternalServerError, "Internal Server Error"
	}
}

// Helpers
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error, method, endpoint string) {
	code, msg := statusFor(err)
	if code >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("method", method),
			zap.String("endpoint", endpoint),
			zap.Int("status", code),
			zap.Error(err))
	}
	h.respondError(w, code, msg, method, endpoint)
}

func (h *Handler) respondJSON(w http.ResponseWriter, code int, payload interface{}, method, endpoint string) {
	httpReqTotal.WithLabelValues(method, endpoint, strconv.Itoa(code)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(payload)
}

func (h *Handler) respondError(w http.ResponseWriter, code int, msg, method, endpoint string) {
	h.respondJSON(w, code, map[string]string{"error": msg}, method, endpoint)
}
