package api

import (
	"net/http"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

// NewRouter wires the handler's routes plus /health and /metrics. Browser
// clients from allowedOrigins ("*" for any) may call every route.
func NewRouter(h *Handler, logger *zap.Logger, allowedOrigins []string) http.Handler {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)

	apiV1 := r.PathPrefix("/api/v1").Subrouter()
	apiV1.HandleFunc("/accounts", h.CreateAccount).Methods(http.MethodPost)
	apiV1.HandleFunc("/accounts/{email}", h.GetAccount).Methods(http.MethodGet)
	apiV1.HandleFunc("/accounts/{email}/balance", h.SetBalance).Methods(http.MethodPut)
	apiV1.HandleFunc("/accounts/{email}/transfers", h.ListTransfers).Methods(http.MethodGet)
	apiV1.HandleFunc("/transfers", h.CreateTransfer).Methods(http.MethodPost)
	apiV1.HandleFunc("/transfers/{id}/approve", h.ApproveTransfer).Methods(http.MethodPost)

	r.Use(accessLog(logger))

	// Preflights never reach a route, so CORS wraps the whole router.
	cors := handlers.CORS(
		handlers.AllowedOrigins(allowedOrigins),
		handlers.AllowedMethods([]string{
			http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions,
		}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization", "Idempotency-Key"}),
		handlers.ExposedHeaders([]string{"Location", "Idempotent-Replayed"}),
		handlers.OptionStatusCode(http.StatusNoContent),
	)
	return otelhttp.NewHandler(cors(r), "transferledger")
}

func accessLog(logger *zap.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m := httpsnoop.CaptureMetrics(next, w, r)
			logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", m.Code),
				zap.Duration("duration", m.Duration),
				zap.Int64("bytes", m.Written))
		})
	}
}
