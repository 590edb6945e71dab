package collector

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/irino/nfsession/internal/config"
	"github.com/irino/nfsession/internal/query"
)

var apiJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// APIHandler serves the admin endpoints: health, status counters, top
// transfers and Prometheus metrics.
type APIHandler struct {
	collector *Collector
	querier   query.Querier
	log       *log.Logger
}

// NewAdminServer builds the admin HTTP server. The querier may be nil
// when no ClickHouse sink is configured; the transfers endpoint then
// answers 503.
func NewAdminServer(cfg config.AdminConfig, c *Collector, querier query.Querier, logger *log.Logger) *http.Server {
	h := &APIHandler{collector: c, querier: querier, log: logger}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.healthHandler).Methods("GET")
	r.HandleFunc("/api/v1/status", h.statusHandler).Methods("GET")
	r.HandleFunc("/api/v1/connections/top", h.topTransfersHandler).Methods("GET")
	r.Handle("/metrics", promhttp.HandlerFor(c.metrics.Registry, promhttp.HandlerOpts{}))

	return &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: r,
	}
}

func (h *APIHandler) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok\n"))
}

type statusResponse struct {
	Uptime string `json:"uptime"`
	StatusCounts
}

func (h *APIHandler) statusHandler(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, statusResponse{
		Uptime:       h.collector.Uptime().Truncate(time.Second).String(),
		StatusCounts: h.collector.Status(),
	})
}

// topTransfersHandler answers with the busiest address pairs. Query
// parameters: limit (default 10) and window (default 24h).
func (h *APIHandler) topTransfersHandler(w http.ResponseWriter, r *http.Request) {
	if h.querier == nil {
		http.Error(w, "no ClickHouse sink configured", http.StatusServiceUnavailable)
		return
	}

	limit := 10
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			http.Error(w, "limit must be an integer between 1 and 1000", http.StatusBadRequest)
			return
		}
		limit = n
	}

	window := 24 * time.Hour
	if v := r.URL.Query().Get("window"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			http.Error(w, "window must be a positive duration", http.StatusBadRequest)
			return
		}
		window = d
	}

	summaries, err := h.querier.TopTransfers(r.Context(), time.Now().Add(-window), limit)
	if err != nil {
		h.log.WithError(err).Error("top transfers query failed")
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}
	if summaries == nil {
		summaries = []query.TransferSummary{}
	}
	h.writeJSON(w, http.StatusOK, summaries)
}

func (h *APIHandler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := apiJSON.NewEncoder(w).Encode(v); err != nil {
		h.log.WithError(err).Error("failed to encode response")
	}
}
