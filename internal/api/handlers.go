package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/trogers1052/market-data-etl/internal/database"
	"github.com/trogers1052/market-data-etl/internal/models"
)

const (
	defaultRunLimit = 20
	maxRunLimit     = 500
	defaultLookback = 30 * 24 * time.Hour
)

// Store is the read side of the warehouse served by the API
type Store interface {
	Ping(ctx context.Context) error
	GetSecurities(ctx context.Context) ([]string, error)
	GetRun(ctx context.Context, runID string) (*models.RunAudit, error)
	ListRuns(ctx context.Context, limit int) ([]*models.RunAudit, error)
	GetPricesRange(ctx context.Context, symbol string, start, end time.Time) ([]*models.PriceDaily, error)
	GetReturns(ctx context.Context, symbol string, start, end time.Time) ([]models.ReturnRow, error)
	GetVolatility(ctx context.Context, symbol string, start, end time.Time) ([]models.VolatilityRow, error)
}

// RunRequester queues pipeline runs for a listener to execute
type RunRequester interface {
	PublishRunRequested(ctx context.Context, req *models.RunRequest) error
}

// Handler holds dependencies for HTTP handlers
type Handler struct {
	store     Store
	requester RunRequester
	logger    *zap.Logger
	now       func() time.Time
}

// NewHandler creates a new Handler. requester may be nil, which disables run requests.
func NewHandler(store Store, requester RunRequester, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		store:     store,
		requester: requester,
		logger:    logger.Named("api"),
		now:       time.Now,
	}
}

// HealthCheck handles GET /health
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// GetSecurities handles GET /securities
func (h *Handler) GetSecurities(w http.ResponseWriter, r *http.Request) {
	symbols, err := h.store.GetSecurities(r.Context())
	if err != nil {
		h.serverError(w, err)
		return
	}
	if symbols == nil {
		symbols = []string{}
	}
	respondJSON(w, http.StatusOK, symbols)
}

// ListRuns handles GET /runs?limit=N
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxRunLimit {
			http.Error(w, fmt.Sprintf("limit must be between 1 and %d", maxRunLimit), http.StatusBadRequest)
			return
		}
		limit = n
	}

	runs, err := h.store.ListRuns(r.Context(), limit)
	if err != nil {
		h.serverError(w, err)
		return
	}
	if runs == nil {
		runs = []*models.RunAudit{}
	}
	respondJSON(w, http.StatusOK, runs)
}

// GetRun handles GET /runs/{run_id}
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["run_id"]

	run, err := h.store.GetRun(r.Context(), runID)
	if errors.Is(err, database.ErrNotFound) {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.serverError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, run)
}

// RequestRun handles POST /runs
func (h *Handler) RequestRun(w http.ResponseWriter, r *http.Request) {
	if h.requester == nil {
		http.Error(w, "run requests are disabled", http.StatusServiceUnavailable)
		return
	}

	var req models.RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := validateRunRequest(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.requester.PublishRunRequested(r.Context(), &req); err != nil {
		h.serverError(w, err)
		return
	}

	respondJSON(w, http.StatusAccepted, req)
}

// GetPrices handles GET /prices/{symbol}?start=&end=
func (h *Handler) GetPrices(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	start, end, ok := h.dateRange(w, r)
	if !ok {
		return
	}

	prices, err := h.store.GetPricesRange(r.Context(), symbol, start, end)
	if err != nil {
		h.serverError(w, err)
		return
	}
	if prices == nil {
		prices = []*models.PriceDaily{}
	}
	respondJSON(w, http.StatusOK, prices)
}

// GetReturns handles GET /returns/{symbol}?start=&end=
func (h *Handler) GetReturns(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	start, end, ok := h.dateRange(w, r)
	if !ok {
		return
	}

	returns, err := h.store.GetReturns(r.Context(), symbol, start, end)
	if err != nil {
		h.serverError(w, err)
		return
	}
	if returns == nil {
		returns = []models.ReturnRow{}
	}
	respondJSON(w, http.StatusOK, returns)
}

// GetVolatility handles GET /volatility/{symbol}?start=&end=
func (h *Handler) GetVolatility(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	start, end, ok := h.dateRange(w, r)
	if !ok {
		return
	}

	vol, err := h.store.GetVolatility(r.Context(), symbol, start, end)
	if err != nil {
		h.serverError(w, err)
		return
	}
	if vol == nil {
		vol = []models.VolatilityRow{}
	}
	respondJSON(w, http.StatusOK, vol)
}

// dateRange reads start and end query parameters. end defaults to today and
// start to 30 days before end. It writes a 400 response and returns false on bad input.
func (h *Handler) dateRange(w http.ResponseWriter, r *http.Request) (time.Time, time.Time, bool) {
	q := r.URL.Query()

	end := models.TruncateDate(h.now().UTC())
	if v := q.Get("end"); v != "" {
		d, err := time.Parse(models.DateLayout, v)
		if err != nil {
			http.Error(w, "end must be YYYY-MM-DD", http.StatusBadRequest)
			return time.Time{}, time.Time{}, false
		}
		end = d
	}

	start := models.TruncateDate(end.Add(-defaultLookback))
	if v := q.Get("start"); v != "" {
		d, err := time.Parse(models.DateLayout, v)
		if err != nil {
			http.Error(w, "start must be YYYY-MM-DD", http.StatusBadRequest)
			return time.Time{}, time.Time{}, false
		}
		start = d
	}

	if end.Before(start) {
		http.Error(w, "end is before start", http.StatusBadRequest)
		return time.Time{}, time.Time{}, false
	}
	return start, end, true
}

func (h *Handler) serverError(w http.ResponseWriter, err error) {
	h.logger.Error("request failed", zap.Error(err))
	http.Error(w, "internal server error", http.StatusInternalServerError)
}

func validateRunRequest(req models.RunRequest) error {
	if req.Date != "" {
		if _, err := time.Parse(models.DateLayout, req.Date); err != nil {
			return errors.New("date must be YYYY-MM-DD")
		}
		return nil
	}
	if req.Start == "" || req.End == "" {
		return errors.New("date or start and end required")
	}
	start, err := time.Parse(models.DateLayout, req.Start)
	if err != nil {
		return errors.New("start must be YYYY-MM-DD")
	}
	end, err := time.Parse(models.DateLayout, req.End)
	if err != nil {
		return errors.New("end must be YYYY-MM-DD")
	}
	if end.Before(start) {
		return errors.New("end is before start")
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
