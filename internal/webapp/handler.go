package webapp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"cookcoin-bot/internal/models"
	"cookcoin-bot/internal/store"
	"cookcoin-bot/internal/utils"
)

type Engine interface {
	Credit(ctx context.Context, telegramID int64, amount int64) (int64, error)
	Balance(ctx context.Context, telegramID int64) int64
}

type Ledger interface {
	Get(ctx context.Context, telegramID int64) (*models.User, error)
	RecordEarning(ctx context.Context, telegramID int64, externalID string, amount int64) error
	DeleteEarning(ctx context.Context, externalID string) error
}

// Handler serves the WebApp earning API.
type Handler struct {
	Engine     Engine
	Ledger     Ledger
	AllowedIPs []string
	log        *zap.Logger
}

func NewHandler(engine Engine, ledger Ledger, allowedIPs []string, log *zap.Logger) *Handler {
	return &Handler{
		Engine:     engine,
		Ledger:     ledger,
		AllowedIPs: allowedIPs,
		log:        log.Named("webapp"),
	}
}

// Router mounts the API together with health and metrics endpoints.
func (h *Handler) Router(gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/earnings", h.HandleEarning)
		r.Get("/users/{id}/balance", h.HandleBalance)
	})
	return r
}

func (h *Handler) HandleEarning(w http.ResponseWriter, r *http.Request) {
	ip := utils.RemoteIP(r)
	if !utils.IsAllowedIP(ip, h.AllowedIPs) {
		h.log.Warn("earning from disallowed address", zap.String("ip", ip))
		writeJSON(w, http.StatusForbidden, errorResponse{Error: "forbidden"})
		return
	}

	var req EarningRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log.Info("failed to decode earning", zap.Error(err))
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "bad request"})
		return
	}
	if req.TelegramID <= 0 || req.Amount <= 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "telegram_id and amount must be positive"})
		return
	}
	if req.EventID == "" {
		req.EventID = uuid.NewString()
	}

	ctx := r.Context()
	user, err := h.Ledger.Get(ctx, req.TelegramID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: "user not found"})
			return
		}
		h.log.Error("failed to load user", zap.Int64("user", req.TelegramID), zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "try again later"})
		return
	}
	// Coins are earned only after the verification gate.
	if !user.Verified {
		h.log.Info("earning from unverified user", zap.Int64("user", req.TelegramID))
		writeJSON(w, http.StatusForbidden, errorResponse{Error: "not verified"})
		return
	}

	if err := h.Ledger.RecordEarning(ctx, req.TelegramID, req.EventID, req.Amount); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			writeJSON(w, http.StatusOK, EarningResponse{Status: "duplicate", EventID: req.EventID})
			return
		}
		h.log.Error("failed to record earning", zap.String("event", req.EventID), zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "try again later"})
		return
	}

	balance, err := h.Engine.Credit(ctx, req.TelegramID, req.Amount)
	if err != nil {
		if delErr := h.Ledger.DeleteEarning(ctx, req.EventID); delErr != nil {
			h.log.Error("failed to release earning", zap.String("event", req.EventID), zap.Error(delErr))
		}
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: "user not found"})
			return
		}
		h.log.Error("failed to credit earning", zap.String("event", req.EventID), zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "try again later"})
		return
	}

	writeJSON(w, http.StatusOK, EarningResponse{Status: "credited", EventID: req.EventID, Balance: balance})
}

func (h *Handler) HandleBalance(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid user id"})
		return
	}
	writeJSON(w, http.StatusOK, BalanceResponse{TelegramID: id, Balance: h.Engine.Balance(r.Context(), id)})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
