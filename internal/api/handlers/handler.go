// Пакет handlers — HTTP-обработчики агента edusync.
// Агент — headless-поверхность ядра синхронизации: health, метрики,
// операции данных активного аккаунта и управление предвыборкой.
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/bigkaa/edusync/internal/adapter"
	"github.com/bigkaa/edusync/internal/authrefresh"
	"github.com/bigkaa/edusync/internal/manager"
	"github.com/bigkaa/edusync/internal/registry"
	"github.com/bigkaa/edusync/internal/scheduler"
)

// APIHandler — обработчик всех endpoints агента.
type APIHandler struct {
	health    *HealthHandler
	manager   *manager.Manager
	scheduler *scheduler.Scheduler
	registry  *registry.Registry
	logger    *slog.Logger
}

// NewAPIHandler создаёт обработчик API агента.
func NewAPIHandler(
	health *HealthHandler,
	mgr *manager.Manager,
	sched *scheduler.Scheduler,
	reg *registry.Registry,
	logger *slog.Logger,
) *APIHandler {
	return &APIHandler{
		health:    health,
		manager:   mgr,
		scheduler: sched,
		registry:  reg,
		logger:    logger.With(slog.String("component", "api")),
	}
}

// Routes регистрирует все маршруты агента.
func (h *APIHandler) Routes(r chi.Router) {
	r.Get("/health/live", h.health.HealthLive)
	r.Get("/health/ready", h.health.HealthReady)
	r.Get("/metrics", h.health.GetMetrics)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/accounts", h.ListAccounts)
		r.Post("/accounts/{id}/activate", h.ActivateAccount)

		r.Get("/grades", h.GetGrades)
		r.Get("/periods", h.GetPeriods)
		r.Get("/homeworks", h.GetHomeworks)
		r.Post("/homeworks/{id}/done", h.SetHomeworkDone)
		r.Get("/news", h.GetNews)
		r.Post("/news/{id}/ack", h.AckNews)
		r.Get("/timetable", h.GetTimetable)
		r.Get("/canteen/menu", h.GetCanteenMenu)
		r.Get("/balances", h.GetBalances)
		r.Get("/qrcode", h.GetQRCode)

		r.Post("/sync", h.Sync)
	})
}

// errorResponse — формат JSON-ошибки API.
type errorResponse struct {
	Error string `json:"error"`
}

// respondJSON сериализует ответ с заданным статусом.
func (h *APIHandler) respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Ошибка сериализации ответа", slog.String("error", err.Error()))
	}
}

// respondError переводит доменную ошибку в HTTP-статус.
func (h *APIHandler) respondError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, registry.ErrNoActiveAccount),
		errors.Is(err, registry.ErrAccountNotFound),
		errors.Is(err, registry.ErrServiceNotFound),
		errors.Is(err, adapter.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, manager.ErrUnsupportedCapability):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, adapter.ErrCacheOnlyData):
		status = http.StatusConflict
	case errors.Is(err, authrefresh.ErrReauthenticationRequired):
		status = http.StatusUnauthorized
	case errors.Is(err, adapter.ErrAuthentication):
		status = http.StatusBadGateway
	}
	h.respondJSON(w, status, errorResponse{Error: err.Error()})
}
