// data.go — операции данных активного аккаунта.
// Недельные endpoints принимают параметр week в канонической форме
// ("2024-W37"); при его отсутствии используется текущая неделя.
package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bigkaa/edusync/internal/domain/model"
)

// weekParam извлекает недельное окно из query-параметра week.
func weekParam(r *http.Request) (model.Week, error) {
	raw := r.URL.Query().Get("week")
	if raw == "" {
		return model.WeekOf(time.Now()), nil
	}
	return model.ParseWeek(raw)
}

// GetGrades — GET /api/v1/grades.
func (h *APIHandler) GetGrades(w http.ResponseWriter, r *http.Request) {
	grades, err := h.manager.Grades(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, grades)
}

// GetPeriods — GET /api/v1/periods.
func (h *APIHandler) GetPeriods(w http.ResponseWriter, r *http.Request) {
	periods, err := h.manager.Periods(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, periods)
}

// GetHomeworks — GET /api/v1/homeworks?week=2024-W37.
func (h *APIHandler) GetHomeworks(w http.ResponseWriter, r *http.Request) {
	week, err := weekParam(r)
	if err != nil {
		h.respondJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	homeworks, err := h.manager.Homeworks(r.Context(), week)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, homeworks)
}

// setHomeworkDoneRequest — тело POST /api/v1/homeworks/{id}/done.
type setHomeworkDoneRequest struct {
	Week string `json:"week"`
	Done bool   `json:"done"`
}

// SetHomeworkDone — POST /api/v1/homeworks/{id}/done.
// Задание ищется живой выборкой недельного окна: мутация требует
// живой ссылки бэкенда, кэшевой копии недостаточно.
func (h *APIHandler) SetHomeworkDone(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req setHomeworkDoneRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondJSON(w, http.StatusBadRequest, errorResponse{Error: "некорректное тело запроса"})
		return
	}
	week, err := model.ParseWeek(req.Week)
	if err != nil {
		h.respondJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	homeworks, err := h.manager.HomeworksLive(r.Context(), week)
	if err != nil {
		h.respondError(w, err)
		return
	}
	for _, hw := range homeworks {
		if hw.ID != id {
			continue
		}
		if err := h.manager.SetHomeworkDone(r.Context(), hw, req.Done, week); err != nil {
			h.respondError(w, err)
			return
		}
		h.respondJSON(w, http.StatusOK, map[string]bool{"done": req.Done})
		return
	}
	h.respondJSON(w, http.StatusNotFound, errorResponse{Error: fmt.Sprintf("задание %s не найдено в окне %s", id, week)})
}

// GetNews — GET /api/v1/news.
func (h *APIHandler) GetNews(w http.ResponseWriter, r *http.Request) {
	news, err := h.manager.News(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, news)
}

// AckNews — POST /api/v1/news/{id}/ack.
func (h *APIHandler) AckNews(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	news, err := h.manager.NewsLive(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	for _, n := range news {
		if n.ID != id {
			continue
		}
		if err := h.manager.SetNewsAcknowledged(r.Context(), n); err != nil {
			h.respondError(w, err)
			return
		}
		h.respondJSON(w, http.StatusOK, map[string]bool{"acknowledged": true})
		return
	}
	h.respondJSON(w, http.StatusNotFound, errorResponse{Error: fmt.Sprintf("новость %s не найдена", id)})
}

// GetTimetable — GET /api/v1/timetable?week=2024-W37.
func (h *APIHandler) GetTimetable(w http.ResponseWriter, r *http.Request) {
	week, err := weekParam(r)
	if err != nil {
		h.respondJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	lessons, err := h.manager.Timetable(r.Context(), week)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, lessons)
}

// GetCanteenMenu — GET /api/v1/canteen/menu?week=2024-W37.
func (h *APIHandler) GetCanteenMenu(w http.ResponseWriter, r *http.Request) {
	week, err := weekParam(r)
	if err != nil {
		h.respondJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	menus, err := h.manager.CanteenMenu(r.Context(), week)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, menus)
}

// GetBalances — GET /api/v1/balances.
func (h *APIHandler) GetBalances(w http.ResponseWriter, r *http.Request) {
	balances, err := h.manager.Balances(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, balances)
}

// GetQRCode — GET /api/v1/qrcode.
func (h *APIHandler) GetQRCode(w http.ResponseWriter, r *http.Request) {
	qr, err := h.manager.QRCode(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, qr)
}

// syncRequest — тело POST /api/v1/sync: закрытый диапазон дат предвыборки.
type syncRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Sync — POST /api/v1/sync. Запускает предвыборку недельных окон диапазона.
func (h *APIHandler) Sync(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondJSON(w, http.StatusBadRequest, errorResponse{Error: "некорректное тело запроса"})
		return
	}
	from, err := time.Parse("2006-01-02", req.From)
	if err != nil {
		h.respondJSON(w, http.StatusBadRequest, errorResponse{Error: "некорректная дата from, формат 2006-01-02"})
		return
	}
	to, err := time.Parse("2006-01-02", req.To)
	if err != nil {
		h.respondJSON(w, http.StatusBadRequest, errorResponse{Error: "некорректная дата to, формат 2006-01-02"})
		return
	}

	if err := h.scheduler.Backfill(r.Context(), from, to); err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]int{"windows": len(model.WeeksInRange(from, to))})
}
