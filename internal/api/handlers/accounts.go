// accounts.go — просмотр реестра аккаунтов и переключение активного.
// Учётные данные сервисов никогда не попадают в ответы API.
package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/bigkaa/edusync/internal/domain/model"
)

// serviceView — публичная проекция ServiceAccount (без Auth).
type serviceView struct {
	ID           string              `json:"id"`
	Kind         model.ServiceKind   `json:"kind"`
	Capabilities model.CapabilitySet `json:"capabilities"`
}

// accountView — публичная проекция Account.
type accountView struct {
	ID          string        `json:"id"`
	DisplayName string        `json:"display_name"`
	ClassName   string        `json:"class_name,omitempty"`
	SchoolName  string        `json:"school_name,omitempty"`
	Services    []serviceView `json:"services"`
	Active      bool          `json:"active"`
}

func toAccountView(acc *model.Account, active bool) accountView {
	view := accountView{
		ID:          acc.ID,
		DisplayName: acc.DisplayName,
		ClassName:   acc.ClassName,
		SchoolName:  acc.SchoolName,
		Active:      active,
	}
	for _, sa := range acc.Services {
		view.Services = append(view.Services, serviceView{
			ID:           sa.ID,
			Kind:         sa.Kind,
			Capabilities: sa.Capabilities,
		})
	}
	return view
}

// ListAccounts — GET /api/v1/accounts.
func (h *APIHandler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	var activeID string
	if active, err := h.registry.ActiveAccount(); err == nil {
		activeID = active.ID
	}

	accounts := h.registry.Accounts()
	views := make([]accountView, 0, len(accounts))
	for _, acc := range accounts {
		views = append(views, toAccountView(acc, acc.ID == activeID))
	}
	h.respondJSON(w, http.StatusOK, views)
}

// ActivateAccount — POST /api/v1/accounts/{id}/activate.
func (h *APIHandler) ActivateAccount(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.registry.SetActive(id); err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"active": id})
}
