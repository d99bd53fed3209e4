package authrefresh

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bigkaa/edusync/internal/adapter"
	"github.com/bigkaa/edusync/internal/domain/model"
)

// TestEntAlphaStrategy_Refresh проверяет обмен refresh-токена.
func TestEntAlphaStrategy_Refresh(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("Ошибка декодирования запроса: %v", err)
		}
		if req["grant_type"] != "refresh_token" || req["refresh_token"] != "old-refresh" {
			t.Errorf("Неверное тело запроса: %v", req)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "new-access",
			"refresh_token": "new-refresh",
			"expires_in":    3600,
		})
	}))
	defer server.Close()

	sub := adapter.Subject{
		AccountID: "acc-1",
		Service: &model.ServiceAccount{
			ID:   "svc-1",
			Kind: model.KindEntAlpha,
			Auth: model.Auth{
				RefreshToken: "old-refresh",
				Extra:        model.EntAlphaExtra{InstanceURL: server.URL, DeviceID: "dev-1"},
			},
		},
	}

	s := NewEntAlphaStrategy(5*time.Second, slog.Default())
	auth, err := s.Refresh(context.Background(), sub)
	if err != nil {
		t.Fatalf("Refresh ошибка: %v", err)
	}
	if auth.AccessToken != "new-access" || auth.RefreshToken != "new-refresh" {
		t.Errorf("Неверные токены: %+v", auth)
	}
	if auth.ExpiresAt.IsZero() {
		t.Error("ExpiresAt должен быть вычислен из expires_in")
	}
	if _, ok := auth.Extra.(model.EntAlphaExtra); !ok {
		t.Error("Extra должен сохраниться после обновления")
	}
}

// TestEntAlphaStrategy_RevokedToken проверяет терминальную ошибку
// при протухшем refresh-токене.
func TestEntAlphaStrategy_RevokedToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	sub := adapter.Subject{
		AccountID: "acc-1",
		Service: &model.ServiceAccount{
			ID:   "svc-1",
			Kind: model.KindEntAlpha,
			Auth: model.Auth{
				RefreshToken: "revoked",
				Extra:        model.EntAlphaExtra{InstanceURL: server.URL},
			},
		},
	}

	s := NewEntAlphaStrategy(5*time.Second, slog.Default())
	_, err := s.Refresh(context.Background(), sub)
	if !errors.Is(err, ErrReauthenticationRequired) {
		t.Fatalf("ошибка = %v, ожидалась ErrReauthenticationRequired", err)
	}
}

// TestUniversityStrategy_Refresh проверяет полный цикл CAS:
// TGT, service ticket, обмен тикета на cookie сессии.
func TestUniversityStrategy_Refresh(t *testing.T) {
	mux := http.NewServeMux()
	var casURL string

	mux.HandleFunc("POST /v1/tickets", func(w http.ResponseWriter, r *http.Request) {
		if r.FormValue("username") != "jdupont" || r.FormValue("password") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Location", casURL+"/v1/tickets/TGT-1")
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("POST /v1/tickets/TGT-1", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ST-42"))
	})
	mux.HandleFunc("GET /api/v1/session", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("ticket") != "ST-42" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"cookie": "sess-new"})
	})

	// Один сервер играет роль и CAS, и портала.
	server := httptest.NewServer(mux)
	defer server.Close()
	casURL = server.URL

	sub := adapter.Subject{
		AccountID: "acc-1",
		Service: &model.ServiceAccount{
			ID:   "svc-1",
			Kind: model.KindUniversity,
			Auth: model.Auth{
				Extra: model.UniversityExtra{
					CASBaseURL:    server.URL,
					Username:      "jdupont",
					Password:      "secret",
					SessionCookie: "sess-dead",
				},
			},
		},
	}

	s := NewUniversityStrategy(server.URL, 5*time.Second, slog.Default())
	auth, err := s.Refresh(context.Background(), sub)
	if err != nil {
		t.Fatalf("Refresh ошибка: %v", err)
	}
	extra, ok := auth.Extra.(model.UniversityExtra)
	if !ok || extra.SessionCookie != "sess-new" {
		t.Errorf("cookie сессии не обновлена: %+v", auth.Extra)
	}
}

// TestUniversityStrategy_PasswordChanged проверяет терминальную ошибку
// при отвергнутом CAS-логине.
func TestUniversityStrategy_PasswordChanged(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	sub := adapter.Subject{
		AccountID: "acc-1",
		Service: &model.ServiceAccount{
			ID:   "svc-1",
			Kind: model.KindUniversity,
			Auth: model.Auth{
				Extra: model.UniversityExtra{CASBaseURL: server.URL, Username: "jdupont", Password: "stale"},
			},
		},
	}

	s := NewUniversityStrategy(server.URL, 5*time.Second, slog.Default())
	_, err := s.Refresh(context.Background(), sub)
	if !errors.Is(err, ErrReauthenticationRequired) {
		t.Fatalf("ошибка = %v, ожидалась ErrReauthenticationRequired", err)
	}
}

// TestCanteenStrategy_Refresh проверяет перевыпуск токена устройства.
func TestCanteenStrategy_Refresh(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Device-Token"); got != "dev-token-1" {
			t.Errorf("X-Device-Token = %q", got)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "new-access",
			"expires_in":   900,
		})
	}))
	defer server.Close()

	sub := adapter.Subject{
		AccountID: "acc-1",
		Service: &model.ServiceAccount{
			ID:   "svc-1",
			Kind: model.KindCanteen,
			Auth: model.Auth{
				Extra: model.CanteenExtra{HostID: "host-42", Username: "dupont.j", DeviceToken: "dev-token-1"},
			},
		},
	}

	s := NewCanteenStrategy(server.URL, 5*time.Second, slog.Default())
	auth, err := s.Refresh(context.Background(), sub)
	if err != nil {
		t.Fatalf("Refresh ошибка: %v", err)
	}
	if auth.AccessToken != "new-access" || auth.ExpiresAt.IsZero() {
		t.Errorf("Неверные учётные данные: %+v", auth)
	}
}

// TestCanteenStrategy_DeviceRevoked проверяет терминальную ошибку
// при отозванном устройстве.
func TestCanteenStrategy_DeviceRevoked(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	sub := adapter.Subject{
		AccountID: "acc-1",
		Service: &model.ServiceAccount{
			ID:   "svc-1",
			Kind: model.KindCanteen,
			Auth: model.Auth{Extra: model.CanteenExtra{DeviceToken: "revoked"}},
		},
	}

	s := NewCanteenStrategy(server.URL, 5*time.Second, slog.Default())
	_, err := s.Refresh(context.Background(), sub)
	if !errors.Is(err, ErrReauthenticationRequired) {
		t.Fatalf("ошибка = %v, ожидалась ErrReauthenticationRequired", err)
	}
}
