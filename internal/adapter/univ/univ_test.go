package univ

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bigkaa/edusync/internal/adapter"
	"github.com/bigkaa/edusync/internal/domain/model"
)

func newTestSubject() adapter.Subject {
	return adapter.Subject{
		AccountID: "acc-1",
		Service: &model.ServiceAccount{
			ID:   "svc-univ",
			Kind: model.KindUniversity,
			Auth: model.Auth{
				Extra: model.UniversityExtra{
					CASBaseURL:    "https://cas.example.edu",
					Username:      "jdupont",
					SessionCookie: "sess-abc",
				},
			},
		},
	}
}

// TestFetchGrades проверяет cookie сессии и маппинг оценок.
func TestFetchGrades(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(sessionCookieName)
		if err != nil || cookie.Value != "sess-abc" {
			t.Errorf("Ожидалась cookie сессии, получено: %v", r.Cookies())
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"grades": [
				{"id":"g-1","course":"Algèbre","value":14,"scale":20,"weight":3,
				 "term":"s1","average":11.2,"date":"2024-10-03"}
			]
		}`))
	}))
	defer server.Close()

	a := New(server.URL, 5*time.Second, slog.Default())
	grades, err := a.FetchGrades(context.Background(), newTestSubject())
	if err != nil {
		t.Fatalf("FetchGrades ошибка: %v", err)
	}
	if len(grades) != 1 {
		t.Fatalf("получено %d оценок, ожидалась 1", len(grades))
	}
	g := grades[0]
	if g.Subject != "Algèbre" || g.Score != 14 || g.Coefficient != 3 || g.PeriodID != "s1" {
		t.Errorf("Неверный маппинг оценки: %+v", g)
	}
	if g.ServiceAccountID != "svc-univ" || g.CreatedByAccount != "acc-1" {
		t.Errorf("Неверный Origin: %+v", g.Origin)
	}
}

// TestFetchGrades_SessionExpired проверяет распознавание мёртвой сессии
// по редиректу на CAS-логин.
func TestFetchGrades_SessionExpired(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "https://cas.example.edu/login", http.StatusFound)
	}))
	defer server.Close()

	a := New(server.URL, 5*time.Second, slog.Default())
	_, err := a.FetchGrades(context.Background(), newTestSubject())
	if !errors.Is(err, adapter.ErrAuthentication) {
		t.Fatalf("ошибка = %v, ожидалась ErrAuthentication при редиректе на CAS", err)
	}
}

// TestFetchNews проверяет маппинг и сортировку объявлений.
func TestFetchNews(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"announcements": [
				{"id":"an-1","title":"Fermeture BU","body":"...","published":"2024-09-10T08:00:00Z"},
				{"id":"an-2","title":"Rentrée","body":"...","published":"2024-09-12T08:00:00Z"}
			]
		}`))
	}))
	defer server.Close()

	a := New(server.URL, 5*time.Second, slog.Default())
	news, err := a.FetchNews(context.Background(), newTestSubject())
	if err != nil {
		t.Fatalf("FetchNews ошибка: %v", err)
	}
	if len(news) != 2 || news[0].ID != "an-2" {
		t.Fatalf("объявления не отсортированы по убыванию даты: %+v", news)
	}
}

// TestCapabilities проверяет, что мутаторы не заявлены.
func TestCapabilities(t *testing.T) {
	a := New("http://portal", time.Second, slog.Default())
	caps := a.Capabilities()
	if !caps.Has(model.CapGrades) || !caps.Has(model.CapNews) {
		t.Errorf("набор возможностей неполон: %v", caps)
	}
	if caps.Has(model.CapHomeworks) || caps.Has(model.CapTimetable) {
		t.Errorf("заявлены лишние возможности: %v", caps)
	}
}
