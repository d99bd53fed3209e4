package enta

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

// newTestSubject создаёт Subject, указывающий на mock-сервер.
func newTestSubject(serverURL string) adapter.Subject {
	return adapter.Subject{
		AccountID: "acc-1",
		Service: &model.ServiceAccount{
			ID:   "svc-enta",
			Kind: model.KindEntAlpha,
			Auth: model.Auth{
				AccessToken: "test-token",
				Extra: model.EntAlphaExtra{
					InstanceURL: serverURL,
					Username:    "j.dupont",
				},
			},
		},
	}
}

// TestFetchGrades проверяет выборку и маппинг оценок.
func TestFetchGrades(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/eleves/j.dupont/notes" {
			t.Errorf("Неожиданный путь: %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("Authorization = %q, ожидался bearer-токен", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"notes": [
				{"ref":"n-1","matiere":"maths","valeur":15.5,"bareme":20,"coefficient":2,
				 "moy_min":4,"moy_max":19,"moy_classe":12.3,"periode":"t1","date":"2024-09-16"}
			],
			"periodes": [
				{"ref":"t1","nom":"Trimestre 1","debut":"2024-09-02","fin":"2024-11-29"}
			]
		}`))
	}))
	defer server.Close()

	a := New(5*time.Second, slog.Default())
	grades, err := a.FetchGrades(context.Background(), newTestSubject(server.URL))
	if err != nil {
		t.Fatalf("FetchGrades ошибка: %v", err)
	}
	if len(grades) != 1 {
		t.Fatalf("получено %d оценок, ожидалась 1", len(grades))
	}

	g := grades[0]
	if g.Subject != "maths" || g.Score != 15.5 || g.OutOf != 20 || g.Coefficient != 2 {
		t.Errorf("Неверный маппинг оценки: %+v", g)
	}
	if g.CreatedByAccount != "acc-1" || g.ServiceAccountID != "svc-enta" {
		t.Errorf("Неверный Origin: %+v", g.Origin)
	}
	if g.FromCache {
		t.Error("Живая выборка не должна помечаться FromCache")
	}
	if !g.Mutable() {
		t.Error("Живая сущность должна быть мутируемой")
	}
}

// TestFetchGrades_AuthRejected проверяет перевод 401 в ErrAuthentication.
func TestFetchGrades_AuthRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	a := New(5*time.Second, slog.Default())
	_, err := a.FetchGrades(context.Background(), newTestSubject(server.URL))
	if !errors.Is(err, adapter.ErrAuthentication) {
		t.Fatalf("ошибка = %v, ожидалась ErrAuthentication", err)
	}
}

// TestFetchHomeworks проверяет перевод недели и маппинг заданий.
func TestFetchHomeworks(t *testing.T) {
	var gotWeek string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotWeek = r.URL.Query().Get("semaine")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"travaux": [
				{"ref":"hw-1","matiere":"physique","contenu":"Exercices 4-7","pour_le":"2024-09-20","effectue":false}
			]
		}`))
	}))
	defer server.Close()

	a := New(5*time.Second, slog.Default())
	// 2024-W38: четвёртая неделя учебного года 2024/2025
	hws, err := a.FetchHomeworks(context.Background(), newTestSubject(server.URL), model.Week{Year: 2024, Num: 38})
	if err != nil {
		t.Fatalf("FetchHomeworks ошибка: %v", err)
	}
	if gotWeek != "4" {
		t.Errorf("semaine = %q, ожидалась \"4\"", gotWeek)
	}
	if len(hws) != 1 || hws[0].Subject != "physique" || hws[0].Done {
		t.Errorf("Неверный маппинг задания: %+v", hws)
	}
}

// TestSetHomeworkDone проверяет мутацию и защиту от кэшевых сущностей.
func TestSetHomeworkDone(t *testing.T) {
	var mutated string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("Метод = %s, ожидался PUT", r.Method)
		}
		mutated = r.URL.Path
	}))
	defer server.Close()

	a := New(5*time.Second, slog.Default())
	sub := newTestSubject(server.URL)

	live := model.Homework{Origin: model.Origin{ID: "hw-1", LiveRef: "hw-1"}}
	if err := a.SetHomeworkDone(context.Background(), sub, live, true); err != nil {
		t.Fatalf("SetHomeworkDone ошибка: %v", err)
	}
	if mutated != "/api/v1/cahierdetexte/hw-1/etat" {
		t.Errorf("Неожиданный путь мутации: %s", mutated)
	}

	cached := model.Homework{Origin: model.Origin{ID: "hw-1", FromCache: true}}
	err := a.SetHomeworkDone(context.Background(), sub, cached, true)
	if !errors.Is(err, adapter.ErrCacheOnlyData) {
		t.Fatalf("ошибка = %v, ожидалась ErrCacheOnlyData для кэшевой сущности", err)
	}
}

// TestFetchNews проверяет сортировку новостей по убыванию даты.
func TestFetchNews(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"actualites": [
				{"ref":"a-1","titre":"Ancienne","contenu":"...","date":"2024-09-01T10:00:00Z","lue":true},
				{"ref":"a-2","titre":"Свежая","contenu":"...","date":"2024-09-15T10:00:00Z","lue":false}
			]
		}`))
	}))
	defer server.Close()

	a := New(5*time.Second, slog.Default())
	news, err := a.FetchNews(context.Background(), newTestSubject(server.URL))
	if err != nil {
		t.Fatalf("FetchNews ошибка: %v", err)
	}
	if len(news) != 2 || news[0].ID != "a-2" {
		t.Fatalf("новости не отсортированы по убыванию даты: %+v", news)
	}
}

// TestSchoolWeek проверяет перевод ISO-недель в нумерацию учебного года.
func TestSchoolWeek(t *testing.T) {
	tests := []struct {
		week model.Week
		want int
	}{
		{model.Week{Year: 2024, Num: 35}, 1},  // неделя 1 сентября
		{model.Week{Year: 2024, Num: 38}, 4},  // конец сентября
		{model.Week{Year: 2025, Num: 3}, 21},  // январь того же учебного года
	}
	for _, tt := range tests {
		if got := schoolWeek(tt.week); got != tt.want {
			t.Errorf("schoolWeek(%s) = %d, ожидалось %d", tt.week, got, tt.want)
		}
	}
}

// TestCapabilities проверяет заявленный набор возможностей.
func TestCapabilities(t *testing.T) {
	a := New(time.Second, slog.Default())
	caps := a.Capabilities()
	for _, c := range []model.Capability{model.CapGrades, model.CapHomeworks, model.CapNews, model.CapTimetable} {
		if !caps.Has(c) {
			t.Errorf("возможность %s не заявлена", c)
		}
	}
	if caps.Has(model.CapBalances) {
		t.Error("CapBalances не должна быть заявлена")
	}
}
