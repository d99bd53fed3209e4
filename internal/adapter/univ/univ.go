// Пакет univ — адаптер университетского портала за CAS SSO.
// Возможности: оценки и объявления. Запросы авторизуются cookie
// активной CAS-сессии; просроченная сессия распознаётся и по
// статусам 401/403, и по редиректу на страницу логина CAS.
package univ

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/bigkaa/edusync/internal/adapter"
	"github.com/bigkaa/edusync/internal/domain/model"
)

// Имя cookie сессии портала.
const sessionCookieName = "AGIMUS"

// Adapter — клиент университетского портала.
type Adapter struct {
	portalURL  string
	httpClient *http.Client
	logger     *slog.Logger
}

// New создаёт адаптер портала. portalURL — базовый URL портала
// (CAS-сервер конфигурируется отдельно, в Auth.Extra).
func New(portalURL string, timeout time.Duration, logger *slog.Logger) *Adapter {
	return &Adapter{
		portalURL: portalURL,
		httpClient: &http.Client{
			Timeout: timeout,
			// Редирект на CAS-логин означает просроченную сессию;
			// следовать за ним бессмысленно.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger: logger.With(slog.String("component", "adapter-univ")),
	}
}

// Kind возвращает вид сервиса.
func (a *Adapter) Kind() model.ServiceKind { return model.KindUniversity }

// Capabilities возвращает набор возможностей портала.
func (a *Adapter) Capabilities() model.CapabilitySet {
	return model.CapabilitySet{model.CapGrades, model.CapNews}
}

// doJSON выполняет запрос с cookie сессии и декодирует JSON-ответ.
func (a *Adapter) doJSON(ctx context.Context, sub adapter.Subject, path string, out any) error {
	extra, ok := sub.Service.Auth.Extra.(model.UniversityExtra)
	if !ok {
		return fmt.Errorf("service account %s: отсутствует UniversityExtra", sub.Service.ID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.portalURL+path, nil)
	if err != nil {
		return fmt.Errorf("ошибка создания запроса: %w", err)
	}
	req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: extra.SessionCookie})
	req.Header.Set("Accept", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ошибка запроса к порталу: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case adapter.IsAuthStatus(resp.StatusCode):
		return fmt.Errorf("портал вернул статус %d: %w", resp.StatusCode, adapter.ErrAuthentication)
	case resp.StatusCode == http.StatusFound || resp.StatusCode == http.StatusSeeOther:
		// Портал отправляет на CAS-логин — сессия мертва.
		return fmt.Errorf("портал перенаправил на CAS-логин: %w", adapter.ErrAuthentication)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("портал вернул неожиданный статус %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("ошибка декодирования ответа портала: %w", err)
	}
	return nil
}

type univGradesResponse struct {
	Grades []struct {
		ID      string  `json:"id"`
		Course  string  `json:"course"`
		Value   float64 `json:"value"`
		Scale   float64 `json:"scale"`
		Weight  float64 `json:"weight"`
		Term    string  `json:"term"`
		Average float64 `json:"average"`
		Date    string  `json:"date"`
	} `json:"grades"`
}

type univNewsResponse struct {
	Announcements []struct {
		ID        string `json:"id"`
		Title     string `json:"title"`
		Body      string `json:"body"`
		Author    string `json:"author"`
		Category  string `json:"category"`
		Published string `json:"published"`
	} `json:"announcements"`
}

// FetchGrades выбирает оценки студента.
func (a *Adapter) FetchGrades(ctx context.Context, sub adapter.Subject) ([]model.Grade, error) {
	var resp univGradesResponse
	if err := a.doJSON(ctx, sub, "/api/v1/me/grades", &resp); err != nil {
		return nil, err
	}

	grades := make([]model.Grade, 0, len(resp.Grades))
	for _, g := range resp.Grades {
		givenAt, _ := time.Parse("2006-01-02", g.Date)
		grades = append(grades, model.Grade{
			Origin: model.Origin{
				ID:               g.ID,
				CreatedByAccount: sub.AccountID,
				ServiceAccountID: sub.Service.ID,
				LiveRef:          g.ID,
			},
			Subject:     g.Course,
			Score:       g.Value,
			OutOf:       g.Scale,
			Coefficient: g.Weight,
			Average:     g.Average,
			PeriodID:    g.Term,
			GivenAt:     givenAt,
		})
	}

	a.logger.Debug("Оценки получены",
		slog.String("service_account", sub.Service.ID),
		slog.Int("count", len(grades)),
	)
	return grades, nil
}

// FetchNews выбирает объявления портала (по убыванию даты публикации).
func (a *Adapter) FetchNews(ctx context.Context, sub adapter.Subject) ([]model.News, error) {
	var resp univNewsResponse
	if err := a.doJSON(ctx, sub, "/api/v1/announcements", &resp); err != nil {
		return nil, err
	}

	news := make([]model.News, 0, len(resp.Announcements))
	for _, n := range resp.Announcements {
		createdAt, _ := time.Parse(time.RFC3339, n.Published)
		news = append(news, model.News{
			Origin: model.Origin{
				ID:               n.ID,
				CreatedByAccount: sub.AccountID,
				ServiceAccountID: sub.Service.ID,
				LiveRef:          n.ID,
			},
			Title:     n.Title,
			Content:   n.Body,
			Author:    n.Author,
			Category:  n.Category,
			CreatedAt: createdAt,
		})
	}
	sort.Slice(news, func(i, j int) bool { return news[i].CreatedAt.After(news[j].CreatedAt) })
	return news, nil
}
