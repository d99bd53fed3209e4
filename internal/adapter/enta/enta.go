// Пакет enta — адаптер ENT варианта A (школьный портал).
// Токен-bearer REST API; возможности: оценки, домашние задания
// (с отметкой выполнения), новости (с отметкой прочтения), расписание.
//
// Бэкенд нумерует недели от начала учебного года (неделя 1 содержит
// 1 сентября); перевод из ISO-недель выполняется здесь.
package enta

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/bigkaa/edusync/internal/adapter"
	"github.com/bigkaa/edusync/internal/domain/model"
)

// Adapter — клиент ENT варианта A.
type Adapter struct {
	httpClient *http.Client
	logger     *slog.Logger
}

// New создаёт адаптер ENT варианта A.
func New(timeout time.Duration, logger *slog.Logger) *Adapter {
	return &Adapter{
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With(slog.String("component", "adapter-enta")),
	}
}

// Kind возвращает вид сервиса.
func (a *Adapter) Kind() model.ServiceKind { return model.KindEntAlpha }

// Capabilities возвращает набор возможностей ENT варианта A.
func (a *Adapter) Capabilities() model.CapabilitySet {
	return model.CapabilitySet{
		model.CapGrades,
		model.CapHomeworks,
		model.CapNews,
		model.CapTimetable,
	}
}

// instance извлекает базовый URL и логин из Auth.Extra.
func instance(sub adapter.Subject) (baseURL, username string, err error) {
	extra, ok := sub.Service.Auth.Extra.(model.EntAlphaExtra)
	if !ok {
		return "", "", fmt.Errorf("service account %s: отсутствует EntAlphaExtra", sub.Service.ID)
	}
	return extra.InstanceURL, extra.Username, nil
}

// doJSON выполняет запрос с bearer-токеном и декодирует JSON-ответ в out.
// Статусы 401/403 переводятся в ErrAuthentication.
func (a *Adapter) doJSON(ctx context.Context, sub adapter.Subject, method, url string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("ошибка сериализации тела запроса: %w", err)
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return fmt.Errorf("ошибка создания запроса: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+sub.Service.Auth.AccessToken)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ошибка запроса к ENT: %w", err)
	}
	defer resp.Body.Close()

	if adapter.IsAuthStatus(resp.StatusCode) {
		return fmt.Errorf("ENT вернул статус %d: %w", resp.StatusCode, adapter.ErrAuthentication)
	}
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("ENT вернул статус 404: %w", adapter.ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ENT вернул неожиданный статус %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("ошибка декодирования ответа ENT: %w", err)
	}
	return nil
}

// Форматы ответов ENT варианта A.
type entaGradesResponse struct {
	Notes []struct {
		Ref         string  `json:"ref"`
		Matiere     string  `json:"matiere"`
		Valeur      float64 `json:"valeur"`
		Bareme      float64 `json:"bareme"`
		Coefficient float64 `json:"coefficient"`
		MoyMin      float64 `json:"moy_min"`
		MoyMax      float64 `json:"moy_max"`
		MoyClasse   float64 `json:"moy_classe"`
		Periode     string  `json:"periode"`
		Date        string  `json:"date"`
	} `json:"notes"`
	Periodes []struct {
		Ref   string `json:"ref"`
		Nom   string `json:"nom"`
		Debut string `json:"debut"`
		Fin   string `json:"fin"`
	} `json:"periodes"`
}

type entaHomeworksResponse struct {
	Travaux []struct {
		Ref      string `json:"ref"`
		Matiere  string `json:"matiere"`
		Contenu  string `json:"contenu"`
		PourLe   string `json:"pour_le"`
		Effectue bool   `json:"effectue"`
	} `json:"travaux"`
}

type entaNewsResponse struct {
	Actualites []struct {
		Ref       string `json:"ref"`
		Titre     string `json:"titre"`
		Contenu   string `json:"contenu"`
		Auteur    string `json:"auteur"`
		Categorie string `json:"categorie"`
		Date      string `json:"date"`
		Lue       bool   `json:"lue"`
	} `json:"actualites"`
}

type entaTimetableResponse struct {
	Cours []struct {
		Ref     string `json:"ref"`
		Matiere string `json:"matiere"`
		Prof    string `json:"prof"`
		Salle   string `json:"salle"`
		Debut   string `json:"debut"`
		Fin     string `json:"fin"`
		Annule  bool   `json:"annule"`
	} `json:"cours"`
}

// FetchGrades выбирает оценки ученика.
func (a *Adapter) FetchGrades(ctx context.Context, sub adapter.Subject) ([]model.Grade, error) {
	base, username, err := instance(sub)
	if err != nil {
		return nil, err
	}

	var resp entaGradesResponse
	url := fmt.Sprintf("%s/api/v1/eleves/%s/notes", base, username)
	if err := a.doJSON(ctx, sub, http.MethodGet, url, nil, &resp); err != nil {
		return nil, err
	}

	grades := make([]model.Grade, 0, len(resp.Notes))
	for _, n := range resp.Notes {
		givenAt, _ := time.Parse("2006-01-02", n.Date)
		grades = append(grades, model.Grade{
			Origin: model.Origin{
				ID:               n.Ref,
				CreatedByAccount: sub.AccountID,
				ServiceAccountID: sub.Service.ID,
				LiveRef:          n.Ref,
			},
			Subject:     n.Matiere,
			Score:       n.Valeur,
			OutOf:       n.Bareme,
			Coefficient: n.Coefficient,
			Min:         n.MoyMin,
			Max:         n.MoyMax,
			Average:     n.MoyClasse,
			PeriodID:    n.Periode,
			GivenAt:     givenAt,
		})
	}

	a.logger.Debug("Оценки получены",
		slog.String("service_account", sub.Service.ID),
		slog.Int("count", len(grades)),
	)
	return grades, nil
}

// FetchPeriods выбирает учебные периоды (отдаются тем же endpoint'ом,
// что и оценки).
func (a *Adapter) FetchPeriods(ctx context.Context, sub adapter.Subject) ([]model.Period, error) {
	base, username, err := instance(sub)
	if err != nil {
		return nil, err
	}

	var resp entaGradesResponse
	url := fmt.Sprintf("%s/api/v1/eleves/%s/notes", base, username)
	if err := a.doJSON(ctx, sub, http.MethodGet, url, nil, &resp); err != nil {
		return nil, err
	}

	periods := make([]model.Period, 0, len(resp.Periodes))
	for _, p := range resp.Periodes {
		start, _ := time.Parse("2006-01-02", p.Debut)
		end, _ := time.Parse("2006-01-02", p.Fin)
		periods = append(periods, model.Period{
			Origin: model.Origin{
				ID:               p.Ref,
				CreatedByAccount: sub.AccountID,
				ServiceAccountID: sub.Service.ID,
				LiveRef:          p.Ref,
			},
			Name:  p.Nom,
			Start: start,
			End:   end,
		})
	}
	return periods, nil
}

// FetchHomeworks выбирает домашние задания недельного окна.
func (a *Adapter) FetchHomeworks(ctx context.Context, sub adapter.Subject, week model.Week) ([]model.Homework, error) {
	base, username, err := instance(sub)
	if err != nil {
		return nil, err
	}

	var resp entaHomeworksResponse
	url := fmt.Sprintf("%s/api/v1/eleves/%s/cahierdetexte?semaine=%d", base, username, schoolWeek(week))
	if err := a.doJSON(ctx, sub, http.MethodGet, url, nil, &resp); err != nil {
		return nil, err
	}

	homeworks := make([]model.Homework, 0, len(resp.Travaux))
	for _, t := range resp.Travaux {
		due, _ := time.Parse("2006-01-02", t.PourLe)
		homeworks = append(homeworks, model.Homework{
			Origin: model.Origin{
				ID:               t.Ref,
				CreatedByAccount: sub.AccountID,
				ServiceAccountID: sub.Service.ID,
				LiveRef:          t.Ref,
			},
			Subject: t.Matiere,
			Content: t.Contenu,
			Due:     due,
			Done:    t.Effectue,
		})
	}

	a.logger.Debug("Домашние задания получены",
		slog.String("service_account", sub.Service.ID),
		slog.String("week", week.String()),
		slog.Int("count", len(homeworks)),
	)
	return homeworks, nil
}

// SetHomeworkDone отмечает выполнение домашнего задания на бэкенде.
func (a *Adapter) SetHomeworkDone(ctx context.Context, sub adapter.Subject, hw model.Homework, done bool) error {
	if !hw.Mutable() {
		return adapter.ErrCacheOnlyData
	}
	base, _, err := instance(sub)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/api/v1/cahierdetexte/%s/etat", base, hw.LiveRef)
	body := map[string]bool{"effectue": done}
	if err := a.doJSON(ctx, sub, http.MethodPut, url, body, nil); err != nil {
		return err
	}

	a.logger.Info("Отметка выполнения задания обновлена",
		slog.String("service_account", sub.Service.ID),
		slog.String("homework", hw.ID),
		slog.Bool("done", done),
	)
	return nil
}

// FetchNews выбирает новости учреждения (по убыванию даты публикации).
func (a *Adapter) FetchNews(ctx context.Context, sub adapter.Subject) ([]model.News, error) {
	base, _, err := instance(sub)
	if err != nil {
		return nil, err
	}

	var resp entaNewsResponse
	url := base + "/api/v1/etablissement/actualites"
	if err := a.doJSON(ctx, sub, http.MethodGet, url, nil, &resp); err != nil {
		return nil, err
	}

	news := make([]model.News, 0, len(resp.Actualites))
	for _, n := range resp.Actualites {
		createdAt, _ := time.Parse(time.RFC3339, n.Date)
		news = append(news, model.News{
			Origin: model.Origin{
				ID:               n.Ref,
				CreatedByAccount: sub.AccountID,
				ServiceAccountID: sub.Service.ID,
				LiveRef:          n.Ref,
			},
			Title:        n.Titre,
			Content:      n.Contenu,
			Author:       n.Auteur,
			Category:     n.Categorie,
			CreatedAt:    createdAt,
			Acknowledged: n.Lue,
		})
	}
	sort.Slice(news, func(i, j int) bool { return news[i].CreatedAt.After(news[j].CreatedAt) })
	return news, nil
}

// SetNewsAcknowledged отмечает новость прочитанной на бэкенде.
func (a *Adapter) SetNewsAcknowledged(ctx context.Context, sub adapter.Subject, news model.News) error {
	if !news.Mutable() {
		return adapter.ErrCacheOnlyData
	}
	base, _, err := instance(sub)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/api/v1/actualites/%s/lecture", base, news.LiveRef)
	return a.doJSON(ctx, sub, http.MethodPost, url, nil, nil)
}

// FetchTimetable выбирает расписание недельного окна.
func (a *Adapter) FetchTimetable(ctx context.Context, sub adapter.Subject, week model.Week) ([]model.Lesson, error) {
	base, username, err := instance(sub)
	if err != nil {
		return nil, err
	}

	var resp entaTimetableResponse
	url := fmt.Sprintf("%s/api/v1/eleves/%s/emploidutemps?semaine=%d", base, username, schoolWeek(week))
	if err := a.doJSON(ctx, sub, http.MethodGet, url, nil, &resp); err != nil {
		return nil, err
	}

	lessons := make([]model.Lesson, 0, len(resp.Cours))
	for _, c := range resp.Cours {
		start, _ := time.Parse(time.RFC3339, c.Debut)
		end, _ := time.Parse(time.RFC3339, c.Fin)
		lessons = append(lessons, model.Lesson{
			Origin: model.Origin{
				ID:               c.Ref,
				CreatedByAccount: sub.AccountID,
				ServiceAccountID: sub.Service.ID,
				LiveRef:          c.Ref,
			},
			Subject:  c.Matiere,
			Teacher:  c.Prof,
			Room:     c.Salle,
			Start:    start,
			End:      end,
			Canceled: c.Annule,
		})
	}
	return lessons, nil
}

// schoolWeek переводит ISO-неделю в нумерацию ENT: неделя 1 — неделя,
// содержащая 1 сентября текущего учебного года.
func schoolWeek(w model.Week) int {
	startYear := w.Year
	if w.Num < 31 {
		startYear--
	}
	ref := model.WeekOf(time.Date(startYear, time.September, 1, 12, 0, 0, 0, time.UTC))
	if w.Year == ref.Year {
		return w.Num - ref.Num + 1
	}
	return isoWeeksIn(ref.Year) - ref.Num + 1 + w.Num
}

// isoWeeksIn возвращает число ISO-недель в году (52 или 53).
// 28 декабря всегда принадлежит последней неделе года.
func isoWeeksIn(year int) int {
	_, wk := time.Date(year, time.December, 28, 12, 0, 0, 0, time.UTC).ISOWeek()
	return wk
}
