// strategies.go — конкретные стратегии обновления по видам сервисов:
// OAuth refresh grant (ENT A), повтор CAS-логина (университет),
// перевыпуск device-bound токена (столовая).
package authrefresh

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bigkaa/edusync/internal/adapter"
	"github.com/bigkaa/edusync/internal/domain/model"
)

// EntAlphaStrategy — OAuth-подобный refresh grant ENT варианта A.
type EntAlphaStrategy struct {
	httpClient *http.Client
	logger     *slog.Logger
}

// NewEntAlphaStrategy создаёт стратегию ENT варианта A.
func NewEntAlphaStrategy(timeout time.Duration, logger *slog.Logger) *EntAlphaStrategy {
	return &EntAlphaStrategy{
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With(slog.String("component", "authrefresh-enta")),
	}
}

// Kind возвращает вид сервиса.
func (s *EntAlphaStrategy) Kind() model.ServiceKind { return model.KindEntAlpha }

// Refresh обменивает refresh-токен на свежую пару токенов.
func (s *EntAlphaStrategy) Refresh(ctx context.Context, sub adapter.Subject) (model.Auth, error) {
	extra, ok := sub.Service.Auth.Extra.(model.EntAlphaExtra)
	if !ok {
		return model.Auth{}, fmt.Errorf("service account %s: отсутствует EntAlphaExtra", sub.Service.ID)
	}
	if sub.Service.Auth.RefreshToken == "" {
		return model.Auth{}, fmt.Errorf("refresh-токен отсутствует: %w", ErrReauthenticationRequired)
	}

	body, err := json.Marshal(map[string]string{
		"grant_type":    "refresh_token",
		"refresh_token": sub.Service.Auth.RefreshToken,
		"device_id":     extra.DeviceID,
	})
	if err != nil {
		return model.Auth{}, fmt.Errorf("ошибка сериализации запроса: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, extra.InstanceURL+"/api/v1/token", bytes.NewReader(body))
	if err != nil {
		return model.Auth{}, fmt.Errorf("ошибка создания запроса: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return model.Auth{}, fmt.Errorf("ошибка запроса обновления токена: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		// продолжаем ниже
	case resp.StatusCode == http.StatusBadRequest || adapter.IsAuthStatus(resp.StatusCode):
		// Бэкенд отверг refresh-токен — он протух или отозван.
		return model.Auth{}, fmt.Errorf("ENT отверг refresh-токен (статус %d): %w",
			resp.StatusCode, ErrReauthenticationRequired)
	default:
		return model.Auth{}, fmt.Errorf("ENT вернул неожиданный статус %d", resp.StatusCode)
	}

	var tokens struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokens); err != nil {
		return model.Auth{}, fmt.Errorf("ошибка декодирования ответа: %w", err)
	}

	// Срок жизни берётся из exp токена; expires_in — запасной вариант.
	expiresAt := jwtExpiry(tokens.AccessToken)
	if expiresAt.IsZero() && tokens.ExpiresIn > 0 {
		expiresAt = time.Now().UTC().Add(time.Duration(tokens.ExpiresIn) * time.Second)
	}

	// Бэкенд может не ротировать refresh-токен — тогда сохраняем прежний.
	refreshToken := tokens.RefreshToken
	if refreshToken == "" {
		refreshToken = sub.Service.Auth.RefreshToken
	}

	return model.Auth{
		AccessToken:  tokens.AccessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    expiresAt,
		Extra:        extra,
	}, nil
}

// UniversityStrategy — повтор CAS-логина сохранёнными учётными данными.
// Протокол CAS REST: POST /v1/tickets выдаёт TGT, POST на TGT выдаёт
// service ticket, обмен ST на портале даёт cookie сессии.
type UniversityStrategy struct {
	portalURL  string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewUniversityStrategy создаёт стратегию университетского портала.
func NewUniversityStrategy(portalURL string, timeout time.Duration, logger *slog.Logger) *UniversityStrategy {
	return &UniversityStrategy{
		portalURL:  portalURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With(slog.String("component", "authrefresh-univ")),
	}
}

// Kind возвращает вид сервиса.
func (s *UniversityStrategy) Kind() model.ServiceKind { return model.KindUniversity }

// Refresh выполняет полный цикл CAS-логина и обмена тикета на сессию.
func (s *UniversityStrategy) Refresh(ctx context.Context, sub adapter.Subject) (model.Auth, error) {
	extra, ok := sub.Service.Auth.Extra.(model.UniversityExtra)
	if !ok {
		return model.Auth{}, fmt.Errorf("service account %s: отсутствует UniversityExtra", sub.Service.ID)
	}
	if extra.Password == "" {
		return model.Auth{}, fmt.Errorf("пароль CAS не сохранён: %w", ErrReauthenticationRequired)
	}

	tgtURL, err := s.requestTGT(ctx, extra)
	if err != nil {
		return model.Auth{}, err
	}
	ticket, err := s.requestServiceTicket(ctx, tgtURL)
	if err != nil {
		return model.Auth{}, err
	}
	cookie, err := s.exchangeTicket(ctx, ticket)
	if err != nil {
		return model.Auth{}, err
	}

	extra.SessionCookie = cookie
	// CAS-сессия не сообщает срок жизни; протухание обнаружится
	// редиректом на логин при следующем запросе.
	return model.Auth{Extra: extra}, nil
}

// requestTGT получает ticket granting ticket. Location ответа —
// URL для выпуска service ticket'ов.
func (s *UniversityStrategy) requestTGT(ctx context.Context, extra model.UniversityExtra) (string, error) {
	form := url.Values{
		"username": {extra.Username},
		"password": {extra.Password},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		extra.CASBaseURL+"/v1/tickets", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("ошибка создания запроса TGT: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("ошибка запроса TGT: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusCreated:
		// продолжаем ниже
	case adapter.IsAuthStatus(resp.StatusCode) || resp.StatusCode == http.StatusBadRequest:
		// CAS отверг логин/пароль — пароль сменён.
		return "", fmt.Errorf("CAS отверг учётные данные (статус %d): %w",
			resp.StatusCode, ErrReauthenticationRequired)
	default:
		return "", fmt.Errorf("CAS вернул неожиданный статус %d", resp.StatusCode)
	}

	location := resp.Header.Get("Location")
	if location == "" {
		return "", fmt.Errorf("CAS не вернул Location для TGT")
	}
	return location, nil
}

// requestServiceTicket обменивает TGT на service ticket портала.
func (s *UniversityStrategy) requestServiceTicket(ctx context.Context, tgtURL string) (string, error) {
	form := url.Values{"service": {s.portalURL}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tgtURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("ошибка создания запроса ST: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("ошибка запроса ST: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("CAS вернул статус %d при выпуске ST", resp.StatusCode)
	}
	ticket, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return "", fmt.Errorf("ошибка чтения ST: %w", err)
	}
	return strings.TrimSpace(string(ticket)), nil
}

// exchangeTicket обменивает service ticket на cookie сессии портала.
func (s *UniversityStrategy) exchangeTicket(ctx context.Context, ticket string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		s.portalURL+"/api/v1/session?ticket="+url.QueryEscape(ticket), nil)
	if err != nil {
		return "", fmt.Errorf("ошибка создания запроса сессии: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("ошибка обмена тикета: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("портал вернул статус %d при обмене тикета", resp.StatusCode)
	}

	var session struct {
		Cookie string `json:"cookie"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return "", fmt.Errorf("ошибка декодирования сессии: %w", err)
	}
	if session.Cookie == "" {
		return "", fmt.Errorf("портал не вернул cookie сессии")
	}
	return session.Cookie, nil
}

// CanteenStrategy — перевыпуск access-токена по device-bound токену.
type CanteenStrategy struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewCanteenStrategy создаёт стратегию сервиса столовой.
func NewCanteenStrategy(baseURL string, timeout time.Duration, logger *slog.Logger) *CanteenStrategy {
	return &CanteenStrategy{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With(slog.String("component", "authrefresh-canteen")),
	}
}

// Kind возвращает вид сервиса.
func (s *CanteenStrategy) Kind() model.ServiceKind { return model.KindCanteen }

// Refresh перевыпускает access-токен по токену устройства.
func (s *CanteenStrategy) Refresh(ctx context.Context, sub adapter.Subject) (model.Auth, error) {
	extra, ok := sub.Service.Auth.Extra.(model.CanteenExtra)
	if !ok {
		return model.Auth{}, fmt.Errorf("service account %s: отсутствует CanteenExtra", sub.Service.ID)
	}

	body, err := json.Marshal(map[string]string{
		"host_id":  extra.HostID,
		"username": extra.Username,
	})
	if err != nil {
		return model.Auth{}, fmt.Errorf("ошибка сериализации запроса: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.baseURL+"/api/v1/device/token", bytes.NewReader(body))
	if err != nil {
		return model.Auth{}, fmt.Errorf("ошибка создания запроса: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Device-Token", extra.DeviceToken)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return model.Auth{}, fmt.Errorf("ошибка запроса перевыпуска токена: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		// продолжаем ниже
	case adapter.IsAuthStatus(resp.StatusCode):
		// Устройство отозвано — нужна повторная привязка.
		return model.Auth{}, fmt.Errorf("устройство отозвано (статус %d): %w",
			resp.StatusCode, ErrReauthenticationRequired)
	default:
		return model.Auth{}, fmt.Errorf("сервис столовой вернул неожиданный статус %d", resp.StatusCode)
	}

	var tokens struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokens); err != nil {
		return model.Auth{}, fmt.Errorf("ошибка декодирования ответа: %w", err)
	}

	expiresAt := jwtExpiry(tokens.AccessToken)
	if expiresAt.IsZero() && tokens.ExpiresIn > 0 {
		expiresAt = time.Now().UTC().Add(time.Duration(tokens.ExpiresIn) * time.Second)
	}

	return model.Auth{
		AccessToken: tokens.AccessToken,
		ExpiresAt:   expiresAt,
		Extra:       extra,
	}, nil
}
