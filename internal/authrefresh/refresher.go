// Пакет authrefresh — восстановление просроченных учётных данных.
// Каждый вид сервиса имеет собственную стратегию обновления; диспетчер
// вызывает Refresh при ErrAuthentication от адаптера. Для одного
// ServiceAccount одновременно выполняется не более одного обновления:
// конкурентные вызовы присоединяются к уже идущему.
package authrefresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/edusync/internal/adapter"
	"github.com/bigkaa/edusync/internal/domain/model"
)

// ErrReauthenticationRequired — восстановление невозможно, нужен
// первичный логин пользователя. Терминальная ошибка: диспетчер не
// повторяет операцию.
var ErrReauthenticationRequired = errors.New("требуется повторная аутентификация пользователя")

var refreshTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "edusync_auth_refresh_total",
		Help: "Число попыток обновления учётных данных по виду сервиса и результату.",
	},
	[]string{"kind", "status"},
)

// Strategy — способ обновления учётных данных одного вида сервиса.
type Strategy interface {
	// Kind возвращает вид сервиса стратегии.
	Kind() model.ServiceKind
	// Refresh получает свежие учётные данные. Возвращает
	// ErrReauthenticationRequired, если бэкенд отверг и материал
	// обновления (протухший refresh-токен, сменённый пароль,
	// отозванное устройство).
	Refresh(ctx context.Context, sub adapter.Subject) (model.Auth, error)
}

// AuthWriter — персистентность обновлённых учётных данных.
// Реализуется реестром аккаунтов (единственным писателем Auth).
type AuthWriter interface {
	UpdateAuth(accountID, serviceAccountID string, auth model.Auth) error
}

// refreshCall — одно выполняющееся обновление; присоединившиеся
// ждут закрытия done.
type refreshCall struct {
	done chan struct{}
	auth model.Auth
	err  error
}

// Refresher — диспетчер стратегий обновления.
type Refresher struct {
	strategies map[model.ServiceKind]Strategy
	writer     AuthWriter
	logger     *slog.Logger

	mu       sync.Mutex
	inFlight map[string]*refreshCall // ключ — ID ServiceAccount
}

// New создаёт Refresher с набором стратегий.
func New(writer AuthWriter, logger *slog.Logger, strategies ...Strategy) *Refresher {
	m := make(map[model.ServiceKind]Strategy, len(strategies))
	for _, s := range strategies {
		m[s.Kind()] = s
	}
	return &Refresher{
		strategies: m,
		writer:     writer,
		logger:     logger.With(slog.String("component", "authrefresh")),
		inFlight:   make(map[string]*refreshCall),
	}
}

// Refresh обновляет учётные данные сервисного аккаунта и сохраняет
// результат через AuthWriter. Конкурентные вызовы для одного
// ServiceAccount схлопываются в одно обновление.
func (r *Refresher) Refresh(ctx context.Context, sub adapter.Subject) (model.Auth, error) {
	saID := sub.Service.ID

	r.mu.Lock()
	if call, ok := r.inFlight[saID]; ok {
		r.mu.Unlock()
		select {
		case <-call.done:
			return call.auth, call.err
		case <-ctx.Done():
			return model.Auth{}, ctx.Err()
		}
	}
	call := &refreshCall{done: make(chan struct{})}
	r.inFlight[saID] = call
	r.mu.Unlock()

	call.auth, call.err = r.doRefresh(ctx, sub)
	close(call.done)

	r.mu.Lock()
	delete(r.inFlight, saID)
	r.mu.Unlock()

	return call.auth, call.err
}

func (r *Refresher) doRefresh(ctx context.Context, sub adapter.Subject) (model.Auth, error) {
	kind := sub.Service.Kind
	strategy, ok := r.strategies[kind]
	if !ok {
		refreshTotal.WithLabelValues(string(kind), "unsupported").Inc()
		return model.Auth{}, fmt.Errorf("вид сервиса %s: %w", kind, ErrReauthenticationRequired)
	}

	r.logger.Info("Обновление учётных данных",
		slog.String("service_account", sub.Service.ID),
		slog.String("kind", string(kind)),
	)

	auth, err := strategy.Refresh(ctx, sub)
	if err != nil {
		status := "error"
		if errors.Is(err, ErrReauthenticationRequired) {
			status = "reauth_required"
		}
		refreshTotal.WithLabelValues(string(kind), status).Inc()
		r.logger.Warn("Обновление учётных данных не удалось",
			slog.String("service_account", sub.Service.ID),
			slog.String("error", err.Error()),
		)
		return model.Auth{}, err
	}

	if err := r.writer.UpdateAuth(sub.AccountID, sub.Service.ID, auth); err != nil {
		refreshTotal.WithLabelValues(string(kind), "persist_error").Inc()
		return model.Auth{}, fmt.Errorf("ошибка сохранения учётных данных: %w", err)
	}

	refreshTotal.WithLabelValues(string(kind), "ok").Inc()
	r.logger.Info("Учётные данные обновлены",
		slog.String("service_account", sub.Service.ID),
		slog.Any("auth", auth),
	)
	return auth, nil
}

// jwtExpiry извлекает exp из JWT без проверки подписи.
// Подпись проверяет выдавший бэкенд; клиенту нужен только срок жизни.
// Возвращает нулевое время, если токен не JWT или exp отсутствует.
func jwtExpiry(token string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}
