// Пакет adapter — контракт адаптеров школьных сервисов.
//
// Каждый бэкенд инкапсулирован в собственный адаптер, переводящий
// родной протокол сервиса в доменную модель. Набор возможностей
// фиксирован; конкретный адаптер реализует только поддерживаемое
// подмножество: неподдерживаемые операции отсутствуют в его наборе
// интерфейсов, а не бросают ошибку (interface upgrade, диспетчер
// проверяет поддержку type assertion'ом).
package adapter

import (
	"context"
	"errors"
	"net/http"

	"github.com/bigkaa/edusync/internal/domain/model"
)

// Ошибки адаптеров. Транспортные и парсинговые ошибки бэкендов
// заворачиваются в общие виды, а не протекают наружу.
var (
	// ErrAuthentication — сервис отклонил текущие учётные данные.
	// Диспетчер реагирует ровно одним циклом refresh-and-retry.
	ErrAuthentication = errors.New("сервис отклонил учётные данные")
	// ErrCacheOnlyData — мутация сущности из кэша без живой ссылки бэкенда.
	ErrCacheOnlyData = errors.New("сущность из кэша не имеет живой ссылки бэкенда")
	// ErrNotFound — сущность не найдена на сервисе.
	ErrNotFound = errors.New("сущность не найдена на сервисе")
)

// Subject — контекст выборки: чей аккаунт и какими учётными данными.
// Адаптер штампует Origin сущностей из этих полей.
type Subject struct {
	// AccountID — ID аккаунта-получателя (для CreatedByAccount)
	AccountID string
	// Service — ServiceAccount, чьи Auth используются для запросов
	Service *model.ServiceAccount
}

// Adapter — общий контракт адаптера одного вида сервиса.
type Adapter interface {
	// Kind возвращает вид сервиса адаптера.
	Kind() model.ServiceKind
	// Capabilities возвращает набор возможностей бэкенда.
	Capabilities() model.CapabilitySet
}

// GradesFetcher — выборка оценок.
type GradesFetcher interface {
	FetchGrades(ctx context.Context, sub Subject) ([]model.Grade, error)
}

// PeriodsFetcher — выборка учебных периодов.
type PeriodsFetcher interface {
	FetchPeriods(ctx context.Context, sub Subject) ([]model.Period, error)
}

// HomeworkFetcher — выборка домашних заданий недельного окна.
// Перевод абсолютных дат в родную нумерацию недель бэкенда —
// ответственность адаптера.
type HomeworkFetcher interface {
	FetchHomeworks(ctx context.Context, sub Subject, week model.Week) ([]model.Homework, error)
}

// HomeworkMutator — отметка выполнения домашнего задания.
// Обязан вернуть ErrCacheOnlyData для сущности из кэша без живой ссылки.
type HomeworkMutator interface {
	SetHomeworkDone(ctx context.Context, sub Subject, hw model.Homework, done bool) error
}

// NewsFetcher — выборка новостей. Результат отсортирован
// по времени публикации по убыванию.
type NewsFetcher interface {
	FetchNews(ctx context.Context, sub Subject) ([]model.News, error)
}

// NewsMutator — отметка новости прочитанной.
// Обязан вернуть ErrCacheOnlyData для сущности из кэша без живой ссылки.
type NewsMutator interface {
	SetNewsAcknowledged(ctx context.Context, sub Subject, news model.News) error
}

// TimetableFetcher — выборка расписания недельного окна.
type TimetableFetcher interface {
	FetchTimetable(ctx context.Context, sub Subject, week model.Week) ([]model.Lesson, error)
}

// CanteenMenuFetcher — выборка меню столовой недельного окна.
type CanteenMenuFetcher interface {
	FetchCanteenMenu(ctx context.Context, sub Subject, week model.Week) ([]model.CanteenMenu, error)
}

// BalanceFetcher — выборка балансов столовой.
type BalanceFetcher interface {
	FetchBalances(ctx context.Context, sub Subject) ([]model.Balance, error)
}

// QRCodeFetcher — выборка QR-кода доступа.
type QRCodeFetcher interface {
	FetchQRCode(ctx context.Context, sub Subject) (model.QRCode, error)
}

// IsAuthStatus сообщает, означает ли HTTP-статус отклонение учётных данных.
func IsAuthStatus(code int) bool {
	return code == http.StatusUnauthorized || code == http.StatusForbidden
}

// Registry — таблица вид сервиса → адаптер.
// Добавление бэкенда = одна запись таблицы, диспетчер не меняется.
type Registry struct {
	adapters map[model.ServiceKind]Adapter
}

// NewRegistry создаёт реестр адаптеров.
func NewRegistry(adapters ...Adapter) *Registry {
	m := make(map[model.ServiceKind]Adapter, len(adapters))
	for _, a := range adapters {
		m[a.Kind()] = a
	}
	return &Registry{adapters: m}
}

// ForKind возвращает адаптер вида сервиса или (nil, false).
func (r *Registry) ForKind(kind model.ServiceKind) (Adapter, bool) {
	a, ok := r.adapters[kind]
	return a, ok
}
