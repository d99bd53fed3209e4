// Пакет manager — диспетчер операций данных поверх адаптеров,
// кэша и реестра аккаунтов.
//
// Стратегия чтения cache-first: кэшированный результат возвращается
// сразу, живая выборка уходит в фон; конкурентные запросы одного
// Cache Key схлопываются в одну выборку. Ошибка аутентификации
// бэкенда вызывает ровно один цикл обновления учётных данных
// с повтором операции.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/edusync/internal/adapter"
	"github.com/bigkaa/edusync/internal/authrefresh"
	"github.com/bigkaa/edusync/internal/cachestore"
	"github.com/bigkaa/edusync/internal/domain/model"
	"github.com/bigkaa/edusync/internal/registry"
)

// ErrUnsupportedCapability — ни один сервис аккаунта не поддерживает
// запрошенную операцию (или адаптер вида не зарегистрирован).
// Для чтений отсутствие возможности не ошибка: операция возвращает
// пустой результат; ошибкой она остаётся только для мутаций.
var ErrUnsupportedCapability = errors.New("операция не поддерживается сервисами аккаунта")

// Таймаут фоновой живой выборки после отдачи кэша.
const backgroundRefreshTimeout = 30 * time.Second

var dispatchTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "edusync_dispatch_total",
		Help: "Число операций диспетчера по виду сущности и результату.",
	},
	[]string{"kind", "status"},
)

// Notifier получает добавленные сущности после записи diff в кэш.
// Решение об уведомлении пользователя — ответственность реализации.
type Notifier interface {
	NotifyAdded(key cachestore.Key, added []model.Entity)
}

// inflightCall — одна выполняющаяся живая выборка Cache Key.
type inflightCall struct {
	done chan struct{}
	res  any
	err  error
}

// Manager — диспетчер операций данных.
type Manager struct {
	registry  *registry.Registry
	adapters  *adapter.Registry
	store     *cachestore.Store
	refresher *authrefresh.Refresher
	notifier  Notifier
	logger    *slog.Logger

	mu       sync.Mutex
	inFlight map[string]*inflightCall
}

// New создаёт диспетчер. notifier может быть nil.
func New(
	reg *registry.Registry,
	adapters *adapter.Registry,
	store *cachestore.Store,
	refresher *authrefresh.Refresher,
	notifier Notifier,
	logger *slog.Logger,
) *Manager {
	return &Manager{
		registry:  reg,
		adapters:  adapters,
		store:     store,
		refresher: refresher,
		notifier:  notifier,
		logger:    logger.With(slog.String("component", "manager")),
		inFlight:  make(map[string]*inflightCall),
	}
}

// notifyAdded передаёт добавленные сущности коллаборатору уведомлений.
func (m *Manager) notifyAdded(key cachestore.Key, added []model.Entity) {
	if m.notifier == nil || len(added) == 0 {
		return
	}
	m.notifier.NotifyAdded(key, added)
}

// resolve находит ServiceAccount активного аккаунта для возможности cap
// и его адаптер.
func (m *Manager) resolve(cap model.Capability) (adapter.Subject, adapter.Adapter, error) {
	acc, err := m.registry.ActiveAccount()
	if err != nil {
		return adapter.Subject{}, nil, err
	}
	sa, err := m.registry.ResolveService(acc.ID, cap)
	if err != nil {
		return adapter.Subject{}, nil, fmt.Errorf("%w: %s", ErrUnsupportedCapability, cap)
	}
	ad, ok := m.adapters.ForKind(sa.Kind)
	if !ok {
		return adapter.Subject{}, nil, fmt.Errorf("%w: адаптер %s не зарегистрирован", ErrUnsupportedCapability, sa.Kind)
	}
	return adapter.Subject{AccountID: acc.ID, Service: sa}, ad, nil
}

// fetchShared выполняет живую выборку ключа с дедупликацией:
// конкурентные вызовы одного Cache Key присоединяются к идущей выборке
// и получают её результат.
func fetchShared[T model.Entity](ctx context.Context, m *Manager, key cachestore.Key, doFetch func(context.Context) ([]T, error)) ([]T, error) {
	ks := key.String()

	m.mu.Lock()
	if call, ok := m.inFlight[ks]; ok {
		m.mu.Unlock()
		select {
		case <-call.done:
			if call.err != nil {
				return nil, call.err
			}
			return call.res.([]T), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	call := &inflightCall{done: make(chan struct{})}
	m.inFlight[ks] = call
	m.mu.Unlock()

	items, err := doFetch(ctx)
	call.res, call.err = items, err
	close(call.done)

	m.mu.Lock()
	delete(m.inFlight, ks)
	m.mu.Unlock()

	return items, err
}

// fetchEntities — общий путь операций чтения: разрешение сервиса,
// cache-first отдача, дедуплицированная живая выборка, запись diff.
// force пропускает cache-first отдачу: вызывающий ждёт живую выборку
// даже при тёплом кэше (принудительное обновление).
//
// Ключ кэша фиксируется в момент входа: переключение активного аккаунта
// во время выборки не меняет, куда будет записан результат.
func fetchEntities[T model.Entity](
	ctx context.Context,
	m *Manager,
	cap model.Capability,
	kind model.EntityKind,
	window string,
	force bool,
	fetch func(ctx context.Context, ad adapter.Adapter, sub adapter.Subject) ([]T, error),
) ([]T, error) {
	sub, ad, err := m.resolve(cap)
	if errors.Is(err, ErrUnsupportedCapability) {
		// Возможности нет ни у одного сервиса — чтение отдаёт пусто.
		dispatchTotal.WithLabelValues(string(kind), "unsupported").Inc()
		return nil, nil
	}
	if err != nil {
		dispatchTotal.WithLabelValues(string(kind), "error").Inc()
		return nil, err
	}
	key := cachestore.Key{
		AccountID:        sub.AccountID,
		ServiceAccountID: sub.Service.ID,
		Kind:             kind,
		Window:           window,
	}

	doFetch := func(fctx context.Context) ([]T, error) {
		var live []T
		err := m.withAuthRetry(fctx, sub, func(s adapter.Subject) error {
			items, err := fetch(fctx, ad, s)
			if err != nil {
				return err
			}
			added, err := cachestore.WriteDiff(m.store, key, items)
			if err != nil {
				return err
			}
			m.notifyAdded(key, toEntities(added))
			live = items
			return nil
		})
		if err != nil {
			return nil, err
		}
		return live, nil
	}

	// Кэш есть — отдаём сразу, обновление в фоне. Принудительное
	// обновление минует эту ветку: вызывающий ждёт живую выборку.
	if !force {
		if cached, ok, err := cachestore.Read[T](m.store, key); err == nil && ok {
			dispatchTotal.WithLabelValues(string(kind), "cached").Inc()
			go func() {
				bctx, cancel := context.WithTimeout(context.Background(), backgroundRefreshTimeout)
				defer cancel()
				if _, err := fetchShared(bctx, m, key, doFetch); err != nil {
					m.logger.Warn("Фоновое обновление не удалось",
						slog.String("key", key.String()),
						slog.String("error", err.Error()),
					)
				}
			}()
			return cached, nil
		}
	}

	live, err := fetchShared(ctx, m, key, doFetch)
	if err != nil {
		dispatchTotal.WithLabelValues(string(kind), "error").Inc()
		return nil, err
	}
	dispatchTotal.WithLabelValues(string(kind), "live").Inc()
	return live, nil
}

// toEntities приводит типизированный срез к []model.Entity.
func toEntities[T model.Entity](items []T) []model.Entity {
	out := make([]model.Entity, len(items))
	for i, item := range items {
		out[i] = item
	}
	return out
}

// Grades возвращает оценки активного аккаунта.
func (m *Manager) Grades(ctx context.Context) ([]model.Grade, error) {
	return fetchEntities(ctx, m, model.CapGrades, model.EntityGrades, "", false,
		func(ctx context.Context, ad adapter.Adapter, sub adapter.Subject) ([]model.Grade, error) {
			f, ok := ad.(adapter.GradesFetcher)
			if !ok {
				return nil, fmt.Errorf("%w: %s не отдаёт оценки", ErrUnsupportedCapability, ad.Kind())
			}
			return f.FetchGrades(ctx, sub)
		})
}

// Periods возвращает учебные периоды активного аккаунта.
func (m *Manager) Periods(ctx context.Context) ([]model.Period, error) {
	return fetchEntities(ctx, m, model.CapGrades, model.EntityPeriods, "", false,
		func(ctx context.Context, ad adapter.Adapter, sub adapter.Subject) ([]model.Period, error) {
			f, ok := ad.(adapter.PeriodsFetcher)
			if !ok {
				return nil, fmt.Errorf("%w: %s не отдаёт периоды", ErrUnsupportedCapability, ad.Kind())
			}
			return f.FetchPeriods(ctx, sub)
		})
}

// Homeworks возвращает домашние задания недельного окна.
func (m *Manager) Homeworks(ctx context.Context, week model.Week) ([]model.Homework, error) {
	return m.homeworks(ctx, week, false)
}

// HomeworksLive возвращает задания недельного окна живой выборкой,
// минуя отдачу кэша. Нужна перед мутацией: кэшевая копия теряет
// живую ссылку бэкенда и немутируема.
func (m *Manager) HomeworksLive(ctx context.Context, week model.Week) ([]model.Homework, error) {
	return m.homeworks(ctx, week, true)
}

func (m *Manager) homeworks(ctx context.Context, week model.Week, force bool) ([]model.Homework, error) {
	return fetchEntities(ctx, m, model.CapHomeworks, model.EntityHomeworks, week.String(), force,
		func(ctx context.Context, ad adapter.Adapter, sub adapter.Subject) ([]model.Homework, error) {
			f, ok := ad.(adapter.HomeworkFetcher)
			if !ok {
				return nil, fmt.Errorf("%w: %s не отдаёт домашние задания", ErrUnsupportedCapability, ad.Kind())
			}
			return f.FetchHomeworks(ctx, sub, week)
		})
}

// News возвращает новости активного аккаунта.
func (m *Manager) News(ctx context.Context) ([]model.News, error) {
	return m.news(ctx, false)
}

// NewsLive возвращает новости живой выборкой, минуя отдачу кэша.
func (m *Manager) NewsLive(ctx context.Context) ([]model.News, error) {
	return m.news(ctx, true)
}

func (m *Manager) news(ctx context.Context, force bool) ([]model.News, error) {
	return fetchEntities(ctx, m, model.CapNews, model.EntityNews, "", force,
		func(ctx context.Context, ad adapter.Adapter, sub adapter.Subject) ([]model.News, error) {
			f, ok := ad.(adapter.NewsFetcher)
			if !ok {
				return nil, fmt.Errorf("%w: %s не отдаёт новости", ErrUnsupportedCapability, ad.Kind())
			}
			return f.FetchNews(ctx, sub)
		})
}

// Timetable возвращает расписание недельного окна.
func (m *Manager) Timetable(ctx context.Context, week model.Week) ([]model.Lesson, error) {
	return fetchEntities(ctx, m, model.CapTimetable, model.EntityTimetable, week.String(), false,
		func(ctx context.Context, ad adapter.Adapter, sub adapter.Subject) ([]model.Lesson, error) {
			f, ok := ad.(adapter.TimetableFetcher)
			if !ok {
				return nil, fmt.Errorf("%w: %s не отдаёт расписание", ErrUnsupportedCapability, ad.Kind())
			}
			return f.FetchTimetable(ctx, sub, week)
		})
}

// CanteenMenu возвращает меню столовой недельного окна.
func (m *Manager) CanteenMenu(ctx context.Context, week model.Week) ([]model.CanteenMenu, error) {
	return fetchEntities(ctx, m, model.CapCanteenMenu, model.EntityCanteenMenu, week.String(), false,
		func(ctx context.Context, ad adapter.Adapter, sub adapter.Subject) ([]model.CanteenMenu, error) {
			f, ok := ad.(adapter.CanteenMenuFetcher)
			if !ok {
				return nil, fmt.Errorf("%w: %s не отдаёт меню", ErrUnsupportedCapability, ad.Kind())
			}
			return f.FetchCanteenMenu(ctx, sub, week)
		})
}

// Balances возвращает балансы счетов столовой.
func (m *Manager) Balances(ctx context.Context) ([]model.Balance, error) {
	return fetchEntities(ctx, m, model.CapBalances, model.EntityBalances, "", false,
		func(ctx context.Context, ad adapter.Adapter, sub adapter.Subject) ([]model.Balance, error) {
			f, ok := ad.(adapter.BalanceFetcher)
			if !ok {
				return nil, fmt.Errorf("%w: %s не отдаёт балансы", ErrUnsupportedCapability, ad.Kind())
			}
			return f.FetchBalances(ctx, sub)
		})
}

// QRCode возвращает QR-код доступа. В кэше хранится набором из одного
// элемента, как и остальные виды.
func (m *Manager) QRCode(ctx context.Context) (model.QRCode, error) {
	items, err := fetchEntities(ctx, m, model.CapQRCode, model.EntityQRCode, "", false,
		func(ctx context.Context, ad adapter.Adapter, sub adapter.Subject) ([]model.QRCode, error) {
			f, ok := ad.(adapter.QRCodeFetcher)
			if !ok {
				return nil, fmt.Errorf("%w: %s не отдаёт QR-код", ErrUnsupportedCapability, ad.Kind())
			}
			qr, err := f.FetchQRCode(ctx, sub)
			if err != nil {
				return nil, err
			}
			return []model.QRCode{qr}, nil
		})
	if err != nil {
		return model.QRCode{}, err
	}
	if len(items) == 0 {
		return model.QRCode{}, adapter.ErrNotFound
	}
	return items[0], nil
}

// resolveOrigin находит аккаунт и сервис, породившие сущность.
// Мутация маршрутизируется источнику, а не активному аккаунту.
func (m *Manager) resolveOrigin(o model.Origin) (adapter.Subject, adapter.Adapter, error) {
	acc, err := m.registry.Account(o.CreatedByAccount)
	if err != nil {
		return adapter.Subject{}, nil, err
	}
	sa := acc.ServiceByID(o.ServiceAccountID)
	if sa == nil {
		return adapter.Subject{}, nil, registry.ErrServiceNotFound
	}
	ad, ok := m.adapters.ForKind(sa.Kind)
	if !ok {
		return adapter.Subject{}, nil, fmt.Errorf("%w: адаптер %s не зарегистрирован", ErrUnsupportedCapability, sa.Kind)
	}
	return adapter.Subject{AccountID: acc.ID, Service: sa}, ad, nil
}

// SetHomeworkDone отмечает выполнение задания на бэкенде-источнике
// и оптимистично обновляет кэш недельного окна.
func (m *Manager) SetHomeworkDone(ctx context.Context, hw model.Homework, done bool, week model.Week) error {
	if !hw.Mutable() {
		return adapter.ErrCacheOnlyData
	}
	sub, ad, err := m.resolveOrigin(hw.Origin)
	if err != nil {
		return err
	}
	mut, ok := ad.(adapter.HomeworkMutator)
	if !ok {
		return fmt.Errorf("%w: %s не поддерживает отметку заданий", ErrUnsupportedCapability, ad.Kind())
	}

	if err := m.withAuthRetry(ctx, sub, func(s adapter.Subject) error {
		return mut.SetHomeworkDone(ctx, s, hw, done)
	}); err != nil {
		return err
	}

	key := cachestore.Key{
		AccountID:        sub.AccountID,
		ServiceAccountID: sub.Service.ID,
		Kind:             model.EntityHomeworks,
		Window:           week.String(),
	}
	if items, ok, err := cachestore.Read[model.Homework](m.store, key); err == nil && ok {
		for i := range items {
			if items[i].ID == hw.ID {
				items[i].Done = done
			}
		}
		if err := cachestore.Write(m.store, key, items); err != nil {
			m.logger.Warn("Оптимистичное обновление кэша не удалось",
				slog.String("key", key.String()),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

// SetNewsAcknowledged отмечает новость прочитанной на бэкенде-источнике
// и оптимистично обновляет кэш.
func (m *Manager) SetNewsAcknowledged(ctx context.Context, news model.News) error {
	if !news.Mutable() {
		return adapter.ErrCacheOnlyData
	}
	sub, ad, err := m.resolveOrigin(news.Origin)
	if err != nil {
		return err
	}
	mut, ok := ad.(adapter.NewsMutator)
	if !ok {
		return fmt.Errorf("%w: %s не поддерживает отметку новостей", ErrUnsupportedCapability, ad.Kind())
	}

	if err := m.withAuthRetry(ctx, sub, func(s adapter.Subject) error {
		return mut.SetNewsAcknowledged(ctx, s, news)
	}); err != nil {
		return err
	}

	key := cachestore.Key{
		AccountID:        sub.AccountID,
		ServiceAccountID: sub.Service.ID,
		Kind:             model.EntityNews,
	}
	if items, ok, err := cachestore.Read[model.News](m.store, key); err == nil && ok {
		for i := range items {
			if items[i].ID == news.ID {
				items[i].Acknowledged = true
			}
		}
		if err := cachestore.Write(m.store, key, items); err != nil {
			m.logger.Warn("Оптимистичное обновление кэша не удалось",
				slog.String("key", key.String()),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}
