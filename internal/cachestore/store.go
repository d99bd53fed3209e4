// Пакет cachestore — offline-first локальный кэш доменных сущностей.
//
// Единица хранения и инвалидации — Cache Key:
// (аккаунт, сервис, вид сущности, временное окно). Запись всегда
// полностью заменяет прежнее значение ключа; свежесть разрешается
// на уровне одной выборки, не отдельной сущности.
//
// Перед бэкендом стоит LRU-кэш чтения с TTL
// (hashicorp/golang-lru/v2/expirable). Записи по одному ключу
// сериализуются per-key мьютексом: запись вместе с вычислением diff
// завершается до применения следующей записи того же ключа.
package cachestore

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/edusync/internal/domain/model"
)

// Prometheus-метрики кэша.
var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "edusync_cache_hits_total",
		Help: "Общее количество попаданий в LRU-кэш чтения.",
	})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "edusync_cache_misses_total",
		Help: "Общее количество промахов LRU-кэша чтения.",
	})
	cacheWritesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "edusync_cache_writes_total",
		Help: "Общее количество записей в локальный кэш.",
	})
)

// Key — составной ключ локального кэша.
type Key struct {
	// AccountID — ID аккаунта
	AccountID string
	// ServiceAccountID — ID ServiceAccount-источника
	ServiceAccountID string
	// Kind — вид сущности
	Kind model.EntityKind
	// Window — идентификатор временного окна (ISO-неделя или ID периода);
	// пустой для вневременных видов (новости, балансы)
	Window string
}

// String возвращает каноническую строковую форму ключа.
// Используется как ключ бэкенда хранения.
func (k Key) String() string {
	if k.Window == "" {
		return fmt.Sprintf("%s_%s_%s", k.AccountID, k.ServiceAccountID, k.Kind)
	}
	return fmt.Sprintf("%s_%s_%s_%s", k.AccountID, k.ServiceAccountID, k.Kind, k.Window)
}

// Backend — низлежащее долговременное key-value хранилище.
// Put обязан обеспечивать crash-durability к моменту возврата.
type Backend interface {
	// Get возвращает значение ключа или (nil, false, nil) при отсутствии.
	Get(key string) ([]byte, bool, error)
	// Put записывает значение ключа (полная замена).
	Put(key string, value []byte) error
	// Delete удаляет ключ. Отсутствие ключа — не ошибка.
	Delete(key string) error
}

// envelope — формат хранимого значения: сущности + время выборки.
type envelope struct {
	FetchedAt time.Time       `json:"fetched_at"`
	Items     json.RawMessage `json:"items"`
}

// Store — локальный кэш поверх долговременного бэкенда.
type Store struct {
	backend Backend
	lru     *expirable.LRU[string, []byte]
	logger  *slog.Logger

	// Per-key мьютексы для сериализации записей одного ключа.
	// Карта не чистится: удаление мьютекса, на котором ждёт другая
	// горутина, позволило бы двум записям одного ключа идти
	// параллельно. Рост ограничен числом различных ключей
	// (аккаунты x виды x окна).
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New создаёт Store поверх бэкенда.
// lruSize — максимальное количество записей LRU-кэша чтения.
// lruTTL — время жизни записи LRU после добавления.
func New(backend Backend, lruSize int, lruTTL time.Duration, logger *slog.Logger) *Store {
	return &Store{
		backend: backend,
		lru:     expirable.NewLRU[string, []byte](lruSize, nil, lruTTL),
		locks:   make(map[string]*sync.Mutex),
		logger:  logger.With(slog.String("component", "cachestore")),
	}
}

// keyLock возвращает мьютекс записи для ключа (создаёт при первом обращении).
func (s *Store) keyLock(key string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

// readRaw читает сырое значение ключа: сначала LRU, затем бэкенд.
func (s *Store) readRaw(key Key) ([]byte, bool, error) {
	ks := key.String()

	if data, ok := s.lru.Get(ks); ok {
		cacheHitsTotal.Inc()
		return data, true, nil
	}
	cacheMissesTotal.Inc()

	data, ok, err := s.backend.Get(ks)
	if err != nil {
		return nil, false, fmt.Errorf("чтение кэша %s: %w", ks, err)
	}
	if !ok {
		return nil, false, nil
	}

	s.lru.Add(ks, data)
	return data, true, nil
}

// writeRaw записывает сырое значение ключа в бэкенд и LRU.
// Вызывается под keyLock.
func (s *Store) writeRaw(key Key, data []byte) error {
	ks := key.String()
	if err := s.backend.Put(ks, data); err != nil {
		return fmt.Errorf("запись кэша %s: %w", ks, err)
	}
	s.lru.Add(ks, data)
	cacheWritesTotal.Inc()
	return nil
}

// Invalidate удаляет ключ из кэша и бэкенда.
func (s *Store) Invalidate(key Key) error {
	lock := s.keyLock(key.String())
	lock.Lock()
	defer lock.Unlock()

	s.lru.Remove(key.String())
	if err := s.backend.Delete(key.String()); err != nil {
		return fmt.Errorf("инвалидация кэша %s: %w", key, err)
	}
	return nil
}

// Read возвращает кэшированные сущности ключа.
// Второй результат false — запись отсутствует.
// Каждая возвращённая сущность помечена FromCache.
func Read[T model.Entity](s *Store, key Key) ([]T, bool, error) {
	data, ok, err := s.readRaw(key)
	if err != nil || !ok {
		return nil, false, err
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, false, fmt.Errorf("десериализация кэша %s: %w", key, err)
	}

	var items []T
	if err := json.Unmarshal(env.Items, &items); err != nil {
		return nil, false, fmt.Errorf("десериализация сущностей %s: %w", key, err)
	}

	// Сущности из кэша не имеют живой ссылки бэкенда
	for i := range items {
		if fc, ok := any(&items[i]).(interface{ MarkFromCache() }); ok {
			fc.MarkFromCache()
		}
	}

	return items, true, nil
}

// Write полностью заменяет значение ключа новым набором сущностей.
func Write[T model.Entity](s *Store, key Key, items []T) error {
	lock := s.keyLock(key.String())
	lock.Lock()
	defer lock.Unlock()

	return write(s, key, items)
}

// Diff возвращает сущности из incoming, чьей identity нет в текущем
// кэшированном наборе ключа. Кэш не модифицируется.
func Diff[T model.Entity](s *Store, key Key, incoming []T) ([]T, error) {
	current, _, err := Read[T](s, key)
	if err != nil {
		return nil, err
	}
	return diffAgainst(current, incoming), nil
}

// WriteDiff атомарно (в пределах ключа) вычисляет diff и заменяет
// значение ключа. Возвращает добавленные сущности — вход для решения
// об уведомлении пользователя внешним коллаборатором.
func WriteDiff[T model.Entity](s *Store, key Key, incoming []T) (added []T, err error) {
	lock := s.keyLock(key.String())
	lock.Lock()
	defer lock.Unlock()

	current, _, err := Read[T](s, key)
	if err != nil {
		return nil, err
	}
	added = diffAgainst(current, incoming)

	if err := write(s, key, incoming); err != nil {
		return nil, err
	}
	return added, nil
}

// write сериализует и записывает набор сущностей. Вызывается под keyLock.
func write[T model.Entity](s *Store, key Key, items []T) error {
	raw, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("сериализация сущностей %s: %w", key, err)
	}

	data, err := json.Marshal(envelope{
		FetchedAt: time.Now().UTC(),
		Items:     raw,
	})
	if err != nil {
		return fmt.Errorf("сериализация кэша %s: %w", key, err)
	}

	return s.writeRaw(key, data)
}

// diffAgainst возвращает элементы incoming, отсутствующие в current
// по Identity. Порядок incoming сохраняется.
func diffAgainst[T model.Entity](current, incoming []T) []T {
	known := make(map[string]struct{}, len(current))
	for _, item := range current {
		known[item.Identity()] = struct{}{}
	}

	var added []T
	for _, item := range incoming {
		if _, ok := known[item.Identity()]; !ok {
			added = append(added, item)
		}
	}
	return added
}
