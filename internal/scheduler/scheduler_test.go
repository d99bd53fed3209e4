package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bigkaa/edusync/internal/domain/model"
	"github.com/bigkaa/edusync/internal/manager"
)

// fakeFetcher — диспетчер с управляемыми отказами и учётом окон.
type fakeFetcher struct {
	mu           sync.Mutex
	weeks        map[string]int
	concurrent   atomic.Int32
	maxObserved  atomic.Int32
	failWeek     string // окно, отвечающее ошибкой
	noCanteenCap bool
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{weeks: make(map[string]int)}
}

func (f *fakeFetcher) track(week model.Week) error {
	cur := f.concurrent.Add(1)
	defer f.concurrent.Add(-1)
	for {
		observed := f.maxObserved.Load()
		if cur <= observed || f.maxObserved.CompareAndSwap(observed, cur) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)

	f.mu.Lock()
	f.weeks[week.String()]++
	f.mu.Unlock()

	if week.String() == f.failWeek {
		return errors.New("бэкенд недоступен")
	}
	return nil
}

func (f *fakeFetcher) Homeworks(ctx context.Context, week model.Week) ([]model.Homework, error) {
	return nil, f.track(week)
}

func (f *fakeFetcher) Timetable(ctx context.Context, week model.Week) ([]model.Lesson, error) {
	return nil, f.track(week)
}

func (f *fakeFetcher) CanteenMenu(ctx context.Context, week model.Week) ([]model.CanteenMenu, error) {
	if f.noCanteenCap {
		return nil, manager.ErrUnsupportedCapability
	}
	return nil, f.track(week)
}

// TestBackfill проверяет покрытие всех окон диапазона.
func TestBackfill(t *testing.T) {
	fetcher := newFakeFetcher()
	s := New(fetcher, 2, 0, slog.Default())

	start := time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 9, 20, 0, 0, 0, 0, time.UTC)
	if err := s.Backfill(context.Background(), start, end); err != nil {
		t.Fatalf("Backfill ошибка: %v", err)
	}

	// 2024-09-01..2024-09-20 покрывает недели W35..W38
	for _, week := range []string{"2024-W35", "2024-W36", "2024-W37", "2024-W38"} {
		fetcher.mu.Lock()
		count := fetcher.weeks[week]
		fetcher.mu.Unlock()
		// три недельных вида данных на окно
		if count != 3 {
			t.Errorf("окно %s выбрано %d раз, ожидалось 3", week, count)
		}
	}
}

// TestBackfill_PartialFailure проверяет, что отказ одного окна
// не прерывает диапазон и не возвращается наружу.
func TestBackfill_PartialFailure(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.failWeek = "2024-W36"
	s := New(fetcher, 2, 0, slog.Default())

	start := time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 9, 20, 0, 0, 0, 0, time.UTC)
	if err := s.Backfill(context.Background(), start, end); err != nil {
		t.Fatalf("отказ окна не должен возвращаться: %v", err)
	}

	// Остальные окна всё равно выбраны
	fetcher.mu.Lock()
	defer fetcher.mu.Unlock()
	if fetcher.weeks["2024-W38"] != 3 {
		t.Error("окна после отказавшего не выбраны")
	}
}

// TestBackfill_UnsupportedSkipped проверяет, что отсутствие возможности
// не считается отказом.
func TestBackfill_UnsupportedSkipped(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.noCanteenCap = true
	s := New(fetcher, 6, 0, slog.Default())

	start := time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC)
	if err := s.Backfill(context.Background(), start, start); err != nil {
		t.Fatalf("Backfill ошибка: %v", err)
	}
}

// TestBackfill_ConcurrencyBound проверяет ограничение параллелизма
// внутри пакета.
func TestBackfill_ConcurrencyBound(t *testing.T) {
	fetcher := newFakeFetcher()
	s := New(fetcher, 20, 0, slog.Default())

	start := time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 12, 20, 0, 0, 0, 0, time.UTC)
	if err := s.Backfill(context.Background(), start, end); err != nil {
		t.Fatalf("Backfill ошибка: %v", err)
	}

	if observed := fetcher.maxObserved.Load(); observed > maxConcurrency {
		t.Errorf("наблюдался параллелизм %d, предел %d", observed, maxConcurrency)
	}
}

// TestBackfill_CanceledContext проверяет прерывание между пакетами.
func TestBackfill_CanceledContext(t *testing.T) {
	fetcher := newFakeFetcher()
	s := New(fetcher, 1, 0, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 12, 20, 0, 0, 0, 0, time.UTC)
	if err := s.Backfill(ctx, start, end); !errors.Is(err, context.Canceled) {
		t.Fatalf("ошибка = %v, ожидалась context.Canceled", err)
	}
}

// TestBackfill_EmptyRange проверяет пустой и перевёрнутый диапазоны.
func TestBackfill_EmptyRange(t *testing.T) {
	fetcher := newFakeFetcher()
	s := New(fetcher, 2, 0, slog.Default())

	start := time.Date(2024, 9, 20, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC)
	if err := s.Backfill(context.Background(), start, end); err != nil {
		t.Fatalf("перевёрнутый диапазон должен быть no-op: %v", err)
	}
	fetcher.mu.Lock()
	defer fetcher.mu.Unlock()
	if len(fetcher.weeks) != 0 {
		t.Errorf("окна выбраны для пустого диапазона: %v", fetcher.weeks)
	}
}

// TestStartStop проверяет периодический запуск и остановку.
func TestStartStop(t *testing.T) {
	fetcher := newFakeFetcher()
	s := New(fetcher, 6, 30*time.Millisecond, slog.Default())

	s.Start()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		fetcher.mu.Lock()
		fetched := len(fetcher.weeks)
		fetcher.mu.Unlock()
		if fetched > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	s.Stop()

	fetcher.mu.Lock()
	defer fetcher.mu.Unlock()
	if len(fetcher.weeks) == 0 {
		t.Error("периодическая предвыборка не выбрала ни одного окна")
	}
}
