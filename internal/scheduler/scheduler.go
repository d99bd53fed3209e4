// Пакет scheduler — пакетная предвыборка недельных окон.
// Диапазон дат разбивается на ISO-недели, недели — на пакеты
// фиксированного размера; окна пакета выбираются конкурентно
// с ограничением параллелизма. Отказ одного окна не прерывает
// остальные: он логируется и учитывается метрикой.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/edusync/internal/domain/model"
	"github.com/bigkaa/edusync/internal/manager"
)

// Максимальное число конкурентных выборок окон внутри пакета.
const maxConcurrency = 5

// Горизонт периодической предвыборки от текущей даты.
const refreshHorizon = 21 * 24 * time.Hour

var backfillWindowsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "edusync_backfill_windows_total",
		Help: "Число обработанных окон предвыборки по результату.",
	},
	[]string{"status"},
)

// Fetcher — операции диспетчера, нужные предвыборке.
type Fetcher interface {
	Homeworks(ctx context.Context, week model.Week) ([]model.Homework, error)
	Timetable(ctx context.Context, week model.Week) ([]model.Lesson, error)
	CanteenMenu(ctx context.Context, week model.Week) ([]model.CanteenMenu, error)
}

// Scheduler — планировщик пакетной предвыборки.
type Scheduler struct {
	fetcher   Fetcher
	batchSize int
	interval  time.Duration
	logger    *slog.Logger

	stopOnce sync.Once
	stop     chan struct{}
	wg       sync.WaitGroup
}

// New создаёт планировщик. batchSize — окон в пакете,
// interval — период фоновой предвыборки (0 — только ручной Backfill).
func New(fetcher Fetcher, batchSize int, interval time.Duration, logger *slog.Logger) *Scheduler {
	if batchSize < 1 {
		batchSize = 1
	}
	return &Scheduler{
		fetcher:   fetcher,
		batchSize: batchSize,
		interval:  interval,
		logger:    logger.With(slog.String("component", "scheduler")),
		stop:      make(chan struct{}),
	}
}

// Backfill предвыбирает все недельные окна диапазона [start, end].
// Отказы отдельных окон не возвращаются: завершение без ошибки
// означает, что диапазон пройден целиком.
func (s *Scheduler) Backfill(ctx context.Context, start, end time.Time) error {
	weeks := model.WeeksInRange(start, end)
	if len(weeks) == 0 {
		return nil
	}

	s.logger.Info("Запуск предвыборки",
		slog.String("from", weeks[0].String()),
		slog.String("to", weeks[len(weeks)-1].String()),
		slog.Int("windows", len(weeks)),
		slog.Int("batch_size", s.batchSize),
	)

	for i := 0; i < len(weeks); i += s.batchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		batch := weeks[i:min(i+s.batchSize, len(weeks))]
		s.runBatch(ctx, batch)
	}
	return nil
}

// runBatch выбирает окна одного пакета конкурентно.
func (s *Scheduler) runBatch(ctx context.Context, batch []model.Week) {
	var wg sync.WaitGroup
	sem := make(chan struct{}, maxConcurrency)

	for _, week := range batch {
		wg.Add(1)
		sem <- struct{}{}
		go func(week model.Week) {
			defer wg.Done()
			defer func() { <-sem }()
			s.fetchWindow(ctx, week)
		}(week)
	}
	wg.Wait()
}

// fetchWindow выбирает все недельные виды данных одного окна.
// Отсутствие возможности у аккаунта — не отказ.
func (s *Scheduler) fetchWindow(ctx context.Context, week model.Week) {
	failures := 0

	if _, err := s.fetcher.Homeworks(ctx, week); s.countFailure(err, week, "homeworks") {
		failures++
	}
	if _, err := s.fetcher.Timetable(ctx, week); s.countFailure(err, week, "timetable") {
		failures++
	}
	if _, err := s.fetcher.CanteenMenu(ctx, week); s.countFailure(err, week, "canteen_menu") {
		failures++
	}

	if failures > 0 {
		backfillWindowsTotal.WithLabelValues("partial").Inc()
		return
	}
	backfillWindowsTotal.WithLabelValues("ok").Inc()
}

// countFailure логирует отказ выборки окна. Неподдерживаемая
// возможность пропускается молча.
func (s *Scheduler) countFailure(err error, week model.Week, kind string) bool {
	if err == nil || errors.Is(err, manager.ErrUnsupportedCapability) {
		return false
	}
	s.logger.Warn("Отказ выборки окна",
		slog.String("week", week.String()),
		slog.String("kind", kind),
		slog.String("error", err.Error()),
	)
	return true
}

// Start запускает периодическую предвыборку ближайшего горизонта.
func (s *Scheduler) Start() {
	if s.interval <= 0 {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), s.interval)
				now := time.Now()
				if err := s.Backfill(ctx, now, now.Add(refreshHorizon)); err != nil {
					s.logger.Warn("Периодическая предвыборка прервана", slog.String("error", err.Error()))
				}
				cancel()
			case <-s.stop:
				return
			}
		}
	}()
	s.logger.Info("Периодическая предвыборка запущена", slog.Duration("interval", s.interval))
}

// Stop останавливает периодическую предвыборку и ждёт завершения.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.wg.Wait()
}
