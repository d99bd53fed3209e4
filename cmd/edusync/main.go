// main.go — точка входа агента edusync.
// Собирает ядро синхронизации (реестр, кэш, адаптеры, обновление
// учётных данных, диспетчер, планировщик) и поднимает HTTP-поверхность.
package main

import (
	"context"
	"log"
	"log/slog"

	"github.com/bigkaa/edusync/internal/adapter"
	"github.com/bigkaa/edusync/internal/adapter/canteen"
	"github.com/bigkaa/edusync/internal/adapter/enta"
	"github.com/bigkaa/edusync/internal/adapter/univ"
	"github.com/bigkaa/edusync/internal/api/handlers"
	"github.com/bigkaa/edusync/internal/api/middleware"
	"github.com/bigkaa/edusync/internal/authrefresh"
	"github.com/bigkaa/edusync/internal/cachestore"
	"github.com/bigkaa/edusync/internal/config"
	"github.com/bigkaa/edusync/internal/database"
	"github.com/bigkaa/edusync/internal/domain/model"
	"github.com/bigkaa/edusync/internal/manager"
	"github.com/bigkaa/edusync/internal/registry"
	"github.com/bigkaa/edusync/internal/scheduler"
	"github.com/bigkaa/edusync/internal/server"
)

// logNotifier — уведомления о новых сущностях в лог агента.
// Headless-агент не показывает push-уведомлений; факт появления новых
// данных фиксируется структурированной записью.
type logNotifier struct {
	logger *slog.Logger
}

func (n *logNotifier) NotifyAdded(key cachestore.Key, added []model.Entity) {
	n.logger.Info("Обнаружены новые данные",
		slog.String("account", key.AccountID),
		slog.String("kind", string(key.Kind)),
		slog.String("window", key.Window),
		slog.Int("count", len(added)),
	)
}

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}

	// 2. Настройка логгера
	logger := config.SetupLogger(cfg)
	logger.Info("edusync запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("cache_backend", cfg.CacheBackend),
	)

	// 3. Бэкенд локального кэша
	var (
		backend cachestore.Backend
		checker handlers.ReadinessChecker
	)
	switch cfg.CacheBackend {
	case config.CacheBackendPostgres:
		if err := database.Migrate(cfg, logger); err != nil {
			log.Fatalf("Ошибка миграций: %v", err)
		}
		pool, err := database.Connect(context.Background(), cfg, logger)
		if err != nil {
			log.Fatalf("Ошибка подключения к PostgreSQL: %v", err)
		}
		defer pool.Close()
		backend = cachestore.NewPGBackend(pool)
		checker = database.NewReadinessChecker(pool)
	default:
		fb, err := cachestore.NewFileBackend(cfg.CacheDir)
		if err != nil {
			log.Fatalf("Ошибка создания файлового кэша: %v", err)
		}
		backend = fb
	}
	store := cachestore.New(backend, cfg.CacheLRUSize, cfg.CacheLRUTTL, logger)

	// 4. Реестр аккаунтов
	reg, err := registry.New(cfg.AccountsFile, logger)
	if err != nil {
		log.Fatalf("Ошибка загрузки реестра аккаунтов: %v", err)
	}

	// 5. Адаптеры и стратегии обновления учётных данных.
	// ENT A включён всегда (URL инстанса хранится в Auth);
	// университет и столовая — только при заданных URL.
	adapters := []adapter.Adapter{enta.New(cfg.AdapterTimeout, logger)}
	strategies := []authrefresh.Strategy{authrefresh.NewEntAlphaStrategy(cfg.AdapterTimeout, logger)}

	if cfg.UnivPortalURL != "" {
		adapters = append(adapters, univ.New(cfg.UnivPortalURL, cfg.AdapterTimeout, logger))
		strategies = append(strategies, authrefresh.NewUniversityStrategy(cfg.UnivPortalURL, cfg.AdapterTimeout, logger))
	}
	if cfg.CanteenBaseURL != "" {
		adapters = append(adapters, canteen.New(cfg.CanteenBaseURL, cfg.AdapterTimeout, logger))
		strategies = append(strategies, authrefresh.NewCanteenStrategy(cfg.CanteenBaseURL, cfg.AdapterTimeout, logger))
	}

	refresher := authrefresh.New(reg, logger, strategies...)

	// 6. Диспетчер операций данных
	mgr := manager.New(reg, adapter.NewRegistry(adapters...), store, refresher,
		&logNotifier{logger: logger.With(slog.String("component", "notifier"))}, logger)

	// 7. Планировщик предвыборки
	sched := scheduler.New(mgr, cfg.BackfillBatchSize, cfg.BackfillInterval, logger)
	sched.Start()
	defer sched.Stop()

	// 8. HTTP-поверхность агента
	healthHandler := handlers.NewHealthHandler(checker)
	apiHandler := handlers.NewAPIHandler(healthHandler, mgr, sched, reg, logger)

	srv := server.New(cfg, logger, apiHandler,
		middleware.MetricsMiddleware(),
		middleware.RequestLogger(logger),
	)

	// 9. Запуск сервера (блокирующий вызов с graceful shutdown)
	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		log.Fatalf("Сервер завершился с ошибкой: %v", err)
	}

	logger.Info("edusync остановлен")
}
