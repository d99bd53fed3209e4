// Пакет config — загрузка и валидация конфигурации edusync
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Бэкенды локального кэша.
const (
	CacheBackendFile     = "file"
	CacheBackendPostgres = "postgres"
)

// Config содержит все параметры конфигурации edusync-агента.
type Config struct {
	// --- Сервер агента ---

	// Порт HTTP-сервера агента (health, metrics, управление)
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- HTTP Server Timeouts ---

	// Таймаут чтения HTTP-сервера (по умолчанию 30s)
	HTTPReadTimeout time.Duration
	// Таймаут записи HTTP-сервера (по умолчанию 60s)
	HTTPWriteTimeout time.Duration
	// Таймаут простоя HTTP-сервера (по умолчанию 120s)
	HTTPIdleTimeout time.Duration

	// --- Graceful shutdown ---

	// Таймаут graceful shutdown (по умолчанию 5s)
	ShutdownTimeout time.Duration

	// --- Локальный кэш ---

	// Бэкенд хранения кэша: file или postgres
	CacheBackend string
	// Директория файлового кэша (для backend=file)
	CacheDir string
	// Максимальный размер LRU-кэша чтения (записей)
	CacheLRUSize int
	// TTL записи LRU-кэша чтения
	CacheLRUTTL time.Duration

	// --- PostgreSQL (для backend=postgres) ---

	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string

	// --- Реестр аккаунтов ---

	// Путь к файлу реестра аккаунтов (accounts.json)
	AccountsFile string

	// --- Адаптеры ---

	// Таймаут HTTP-запросов к школьным сервисам
	AdapterTimeout time.Duration
	// Базовый URL университетского портала
	// (пусто — адаптер университета не регистрируется)
	UnivPortalURL string
	// Базовый URL API системы оплаты столовой
	// (пусто — адаптер столовой не регистрируется)
	CanteenBaseURL string

	// --- Планировщик backfill ---

	// Размер батча недельных окон (фиксированная настройка, не выводится)
	BackfillBatchSize int
	// Интервал периодического backfill (0 — только по запросу)
	BackfillInterval time.Duration
}

// Load загружает конфигурацию из переменных окружения.
// Возвращает ошибку, если обязательные переменные не заданы
// или значения некорректны.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	// ES_PORT — порт HTTP-сервера агента (по умолчанию 8060)
	cfg.Port, err = getEnvInt("ES_PORT", 8060)
	if err != nil {
		return nil, fmt.Errorf("ES_PORT: %w", err)
	}

	// ES_LOG_LEVEL — уровень логирования (по умолчанию info)
	logLevel := getEnvDefault("ES_LOG_LEVEL", "info")
	cfg.LogLevel, err = parseLogLevel(logLevel)
	if err != nil {
		return nil, fmt.Errorf("ES_LOG_LEVEL: %w", err)
	}

	// ES_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("ES_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("ES_LOG_FORMAT: недопустимый формат %q, допустимые: json, text", cfg.LogFormat)
	}

	// --- HTTP Server Timeouts ---

	// ES_HTTP_READ_TIMEOUT — таймаут чтения (по умолчанию 30s)
	cfg.HTTPReadTimeout, err = getEnvDuration("ES_HTTP_READ_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("ES_HTTP_READ_TIMEOUT: %w", err)
	}

	// ES_HTTP_WRITE_TIMEOUT — таймаут записи (по умолчанию 60s)
	cfg.HTTPWriteTimeout, err = getEnvDuration("ES_HTTP_WRITE_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("ES_HTTP_WRITE_TIMEOUT: %w", err)
	}

	// ES_HTTP_IDLE_TIMEOUT — таймаут простоя (по умолчанию 120s)
	cfg.HTTPIdleTimeout, err = getEnvDuration("ES_HTTP_IDLE_TIMEOUT", 120*time.Second)
	if err != nil {
		return nil, fmt.Errorf("ES_HTTP_IDLE_TIMEOUT: %w", err)
	}

	// --- Graceful shutdown ---

	// ES_SHUTDOWN_TIMEOUT — таймаут graceful shutdown (по умолчанию 5s)
	cfg.ShutdownTimeout, err = getEnvDuration("ES_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("ES_SHUTDOWN_TIMEOUT: %w", err)
	}

	// --- Локальный кэш ---

	// ES_CACHE_BACKEND — бэкенд кэша (по умолчанию file)
	cfg.CacheBackend = getEnvDefault("ES_CACHE_BACKEND", CacheBackendFile)
	if cfg.CacheBackend != CacheBackendFile && cfg.CacheBackend != CacheBackendPostgres {
		return nil, fmt.Errorf("ES_CACHE_BACKEND: недопустимое значение %q, допустимые: file, postgres", cfg.CacheBackend)
	}

	// ES_CACHE_DIR — директория файлового кэша (по умолчанию ./data/cache)
	cfg.CacheDir = getEnvDefault("ES_CACHE_DIR", "./data/cache")

	// ES_CACHE_LRU_SIZE — размер LRU-кэша чтения (по умолчанию 512)
	cfg.CacheLRUSize, err = getEnvInt("ES_CACHE_LRU_SIZE", 512)
	if err != nil {
		return nil, fmt.Errorf("ES_CACHE_LRU_SIZE: %w", err)
	}

	// ES_CACHE_LRU_TTL — TTL записи LRU-кэша чтения (по умолчанию 5m)
	cfg.CacheLRUTTL, err = getEnvDuration("ES_CACHE_LRU_TTL", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("ES_CACHE_LRU_TTL: %w", err)
	}

	// --- PostgreSQL ---

	cfg.DBHost = getEnvDefault("ES_DB_HOST", "localhost")
	cfg.DBPort, err = getEnvInt("ES_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("ES_DB_PORT: %w", err)
	}
	cfg.DBName = getEnvDefault("ES_DB_NAME", "edusync")
	cfg.DBUser = getEnvDefault("ES_DB_USER", "edusync")
	cfg.DBPassword = os.Getenv("ES_DB_PASSWORD")
	cfg.DBSSLMode = getEnvDefault("ES_DB_SSL_MODE", "disable")

	// Пароль обязателен только при postgres-бэкенде
	if cfg.CacheBackend == CacheBackendPostgres && cfg.DBPassword == "" {
		return nil, fmt.Errorf("ES_DB_PASSWORD: обязательная переменная окружения не задана при ES_CACHE_BACKEND=postgres")
	}

	// --- Реестр аккаунтов ---

	// ES_ACCOUNTS_FILE — путь к accounts.json (по умолчанию ./data/accounts.json)
	cfg.AccountsFile = getEnvDefault("ES_ACCOUNTS_FILE", "./data/accounts.json")

	// --- Адаптеры ---

	// ES_ADAPTER_TIMEOUT — таймаут запросов к школьным сервисам (по умолчанию 30s)
	cfg.AdapterTimeout, err = getEnvDuration("ES_ADAPTER_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("ES_ADAPTER_TIMEOUT: %w", err)
	}

	// ES_UNIV_PORTAL_URL — базовый URL университетского портала
	cfg.UnivPortalURL = os.Getenv("ES_UNIV_PORTAL_URL")

	// ES_CANTEEN_URL — базовый URL API системы оплаты столовой
	cfg.CanteenBaseURL = os.Getenv("ES_CANTEEN_URL")

	// --- Планировщик backfill ---

	// ES_BACKFILL_BATCH_SIZE — размер батча недельных окон (по умолчанию 6)
	cfg.BackfillBatchSize, err = getEnvInt("ES_BACKFILL_BATCH_SIZE", 6)
	if err != nil {
		return nil, fmt.Errorf("ES_BACKFILL_BATCH_SIZE: %w", err)
	}
	if cfg.BackfillBatchSize < 1 {
		return nil, fmt.Errorf("ES_BACKFILL_BATCH_SIZE: значение должно быть >= 1")
	}

	// ES_BACKFILL_INTERVAL — интервал периодического backfill (по умолчанию 0 — выключен)
	cfg.BackfillInterval, err = getEnvDuration("ES_BACKFILL_INTERVAL", 0)
	if err != nil {
		return nil, fmt.Errorf("ES_BACKFILL_INTERVAL: %w", err)
	}

	return cfg, nil
}

// DatabaseDSN возвращает DSN подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
