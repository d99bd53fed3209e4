package cachestore

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/bigkaa/edusync/internal/config"
	"github.com/bigkaa/edusync/internal/database"
	"github.com/bigkaa/edusync/internal/domain/model"
)

// setupTestDB запускает PostgreSQL контейнер, применяет миграции.
// Возвращает pgxpool.Pool с автоматической очисткой.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()

	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("Пропуск интеграционного теста: TEST_INTEGRATION не установлена")
	}

	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"docker.io/postgres:17-alpine",
		postgres.WithDatabase("edusync_test"),
		postgres.WithUsername("edusync"),
		postgres.WithPassword("test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("Не удалось запустить PostgreSQL контейнер: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Ошибка остановки контейнера: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Не удалось получить host контейнера: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Не удалось получить port контейнера: %v", err)
	}

	// Настраиваем env для config.Load()
	os.Setenv("ES_CACHE_BACKEND", "postgres")
	os.Setenv("ES_DB_HOST", host)
	os.Setenv("ES_DB_PORT", port.Port())
	os.Setenv("ES_DB_NAME", "edusync_test")
	os.Setenv("ES_DB_USER", "edusync")
	os.Setenv("ES_DB_PASSWORD", "test-password")
	os.Setenv("ES_DB_SSL_MODE", "disable")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	if err := database.Migrate(cfg, logger); err != nil {
		t.Fatalf("Ошибка миграций: %v", err)
	}

	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("Ошибка подключения: %v", err)
	}
	t.Cleanup(func() { pool.Close() })

	return pool
}

// TestPGBackend_PutGetDelete проверяет цикл Put/Get/Delete в PostgreSQL.
func TestPGBackend_PutGetDelete(t *testing.T) {
	pool := setupTestDB(t)
	backend := NewPGBackend(pool)

	_, ok, err := backend.Get("missing")
	if err != nil {
		t.Fatalf("Get ошибка: %v", err)
	}
	if ok {
		t.Fatal("ожидалось отсутствие значения для нового ключа")
	}

	if err := backend.Put("k1", []byte(`{"items":[]}`)); err != nil {
		t.Fatalf("Put ошибка: %v", err)
	}

	data, ok, err := backend.Get("k1")
	if err != nil {
		t.Fatalf("Get ошибка: %v", err)
	}
	if !ok || string(data) != `{"items":[]}` {
		t.Fatalf("Get = (%q, %v), ожидалось записанное значение", data, ok)
	}

	// Upsert — полная замена
	if err := backend.Put("k1", []byte(`{"items":[1]}`)); err != nil {
		t.Fatalf("повторный Put ошибка: %v", err)
	}
	data, _, _ = backend.Get("k1")
	if string(data) != `{"items":[1]}` {
		t.Fatalf("upsert не заменил значение: %q", data)
	}

	if err := backend.Delete("k1"); err != nil {
		t.Fatalf("Delete ошибка: %v", err)
	}
	if _, ok, _ := backend.Get("k1"); ok {
		t.Fatal("значение осталось после Delete")
	}
}

// TestPGBackend_Store проверяет Store поверх PostgreSQL-бэкенда:
// запись, чтение, diff.
func TestPGBackend_Store(t *testing.T) {
	pool := setupTestDB(t)
	s := New(NewPGBackend(pool), 128, 5*time.Minute, slog.Default())

	key := Key{
		AccountID:        "acc-pg",
		ServiceAccountID: "svc-pg",
		Kind:             model.EntityHomeworks,
		Window:           "2024-W37",
	}

	hw := model.Homework{
		Origin:  model.Origin{ID: "hw-1", CreatedByAccount: "acc-pg", ServiceAccountID: "svc-pg"},
		Subject: "maths",
		Content: "Exercices 12-15 p.84",
		Due:     time.Now().UTC().AddDate(0, 0, 3),
	}

	added, err := WriteDiff(s, key, []model.Homework{hw})
	if err != nil {
		t.Fatalf("WriteDiff ошибка: %v", err)
	}
	if len(added) != 1 {
		t.Fatalf("diff = %d сущностей, ожидалась 1", len(added))
	}

	got, ok, err := Read[model.Homework](s, key)
	if err != nil {
		t.Fatalf("Read ошибка: %v", err)
	}
	if !ok || len(got) != 1 || !got[0].FromCache {
		t.Fatalf("Read = (%v, %v), ожидалась одна сущность FromCache", got, ok)
	}
}
