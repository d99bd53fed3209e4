// pgbackend.go — PostgreSQL-бэкенд локального кэша.
// Используется в развёртываниях агента с общей БД вместо локальной ФС.
// Одна строка таблицы cache_entries = одно значение Cache Key.
// Чистый SQL через pgx, без ORM.
package cachestore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX — интерфейс выполнения SQL-запросов.
// Реализуется как *pgxpool.Pool, так и pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGBackend — долговременное key-value хранилище в PostgreSQL.
type PGBackend struct {
	db DBTX
}

// NewPGBackend создаёт PostgreSQL-бэкенд поверх пула подключений.
// Схема (таблица cache_entries) применяется миграциями internal/database.
func NewPGBackend(db DBTX) *PGBackend {
	return &PGBackend{db: db}
}

// Get возвращает значение ключа или (nil, false, nil) при отсутствии.
func (b *PGBackend) Get(key string) ([]byte, bool, error) {
	query := `SELECT payload FROM cache_entries WHERE cache_key = $1`

	var payload []byte
	err := b.db.QueryRow(context.Background(), query, key).Scan(&payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("ошибка чтения записи кэша: %w", err)
	}
	return payload, true, nil
}

// Put записывает значение ключа (upsert, полная замена).
func (b *PGBackend) Put(key string, value []byte) error {
	query := `
		INSERT INTO cache_entries (cache_key, payload, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (cache_key)
		DO UPDATE SET payload = EXCLUDED.payload, updated_at = now()`

	if _, err := b.db.Exec(context.Background(), query, key, value); err != nil {
		return fmt.Errorf("ошибка записи записи кэша: %w", err)
	}
	return nil
}

// Delete удаляет значение ключа. Отсутствие строки — не ошибка.
func (b *PGBackend) Delete(key string) error {
	query := `DELETE FROM cache_entries WHERE cache_key = $1`

	if _, err := b.db.Exec(context.Background(), query, key); err != nil {
		return fmt.Errorf("ошибка удаления записи кэша: %w", err)
	}
	return nil
}
