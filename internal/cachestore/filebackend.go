// filebackend.go — файловый бэкенд локального кэша.
// Одно значение ключа = один JSON-файл в директории кэша.
// Все записи атомарны: temp файл → fsync → rename, поэтому
// crash-durability гарантирована к моменту возврата Put.
package cachestore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// cacheFileSuffix — суффикс файлов значений кэша.
const cacheFileSuffix = ".cache.json"

// FileBackend — долговременное key-value хранилище на файловой системе.
type FileBackend struct {
	// dir — корневая директория кэша (ES_CACHE_DIR)
	dir string
}

// NewFileBackend создаёт файловый бэкенд. Проверяет и создаёт
// директорию, если она не существует.
func NewFileBackend(dir string) (*FileBackend, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию кэша %s: %w", dir, err)
	}
	return &FileBackend{dir: dir}, nil
}

// Get возвращает значение ключа или (nil, false, nil) при отсутствии.
func (b *FileBackend) Get(key string) ([]byte, bool, error) {
	data, err := os.ReadFile(b.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("чтение файла кэша %s: %w", key, err)
	}
	return data, true, nil
}

// Put атомарно записывает значение ключа: temp → fsync → rename.
func (b *FileBackend) Put(key string, value []byte) error {
	path := b.path(key)
	tmpPath := path + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	if _, err := f.Write(value); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка записи: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return nil
}

// Delete удаляет значение ключа. Отсутствие файла — не ошибка.
func (b *FileBackend) Delete(key string) error {
	err := os.Remove(b.path(key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("удаление файла кэша %s: %w", key, err)
	}
	return nil
}

// path возвращает путь файла значения для ключа.
func (b *FileBackend) path(key string) string {
	return filepath.Join(b.dir, sanitizeKey(key)+cacheFileSuffix)
}

// sanitizeKey приводит ключ к безопасному имени файла.
// Ключи кэша состоят из UUID, видов сущностей и идентификаторов недель,
// но на всякий случай всё вне [a-zA-Z0-9._-] заменяется на '_'.
func sanitizeKey(key string) string {
	var sb strings.Builder
	for _, r := range key {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '-' || r == '_' || r == '.' {
			sb.WriteRune(r)
		} else {
			sb.WriteByte('_')
		}
	}
	return sb.String()
}
