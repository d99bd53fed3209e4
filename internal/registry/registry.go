// Пакет registry — реестр аккаунтов и активного аккаунта.
// Единственный писатель состояния Auth: адаптеры и диспетчер читают
// учётные данные, но обновляет их только UpdateAuth.
// Состояние переживает перезапуск в JSON-файле (атомарная запись).
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/edusync/internal/domain/model"
)

// Ошибки реестра.
var (
	// ErrAccountNotFound — аккаунт отсутствует в реестре.
	ErrAccountNotFound = errors.New("аккаунт не найден")
	// ErrServiceNotFound — ServiceAccount отсутствует у аккаунта.
	ErrServiceNotFound = errors.New("сервисный аккаунт не найден")
	// ErrNoActiveAccount — активный аккаунт не выбран.
	ErrNoActiveAccount = errors.New("активный аккаунт не выбран")
)

// persistedState — форма сериализации реестра.
type persistedState struct {
	Accounts []*model.Account `json:"accounts"`
	ActiveID string           `json:"active_id,omitempty"`
}

// Registry — потокобезопасный реестр аккаунтов.
type Registry struct {
	mu       sync.RWMutex
	accounts map[string]*model.Account
	order    []string // ID в порядке создания
	activeID string
	path     string
	logger   *slog.Logger
}

// New создаёт реестр и загружает состояние из файла path.
// Отсутствующий файл — не ошибка (первый запуск).
func New(path string, logger *slog.Logger) (*Registry, error) {
	r := &Registry{
		accounts: make(map[string]*model.Account),
		path:     path,
		logger:   logger.With(slog.String("component", "registry")),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			r.logger.Info("Файл аккаунтов отсутствует, реестр пуст", slog.String("path", path))
			return r, nil
		}
		return nil, fmt.Errorf("ошибка чтения файла аккаунтов: %w", err)
	}

	var state persistedState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("ошибка десериализации файла аккаунтов: %w", err)
	}

	for _, acc := range state.Accounts {
		r.accounts[acc.ID] = acc
		r.order = append(r.order, acc.ID)
	}
	// Активный аккаунт восстанавливается, только если он ещё существует.
	if _, ok := r.accounts[state.ActiveID]; ok {
		r.activeID = state.ActiveID
	}

	r.logger.Info("Реестр загружен",
		slog.Int("accounts", len(r.accounts)),
		slog.Bool("has_active", r.activeID != ""),
	)
	return r, nil
}

// persistLocked сохраняет состояние на диск. Вызывается под r.mu.
// Запись атомарна: временный файл, fsync, rename.
func (r *Registry) persistLocked() error {
	state := persistedState{ActiveID: r.activeID}
	for _, id := range r.order {
		state.Accounts = append(state.Accounts, r.accounts[id])
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("ошибка сериализации реестра: %w", err)
	}

	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("ошибка создания каталога реестра: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".accounts-*.tmp")
	if err != nil {
		return fmt.Errorf("ошибка создания временного файла: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("ошибка записи временного файла: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("ошибка fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("ошибка закрытия временного файла: %w", err)
	}
	if err := os.Rename(tmpName, r.path); err != nil {
		return fmt.Errorf("ошибка переименования файла реестра: %w", err)
	}
	return nil
}

// AddAccount регистрирует аккаунт. Пустой ID заменяется на UUID.
func (r *Registry) AddAccount(acc *model.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if acc.ID == "" {
		acc.ID = uuid.NewString()
	}
	if acc.CreatedAt.IsZero() {
		acc.CreatedAt = time.Now().UTC()
	}
	if _, exists := r.accounts[acc.ID]; exists {
		return fmt.Errorf("аккаунт %s уже зарегистрирован", acc.ID)
	}

	r.accounts[acc.ID] = acc
	r.order = append(r.order, acc.ID)

	// Первый аккаунт автоматически становится активным.
	if len(r.order) == 1 {
		r.activeID = acc.ID
	}

	r.logger.Info("Аккаунт зарегистрирован",
		slog.String("account", acc.ID),
		slog.Int("services", len(acc.Services)),
	)
	return r.persistLocked()
}

// RemoveAccount удаляет аккаунт. Активный слот очищается,
// если удалён активный аккаунт.
func (r *Registry) RemoveAccount(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.accounts[id]; !ok {
		return ErrAccountNotFound
	}
	delete(r.accounts, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	if r.activeID == id {
		r.activeID = ""
	}

	r.logger.Info("Аккаунт удалён", slog.String("account", id))
	return r.persistLocked()
}

// Account возвращает аккаунт по ID.
func (r *Registry) Account(id string) (*model.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	acc, ok := r.accounts[id]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return acc, nil
}

// Accounts возвращает все аккаунты в порядке создания.
func (r *Registry) Accounts() []*model.Account {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*model.Account, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.accounts[id])
	}
	return out
}

// ActiveAccount возвращает активный аккаунт.
func (r *Registry) ActiveAccount() (*model.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.activeID == "" {
		return nil, ErrNoActiveAccount
	}
	return r.accounts[r.activeID], nil
}

// SetActive переключает активный аккаунт.
func (r *Registry) SetActive(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.accounts[id]; !ok {
		return ErrAccountNotFound
	}
	r.activeID = id
	r.logger.Info("Активный аккаунт переключён", slog.String("account", id))
	return r.persistLocked()
}

// ClearActive очищает активный слот (logout без удаления аккаунта).
func (r *Registry) ClearActive() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.activeID = ""
	return r.persistLocked()
}

// UpdateAuth заменяет Auth сервисного аккаунта. Единственная точка
// мутации учётных данных после первичного логина.
func (r *Registry) UpdateAuth(accountID, serviceAccountID string, auth model.Auth) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	acc, ok := r.accounts[accountID]
	if !ok {
		return ErrAccountNotFound
	}
	sa := acc.ServiceByID(serviceAccountID)
	if sa == nil {
		return ErrServiceNotFound
	}
	sa.Auth = auth

	r.logger.Info("Учётные данные обновлены",
		slog.String("account", accountID),
		slog.String("service_account", serviceAccountID),
		slog.Any("auth", auth),
	)
	return r.persistLocked()
}

// ResolveService выбирает ServiceAccount аккаунта с возможностью cap.
// При нескольких кандидатах побеждает созданный раньше (порядок
// в Services — порядок создания).
func (r *Registry) ResolveService(accountID string, cap model.Capability) (*model.ServiceAccount, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	acc, ok := r.accounts[accountID]
	if !ok {
		return nil, ErrAccountNotFound
	}
	for _, sa := range acc.Services {
		if sa.Capabilities.Has(cap) {
			return sa, nil
		}
	}
	return nil, fmt.Errorf("%w: возможность %s", ErrServiceNotFound, cap)
}
