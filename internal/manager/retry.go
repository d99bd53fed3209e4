// retry.go — одноразовый цикл восстановления учётных данных.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bigkaa/edusync/internal/adapter"
	"github.com/bigkaa/edusync/internal/authrefresh"
)

// withAuthRetry выполняет op; при ErrAuthentication запускает ровно
// одно обновление учётных данных и один повтор. Повторная ошибка
// аутентификации терминальна: возвращается как требование повторного
// логина, второй цикл не запускается.
func (m *Manager) withAuthRetry(ctx context.Context, sub adapter.Subject, op func(adapter.Subject) error) error {
	err := op(sub)
	if !errors.Is(err, adapter.ErrAuthentication) {
		return err
	}

	m.logger.Info("Учётные данные отвергнуты, запуск обновления",
		slog.String("service_account", sub.Service.ID),
	)

	auth, rerr := m.refresher.Refresh(ctx, sub)
	if rerr != nil {
		return rerr
	}

	// Повтор со свежими данными. Копия ServiceAccount, чтобы не гонять
	// чтение Auth с единственным писателем (реестром).
	svc := *sub.Service
	svc.Auth = auth
	retrySub := adapter.Subject{AccountID: sub.AccountID, Service: &svc}

	if err := op(retrySub); err != nil {
		if errors.Is(err, adapter.ErrAuthentication) {
			// Свежие учётные данные тоже отвергнуты: восстановит
			// только интерактивный логин.
			return fmt.Errorf("повтор после обновления отвергнут: %w", authrefresh.ErrReauthenticationRequired)
		}
		return err
	}
	return nil
}
