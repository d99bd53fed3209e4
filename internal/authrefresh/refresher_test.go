package authrefresh

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/bigkaa/edusync/internal/adapter"
	"github.com/bigkaa/edusync/internal/domain/model"
)

// fakeStrategy — стратегия с управляемой задержкой и счётчиком вызовов.
type fakeStrategy struct {
	kind  model.ServiceKind
	calls atomic.Int32
	delay time.Duration
	auth  model.Auth
	err   error
}

func (f *fakeStrategy) Kind() model.ServiceKind { return f.kind }

func (f *fakeStrategy) Refresh(ctx context.Context, sub adapter.Subject) (model.Auth, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.auth, f.err
}

// fakeWriter — запись Auth в память.
type fakeWriter struct {
	mu      sync.Mutex
	updates map[string]model.Auth
}

func newFakeWriter() *fakeWriter {
	return &fakeWriter{updates: make(map[string]model.Auth)}
}

func (w *fakeWriter) UpdateAuth(accountID, serviceAccountID string, auth model.Auth) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.updates[serviceAccountID] = auth
	return nil
}

func newTestSubject(kind model.ServiceKind) adapter.Subject {
	return adapter.Subject{
		AccountID: "acc-1",
		Service:   &model.ServiceAccount{ID: "svc-1", Kind: kind},
	}
}

// TestRefresh проверяет диспетчеризацию по виду сервиса и персистентность.
func TestRefresh(t *testing.T) {
	fresh := model.Auth{AccessToken: "fresh"}
	strategy := &fakeStrategy{kind: model.KindEntAlpha, auth: fresh}
	writer := newFakeWriter()
	r := New(writer, slog.Default(), strategy)

	got, err := r.Refresh(context.Background(), newTestSubject(model.KindEntAlpha))
	if err != nil {
		t.Fatalf("Refresh ошибка: %v", err)
	}
	if got.AccessToken != "fresh" {
		t.Errorf("AccessToken = %q, ожидался fresh", got.AccessToken)
	}
	if writer.updates["svc-1"].AccessToken != "fresh" {
		t.Error("обновлённые учётные данные не сохранены через AuthWriter")
	}
}

// TestRefresh_UnsupportedKind проверяет терминальную ошибку для вида
// сервиса без стратегии.
func TestRefresh_UnsupportedKind(t *testing.T) {
	r := New(newFakeWriter(), slog.Default())

	_, err := r.Refresh(context.Background(), newTestSubject(model.KindRegional))
	if !errors.Is(err, ErrReauthenticationRequired) {
		t.Fatalf("ошибка = %v, ожидалась ErrReauthenticationRequired", err)
	}
}

// TestRefresh_Singleflight проверяет, что конкурентные обновления одного
// ServiceAccount схлопываются в один вызов стратегии.
func TestRefresh_Singleflight(t *testing.T) {
	strategy := &fakeStrategy{
		kind:  model.KindEntAlpha,
		delay: 50 * time.Millisecond,
		auth:  model.Auth{AccessToken: "fresh"},
	}
	r := New(newFakeWriter(), slog.Default(), strategy)
	sub := newTestSubject(model.KindEntAlpha)

	const goroutines = 10
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			auth, err := r.Refresh(context.Background(), sub)
			if err != nil || auth.AccessToken != "fresh" {
				t.Errorf("Refresh = (%v, %v)", auth, err)
			}
		}()
	}
	wg.Wait()

	if calls := strategy.calls.Load(); calls != 1 {
		t.Errorf("стратегия вызвана %d раз, ожидался 1", calls)
	}
}

// TestRefresh_ErrorPropagation проверяет доставку терминальной ошибки
// всем присоединившимся.
func TestRefresh_ErrorPropagation(t *testing.T) {
	strategy := &fakeStrategy{
		kind:  model.KindEntAlpha,
		delay: 20 * time.Millisecond,
		err:   ErrReauthenticationRequired,
	}
	writer := newFakeWriter()
	r := New(writer, slog.Default(), strategy)
	sub := newTestSubject(model.KindEntAlpha)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.Refresh(context.Background(), sub); !errors.Is(err, ErrReauthenticationRequired) {
				t.Errorf("ошибка = %v, ожидалась ErrReauthenticationRequired", err)
			}
		}()
	}
	wg.Wait()

	if len(writer.updates) != 0 {
		t.Error("неудачное обновление не должно сохраняться")
	}
}

// TestJWTExpiry проверяет извлечение exp без проверки подписи.
func TestJWTExpiry(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "student",
		"exp": exp.Unix(),
	})
	signed, err := token.SignedString([]byte("какой-то-секрет"))
	if err != nil {
		t.Fatalf("Ошибка подписи тестового токена: %v", err)
	}

	got := jwtExpiry(signed)
	if !got.Equal(exp) {
		t.Errorf("jwtExpiry = %v, ожидалось %v", got, exp)
	}

	if !jwtExpiry("не-jwt-токен").IsZero() {
		t.Error("для не-JWT ожидалось нулевое время")
	}
}
