// Пакет canteen — адаптер сервиса школьной столовой.
// Возможности: балансы счетов, меню недели, QR-код доступа.
// Авторизация device-bound: каждый запрос несёт и access-токен,
// и токен устройства, выданный при первичной привязке.
package canteen

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/bigkaa/edusync/internal/adapter"
	"github.com/bigkaa/edusync/internal/domain/model"
)

// Adapter — клиент сервиса столовой.
type Adapter struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// New создаёт адаптер столовой. baseURL — URL API системы оплаты.
func New(baseURL string, timeout time.Duration, logger *slog.Logger) *Adapter {
	return &Adapter{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With(slog.String("component", "adapter-canteen")),
	}
}

// Kind возвращает вид сервиса.
func (a *Adapter) Kind() model.ServiceKind { return model.KindCanteen }

// Capabilities возвращает набор возможностей сервиса столовой.
func (a *Adapter) Capabilities() model.CapabilitySet {
	return model.CapabilitySet{model.CapBalances, model.CapCanteenMenu, model.CapQRCode}
}

// doJSON выполняет запрос с device-bound авторизацией.
func (a *Adapter) doJSON(ctx context.Context, sub adapter.Subject, path string, out any) error {
	extra, ok := sub.Service.Auth.Extra.(model.CanteenExtra)
	if !ok {
		return fmt.Errorf("service account %s: отсутствует CanteenExtra", sub.Service.ID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("ошибка создания запроса: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+sub.Service.Auth.AccessToken)
	req.Header.Set("X-Device-Token", extra.DeviceToken)
	req.Header.Set("X-Host-Id", extra.HostID)
	req.Header.Set("Accept", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ошибка запроса к сервису столовой: %w", err)
	}
	defer resp.Body.Close()

	if adapter.IsAuthStatus(resp.StatusCode) {
		return fmt.Errorf("сервис столовой вернул статус %d: %w", resp.StatusCode, adapter.ErrAuthentication)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("сервис столовой вернул неожиданный статус %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("ошибка декодирования ответа сервиса столовой: %w", err)
	}
	return nil
}

type canteenBalancesResponse struct {
	Accounts []struct {
		ID               string  `json:"id"`
		Label            string  `json:"label"`
		Amount           float64 `json:"amount"`
		Currency         string  `json:"currency"`
		RemainingLunches int     `json:"remaining_lunches"`
	} `json:"accounts"`
}

type canteenMenuResponse struct {
	Days []struct {
		ID     string   `json:"id"`
		Date   string   `json:"date"`
		Dishes []string `json:"dishes"`
	} `json:"days"`
}

type canteenQRResponse struct {
	ID       string `json:"id"`
	Data     string `json:"data"`
	IssuedAt string `json:"issued_at"`
}

// FetchBalances выбирает балансы счетов столовой.
func (a *Adapter) FetchBalances(ctx context.Context, sub adapter.Subject) ([]model.Balance, error) {
	var resp canteenBalancesResponse
	if err := a.doJSON(ctx, sub, "/api/v1/balances", &resp); err != nil {
		return nil, err
	}

	balances := make([]model.Balance, 0, len(resp.Accounts))
	for _, acc := range resp.Accounts {
		balances = append(balances, model.Balance{
			Origin: model.Origin{
				ID:               acc.ID,
				CreatedByAccount: sub.AccountID,
				ServiceAccountID: sub.Service.ID,
				LiveRef:          acc.ID,
			},
			Label:            acc.Label,
			Amount:           acc.Amount,
			Currency:         acc.Currency,
			RemainingLunches: acc.RemainingLunches,
		})
	}

	a.logger.Debug("Балансы получены",
		slog.String("service_account", sub.Service.ID),
		slog.Int("count", len(balances)),
	)
	return balances, nil
}

// FetchCanteenMenu выбирает меню недельного окна.
// Бэкенд принимает дату понедельника запрашиваемой недели.
func (a *Adapter) FetchCanteenMenu(ctx context.Context, sub adapter.Subject, week model.Week) ([]model.CanteenMenu, error) {
	monday := mondayOf(week)

	var resp canteenMenuResponse
	path := fmt.Sprintf("/api/v1/menus?from=%s", monday.Format("2006-01-02"))
	if err := a.doJSON(ctx, sub, path, &resp); err != nil {
		return nil, err
	}

	menus := make([]model.CanteenMenu, 0, len(resp.Days))
	for _, d := range resp.Days {
		date, _ := time.Parse("2006-01-02", d.Date)
		menus = append(menus, model.CanteenMenu{
			Origin: model.Origin{
				ID:               d.ID,
				CreatedByAccount: sub.AccountID,
				ServiceAccountID: sub.Service.ID,
				LiveRef:          d.ID,
			},
			Date:   date,
			Dishes: d.Dishes,
		})
	}
	return menus, nil
}

// FetchQRCode выбирает QR-код доступа.
func (a *Adapter) FetchQRCode(ctx context.Context, sub adapter.Subject) (model.QRCode, error) {
	var resp canteenQRResponse
	if err := a.doJSON(ctx, sub, "/api/v1/qrcode", &resp); err != nil {
		return model.QRCode{}, err
	}

	issuedAt, _ := time.Parse(time.RFC3339, resp.IssuedAt)
	return model.QRCode{
		Origin: model.Origin{
			ID:               resp.ID,
			CreatedByAccount: sub.AccountID,
			ServiceAccountID: sub.Service.ID,
			LiveRef:          resp.ID,
		},
		Data:     resp.Data,
		IssuedAt: issuedAt,
	}, nil
}

// mondayOf возвращает понедельник ISO-недели.
func mondayOf(w model.Week) time.Time {
	// 4 января всегда в первой ISO-неделе года.
	t := time.Date(w.Year, time.January, 4, 12, 0, 0, 0, time.UTC)
	for t.Weekday() != time.Monday {
		t = t.AddDate(0, 0, -1)
	}
	return t.AddDate(0, 0, (w.Num-1)*7)
}
