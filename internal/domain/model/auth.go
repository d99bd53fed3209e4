// auth.go — учётные данные ServiceAccount.
// Каждый бэкенд хранит собственные дополнительные поля: вместо
// слабо-типизированной map используется tagged union по ServiceKind
// с кастомной JSON-сериализацией.
package model

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// Auth — состояние учётных данных одного ServiceAccount.
// Инвариант: Auth мутируется только подсистемой authrefresh или
// первичным логином; никогда не читается-модифицируется в других местах.
type Auth struct {
	// AccessToken — текущий токен доступа
	AccessToken string `json:"access_token"`
	// RefreshToken — токен обновления (пустой для CAS/device-bound сервисов)
	RefreshToken string `json:"refresh_token,omitempty"`
	// ExpiresAt — время истечения access-токена (нулевое — неизвестно)
	ExpiresAt time.Time `json:"expires_at,omitzero"`
	// Extra — сервис-специфичные поля (tagged union по ServiceKind)
	Extra AuthExtra `json:"-"`
}

// AuthExtra — сервис-специфичное дополнение Auth.
// Каждый вид сервиса несёт собственные строго типизированные поля.
type AuthExtra interface {
	// ExtraKind возвращает вид сервиса, которому принадлежат поля.
	ExtraKind() ServiceKind
}

// EntAlphaExtra — дополнение для ENT варианта A.
type EntAlphaExtra struct {
	// InstanceURL — базовый URL инстанса ENT конкретной школы
	InstanceURL string `json:"instance_url"`
	// DeviceID — идентификатор устройства, привязанный при логине
	DeviceID string `json:"device_id"`
	// Username — логин пользователя в ENT
	Username string `json:"username"`
}

func (EntAlphaExtra) ExtraKind() ServiceKind { return KindEntAlpha }

// UniversityExtra — дополнение для университетского портала (CAS SSO).
type UniversityExtra struct {
	// CASBaseURL — базовый URL CAS-сервера университета
	CASBaseURL string `json:"cas_base_url"`
	// Username — логин CAS
	Username string `json:"username"`
	// Password — пароль CAS. CAS не выдаёт refresh-токенов:
	// восстановление сессии возможно только повтором логина.
	Password string `json:"password"`
	// SessionCookie — cookie активной CAS-сессии
	SessionCookie string `json:"session_cookie,omitempty"`
}

func (UniversityExtra) ExtraKind() ServiceKind { return KindUniversity }

// CanteenExtra — дополнение для сервиса столовой.
type CanteenExtra struct {
	// HostID — идентификатор учреждения в системе оплаты
	HostID string `json:"host_id"`
	// Username — логин пользователя
	Username string `json:"username"`
	// DeviceToken — device-bound токен, выданный при первичной привязке
	DeviceToken string `json:"device_token"`
}

func (CanteenExtra) ExtraKind() ServiceKind { return KindCanteen }

// authJSON — промежуточная форма сериализации Auth с тегом вида Extra.
type authJSON struct {
	AccessToken  string          `json:"access_token"`
	RefreshToken string          `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time       `json:"expires_at,omitzero"`
	ExtraKind    ServiceKind     `json:"extra_kind,omitempty"`
	Extra        json.RawMessage `json:"extra,omitempty"`
}

// MarshalJSON сериализует Auth вместе с tagged union Extra.
func (a Auth) MarshalJSON() ([]byte, error) {
	out := authJSON{
		AccessToken:  a.AccessToken,
		RefreshToken: a.RefreshToken,
		ExpiresAt:    a.ExpiresAt,
	}
	if a.Extra != nil {
		raw, err := json.Marshal(a.Extra)
		if err != nil {
			return nil, fmt.Errorf("сериализация auth extra: %w", err)
		}
		out.ExtraKind = a.Extra.ExtraKind()
		out.Extra = raw
	}
	return json.Marshal(out)
}

// UnmarshalJSON восстанавливает Auth, выбирая конкретный тип Extra
// по тегу extra_kind.
func (a *Auth) UnmarshalJSON(data []byte) error {
	var in authJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	a.AccessToken = in.AccessToken
	a.RefreshToken = in.RefreshToken
	a.ExpiresAt = in.ExpiresAt
	a.Extra = nil

	if len(in.Extra) == 0 {
		return nil
	}

	switch in.ExtraKind {
	case KindEntAlpha:
		var extra EntAlphaExtra
		if err := json.Unmarshal(in.Extra, &extra); err != nil {
			return fmt.Errorf("десериализация extra %s: %w", in.ExtraKind, err)
		}
		a.Extra = extra
	case KindUniversity:
		var extra UniversityExtra
		if err := json.Unmarshal(in.Extra, &extra); err != nil {
			return fmt.Errorf("десериализация extra %s: %w", in.ExtraKind, err)
		}
		a.Extra = extra
	case KindCanteen:
		var extra CanteenExtra
		if err := json.Unmarshal(in.Extra, &extra); err != nil {
			return fmt.Errorf("десериализация extra %s: %w", in.ExtraKind, err)
		}
		a.Extra = extra
	default:
		return fmt.Errorf("неизвестный вид auth extra: %q", in.ExtraKind)
	}
	return nil
}

// LogValue реализует slog.LogValuer: токены никогда не попадают в логи.
func (a Auth) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Bool("has_access_token", a.AccessToken != ""),
		slog.Bool("has_refresh_token", a.RefreshToken != ""),
		slog.Time("expires_at", a.ExpiresAt),
	)
}

// Expired сообщает, истёк ли access-токен на момент now
// (с запасом 30 секунд, как и при кэшировании SA-токенов).
func (a Auth) Expired(now time.Time) bool {
	if a.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(30 * time.Second).Before(a.ExpiresAt)
}
