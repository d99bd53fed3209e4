// Пакет model — сервис-независимая доменная модель edusync.
// Account агрегирует один или несколько ServiceAccount (привязанных
// школьных сервисов); какой ServiceAccount отвечает за какой вид данных,
// определяется его набором возможностей (CapabilitySet).
package model

import "time"

// ServiceKind — закрытое перечисление видов школьных сервисов.
// Добавление нового бэкенда = новый вид + новый адаптер,
// диспетчер (manager) не меняется.
type ServiceKind string

const (
	// KindEntAlpha — школьный ENT, вариант A (token-bearer REST)
	KindEntAlpha ServiceKind = "ent_alpha"
	// KindEntBeta — школьный ENT, вариант B
	KindEntBeta ServiceKind = "ent_beta"
	// KindEntGamma — школьный ENT, вариант C
	KindEntGamma ServiceKind = "ent_gamma"
	// KindUniversity — университетский портал (OAuth-style REST)
	KindUniversity ServiceKind = "university"
	// KindRegional — региональная школьная сеть
	KindRegional ServiceKind = "regional"
	// KindCanteen — сервис школьной столовой (device-bound token)
	KindCanteen ServiceKind = "canteen"
)

// Valid проверяет, что вид сервиса входит в закрытое перечисление.
func (k ServiceKind) Valid() bool {
	switch k {
	case KindEntAlpha, KindEntBeta, KindEntGamma, KindUniversity, KindRegional, KindCanteen:
		return true
	}
	return false
}

// Capability — именованная операция данных, которую бэкенд может поддерживать.
type Capability string

const (
	CapGrades      Capability = "grades"
	CapHomeworks   Capability = "homeworks"
	CapNews        Capability = "news"
	CapTimetable   Capability = "timetable"
	CapCanteenMenu Capability = "canteen_menu"
	CapBalances    Capability = "balances"
	CapQRCode      Capability = "qrcode"
)

// CapabilitySet — набор возможностей одного ServiceAccount.
// Хранится срезом для стабильного порядка при сериализации.
type CapabilitySet []Capability

// Has проверяет наличие возможности в наборе.
func (s CapabilitySet) Has(c Capability) bool {
	for _, v := range s {
		if v == c {
			return true
		}
	}
	return false
}

// ServiceAccount — одна привязанная учётная запись школьного сервиса
// внутри Account. Auth мутируется только подсистемой обновления
// учётных данных или первичным логином (single writer).
type ServiceAccount struct {
	// ID — стабильный UUID внутри Account
	ID string `json:"id"`
	// Kind — вид сервиса
	Kind ServiceKind `json:"kind"`
	// Capabilities — какие виды данных сервис способен отдавать
	Capabilities CapabilitySet `json:"capabilities"`
	// Auth — учётные данные сервиса
	Auth Auth `json:"auth"`
	// CreatedAt — время привязки; порядок создания используется как
	// детерминированный tie-break при выборе сервиса для возможности
	CreatedAt time.Time `json:"created_at"`
}

// Account — пользовательская идентичность приложения.
// Владеет своими ServiceAccount; реестр аккаунтов — единственный владелец,
// остальной код держит только ссылки.
type Account struct {
	// ID — стабильный UUID аккаунта
	ID string `json:"id"`
	// DisplayName — отображаемое имя пользователя
	DisplayName string `json:"display_name"`
	// ClassName — класс (например, "3eB")
	ClassName string `json:"class_name,omitempty"`
	// SchoolName — название учебного заведения
	SchoolName string `json:"school_name,omitempty"`
	// Services — привязанные сервисы в порядке создания
	Services []*ServiceAccount `json:"services"`
	// Personalization — непрозрачный блоб настроек UI (ядро его не трактует)
	Personalization map[string]any `json:"personalization,omitempty"`
	// CreatedAt — время создания аккаунта (завершение онбординга)
	CreatedAt time.Time `json:"created_at"`
}

// ServiceByID возвращает ServiceAccount по ID или nil.
func (a *Account) ServiceByID(id string) *ServiceAccount {
	for _, sa := range a.Services {
		if sa.ID == id {
			return sa
		}
	}
	return nil
}
