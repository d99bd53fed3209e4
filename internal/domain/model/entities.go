// entities.go — доменные сущности, отдаваемые адаптерами.
// ID сущности уникален только в паре (ServiceAccount, вид сущности):
// коллизии между сервисами ожидаемы и никогда не сливаются неявно.
package model

import (
	"strconv"
	"time"
)

// EntityKind — вид кэшируемой сущности (часть Cache Key).
type EntityKind string

const (
	EntityGrades      EntityKind = "grades"
	EntityHomeworks   EntityKind = "homeworks"
	EntityNews        EntityKind = "news"
	EntityTimetable   EntityKind = "timetable"
	EntityCanteenMenu EntityKind = "canteen_menu"
	EntityBalances    EntityKind = "balances"
	EntityQRCode      EntityKind = "qrcode"
	EntityPeriods     EntityKind = "periods"
)

// Origin — общие поля каждой сущности: происхождение и признак кэша.
type Origin struct {
	// ID — стабильный идентификатор в пределах (ServiceAccount, вид)
	ID string `json:"id"`
	// CreatedByAccount — ID аккаунта-источника (слабая ссылка для
	// атрибуции и маршрутизации refresh, не ребро владения)
	CreatedByAccount string `json:"created_by_account"`
	// ServiceAccountID — ID ServiceAccount-источника
	ServiceAccountID string `json:"service_account_id"`
	// FromCache — true, если сущность отдана из локального кэша
	FromCache bool `json:"from_cache"`
	// LiveRef — непрозрачная ссылка бэкенда, нужная для мутаций.
	// Не сериализуется: сущность из кэша её не имеет.
	LiveRef string `json:"-"`
}

// Mutable сообщает, можно ли мутировать сущность удалённо.
// Сущность из кэша без живой ссылки бэкенда мутировать нельзя.
func (o Origin) Mutable() bool {
	return !o.FromCache || o.LiveRef != ""
}

// MarkFromCache помечает сущность как отданную из кэша.
// Живая ссылка бэкенда при этом теряется (не переживает сериализацию).
func (o *Origin) MarkFromCache() {
	o.FromCache = true
	o.LiveRef = ""
}

// Entity — общий контракт кэшируемых сущностей.
type Entity interface {
	// Identity возвращает ключ сравнения для diff локального кэша.
	// Вид-специфичен: у оценки это предмет+значение+коэффициент,
	// у остальных — ID.
	Identity() string
}

// Grade — одна оценка.
type Grade struct {
	Origin
	// Subject — предмет
	Subject string `json:"subject"`
	// Score — полученный балл
	Score float64 `json:"score"`
	// OutOf — максимум шкалы (обычно 20)
	OutOf float64 `json:"out_of"`
	// Coefficient — коэффициент оценки
	Coefficient float64 `json:"coefficient"`
	// Min/Max/Average — статистика класса (0 — нет данных)
	Min     float64 `json:"min,omitempty"`
	Max     float64 `json:"max,omitempty"`
	Average float64 `json:"average,omitempty"`
	// PeriodID — период (триместр/семестр), к которому относится оценка
	PeriodID string `json:"period_id,omitempty"`
	// GivenAt — дата выставления
	GivenAt time.Time `json:"given_at"`
}

// Identity оценки: предмет + значение + коэффициент.
// Две оценки с одинаковым значением по одному предмету считаются
// одной и той же при diff (ID бэкенда нестабильны между выборками).
func (g Grade) Identity() string {
	return g.Subject + "|" + ftoa(g.Score) + "/" + ftoa(g.OutOf) + "|" + ftoa(g.Coefficient)
}

// Homework — домашнее задание.
type Homework struct {
	Origin
	// Subject — предмет
	Subject string `json:"subject"`
	// Content — текст задания
	Content string `json:"content"`
	// Due — срок сдачи
	Due time.Time `json:"due"`
	// Done — отмечено выполненным
	Done bool `json:"done"`
}

func (h Homework) Identity() string { return h.ID }

// News — новость/объявление учебного заведения.
type News struct {
	Origin
	// Title — заголовок
	Title string `json:"title"`
	// Content — текст новости
	Content string `json:"content"`
	// Author — автор публикации
	Author string `json:"author,omitempty"`
	// Category — рубрика
	Category string `json:"category,omitempty"`
	// CreatedAt — время публикации (сортировка по убыванию)
	CreatedAt time.Time `json:"created_at"`
	// Acknowledged — отмечена прочитанной
	Acknowledged bool `json:"acknowledged"`
}

func (n News) Identity() string { return n.ID }

// Lesson — один урок недельного расписания.
type Lesson struct {
	Origin
	// Subject — предмет
	Subject string `json:"subject"`
	// Teacher — преподаватель
	Teacher string `json:"teacher,omitempty"`
	// Room — аудитория
	Room string `json:"room,omitempty"`
	// Start/End — время урока
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	// Canceled — урок отменён
	Canceled bool `json:"canceled,omitempty"`
}

func (l Lesson) Identity() string { return l.ID }

// CanteenMenu — меню столовой на один день.
type CanteenMenu struct {
	Origin
	// Date — дата меню
	Date time.Time `json:"date"`
	// Dishes — блюда дня
	Dishes []string `json:"dishes"`
}

func (m CanteenMenu) Identity() string { return m.ID }

// Balance — баланс счёта столовой.
type Balance struct {
	Origin
	// Label — название счёта (например, "Repas midi")
	Label string `json:"label"`
	// Amount — остаток в валюте
	Amount float64 `json:"amount"`
	// Currency — код валюты
	Currency string `json:"currency"`
	// RemainingLunches — оценка оставшихся обедов (-1 — неизвестно)
	RemainingLunches int `json:"remaining_lunches"`
}

func (b Balance) Identity() string { return b.ID }

// Period — учебный период (триместр/семестр).
type Period struct {
	Origin
	// Name — название периода
	Name string `json:"name"`
	// Start/End — границы периода
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (p Period) Identity() string { return p.ID }

// QRCode — QR-код доступа (столовая/пропуск).
type QRCode struct {
	Origin
	// Data — содержимое QR-кода (как отдаёт бэкенд)
	Data string `json:"data"`
	// IssuedAt — время выдачи
	IssuedAt time.Time `json:"issued_at"`
}

func (q QRCode) Identity() string { return q.ID }

// ftoa — каноническая строковая форма числа для ключей сравнения.
func ftoa(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
