// week.go — идентификатор календарной недели (ISO 8601).
// Неделя — единица временного окна для кэширования и batch-выборок
// расписания и домашних заданий.
package model

import (
	"fmt"
	"strconv"
	"time"
)

// Week — идентификатор ISO-недели.
type Week struct {
	// Year — ISO-год (может отличаться от календарного на границах года)
	Year int `json:"year"`
	// Num — номер ISO-недели (1..53)
	Num int `json:"num"`
}

// WeekOf возвращает ISO-неделю, содержащую момент t.
func WeekOf(t time.Time) Week {
	year, num := t.ISOWeek()
	return Week{Year: year, Num: num}
}

// String возвращает каноническую форму недели, например "2024-W37".
func (w Week) String() string {
	return fmt.Sprintf("%04d-W%02d", w.Year, w.Num)
}

// Before сообщает, предшествует ли неделя w неделе other.
func (w Week) Before(other Week) bool {
	if w.Year != other.Year {
		return w.Year < other.Year
	}
	return w.Num < other.Num
}

// ParseWeek разбирает каноническую форму "2024-W37".
func ParseWeek(s string) (Week, error) {
	if len(s) != 8 || s[4] != '-' || s[5] != 'W' {
		return Week{}, fmt.Errorf("некорректный идентификатор недели: %q", s)
	}
	year, err := strconv.Atoi(s[:4])
	if err != nil {
		return Week{}, fmt.Errorf("некорректный год в идентификаторе недели %q", s)
	}
	num, err := strconv.Atoi(s[6:])
	if err != nil || num < 1 || num > 53 {
		return Week{}, fmt.Errorf("некорректный номер недели в идентификаторе %q", s)
	}
	return Week{Year: year, Num: num}, nil
}

// WeeksInRange возвращает различные ISO-недели, покрывающие закрытый
// диапазон дат [start, end], в хронологическом порядке без дубликатов.
// Граничная неделя включается целиком: если end попадает на середину
// недели, идентификатор этой недели всё равно входит в результат.
// Пустой результат только при start > end.
func WeeksInRange(start, end time.Time) []Week {
	if start.After(end) {
		return nil
	}

	var weeks []Week
	seen := make(map[Week]struct{})

	add := func(w Week) {
		if _, ok := seen[w]; !ok {
			seen[w] = struct{}{}
			weeks = append(weeks, w)
		}
	}

	// Шаг в 7 дней покрывает каждую неделю диапазона ровно один раз;
	// неделя end добавляется отдельно на случай неполного последнего шага.
	for cur := start; !cur.After(end); cur = cur.AddDate(0, 0, 7) {
		add(WeekOf(cur))
	}
	add(WeekOf(end))

	return weeks
}
