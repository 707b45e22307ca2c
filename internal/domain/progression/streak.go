package progression

import (
	"time"

	"github.com/cyberguard/cyberguard-training/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// STREAK
// ══════════════════════════════════════════════════════════════════════════════

// StreakTransition - класс перехода серии при очередной активности.
type StreakTransition string

const (
	// StreakStarted - записи не было, серия начинается с 1.
	StreakStarted StreakTransition = "started"
	// StreakSameDay - активность в тот же день, ничего не меняется.
	StreakSameDay StreakTransition = "same_day"
	// StreakContinued - вчерашняя активность, серия +1.
	StreakContinued StreakTransition = "continued"
	// StreakReset - был пропуск, серия сбрасывается в 1.
	StreakReset StreakTransition = "reset"
)

// Changed сообщает, изменился ли счётчик.
func (t StreakTransition) Changed() bool {
	return t != StreakSameDay
}

// Streak - серия последовательных дней с активностью.
type Streak struct {
	// UserID - идентификатор пользователя.
	UserID int64

	// CurrentStreak - текущая серия дней.
	CurrentStreak int

	// LongestStreak - исторический максимум CurrentStreak.
	LongestStreak int

	// LastActivityDate - календарная дата последней активности.
	LastActivityDate time.Time
}

// NewStreak создаёт пустую серию.
func NewStreak(userID int64) *Streak {
	return &Streak{UserID: userID}
}

// Record применяет активность в календарный день today (дата сервера).
//
// Переходы: нет записи -> 1/1; тот же день -> без изменений;
// вчера -> +1 и максимум; пропуск -> 1, максимум не трогаем.
// Дата из будущего (перевод часов назад) трактуется как тот же день.
func (s *Streak) Record(today time.Time) StreakTransition {
	today = timeutil.DateOf(today)

	if s.LastActivityDate.IsZero() {
		s.CurrentStreak = 1
		s.LongestStreak = max(s.LongestStreak, 1)
		s.LastActivityDate = today
		return StreakStarted
	}

	switch diff := timeutil.DaysBetween(s.LastActivityDate, today); {
	case diff <= 0:
		return StreakSameDay
	case diff == 1:
		s.CurrentStreak++
		if s.CurrentStreak > s.LongestStreak {
			s.LongestStreak = s.CurrentStreak
		}
	default:
		s.CurrentStreak = 1
	}

	s.LastActivityDate = today
	if s.CurrentStreak == 1 {
		return StreakReset
	}
	return StreakContinued
}

// IsAlive сообщает, продлится ли серия при активности сегодня.
func (s *Streak) IsAlive(today time.Time) bool {
	if s.LastActivityDate.IsZero() {
		return false
	}
	return timeutil.DaysBetween(s.LastActivityDate, today) <= 1
}

// StreakUpdate - результат атомарного обновления серии.
type StreakUpdate struct {
	Streak     Streak
	Transition StreakTransition
}
