package progression

import "github.com/cyberguard/cyberguard-training/internal/domain/shared"

// LevelFor возвращает уровень для суммарного XP: floor(xp/100) + 1.
func LevelFor(total shared.XP) shared.Level {
	return total.Level()
}

// XPForNextLevel - суммарный XP, с которого начинается уровень l+1.
// Это порог, а не остаток: для уровня 3 вернёт 300.
func XPForNextLevel(l shared.Level) int {
	return l.NextLevelXP()
}

// ProgressToNext - XP, набранный внутри текущего уровня.
func ProgressToNext(total shared.XP) int {
	return total.ProgressToNextLevel()
}

// LevelUp сообщает новый уровень, если пересчёт превышает сохранённый.
func LevelUp(stored shared.Level, total shared.XP) (shared.Level, bool) {
	if next := LevelFor(total); next > stored {
		return next, true
	}
	return stored, false
}
