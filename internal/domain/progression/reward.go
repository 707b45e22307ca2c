package progression

import (
	"errors"
	"sort"

	"github.com/cyberguard/cyberguard-training/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// REWARD CATALOG
// ══════════════════════════════════════════════════════════════════════════════

// RequirementType - измерение, по которому проверяется награда.
type RequirementType string

const (
	// RequirementLevel - уровень пользователя.
	RequirementLevel RequirementType = "level"
	// RequirementStreak - текущая серия дней.
	RequirementStreak RequirementType = "streak"
	// RequirementAchievement - число завершённых интерактивных элементов.
	RequirementAchievement RequirementType = "achievement"
	// RequirementXP - суммарный XP.
	RequirementXP RequirementType = "xp"
)

// IsValid проверяет, что измерение поддерживается оценщиком.
func (r RequirementType) IsValid() bool {
	switch r {
	case RequirementLevel, RequirementStreak, RequirementAchievement, RequirementXP:
		return true
	}
	return false
}

// ErrRewardUnlock оборачивает сбой выдачи одной награды. Такие ошибки
// логируются и не прерывают завершение активности.
var ErrRewardUnlock = errors.New("reward unlock failed")

// Reward - запись каталога наград. Статические справочные данные.
type Reward struct {
	ID               int64
	Key              string
	Name             string
	Description      string
	Icon             string
	RewardType       string // badge, title
	RequirementType  RequirementType
	RequirementValue int
}

// Stats - срез показателей пользователя, по которому оцениваются награды.
type Stats struct {
	TotalXP              shared.XP
	Level                shared.Level
	CurrentStreak        int
	InteractiveCompleted int
}

// Value возвращает значение показателя для измерения.
func (s Stats) Value(r RequirementType) (int, bool) {
	switch r {
	case RequirementLevel:
		return s.Level.Int(), true
	case RequirementStreak:
		return s.CurrentStreak, true
	case RequirementAchievement:
		return s.InteractiveCompleted, true
	case RequirementXP:
		return s.TotalXP.Int(), true
	default:
		return 0, false
	}
}

// Qualifies проверяет, выполнено ли требование награды.
func (r Reward) Qualifies(s Stats) bool {
	v, ok := s.Value(r.RequirementType)
	return ok && v >= r.RequirementValue
}

// Eligible возвращает награды, требования которых выполнены, в порядке
// (измерение, порог). Неизвестные измерения пропускаются.
func Eligible(catalog []Reward, s Stats) []Reward {
	out := make([]Reward, 0, len(catalog))
	for _, r := range catalog {
		if r.Qualifies(s) {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].RequirementType != out[j].RequirementType {
			return out[i].RequirementType < out[j].RequirementType
		}
		return out[i].RequirementValue < out[j].RequirementValue
	})
	return out
}

// UnlockDetails - текст записи журнала о разблокировке.
func UnlockDetails(r Reward) string {
	return "Unlocked achievement: " + r.Name
}
