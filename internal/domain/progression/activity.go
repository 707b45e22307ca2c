// Package progression содержит доменную модель прогресса обучения:
// виды активностей, XP-леджер по категориям, серии дней (streak)
// и каталог наград. Пакет не зависит от инфраструктуры.
package progression

import (
	"time"

	"github.com/cyberguard/cyberguard-training/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ACTIVITY KINDS
// ══════════════════════════════════════════════════════════════════════════════

// ActivityKind - вид завершаемой активности.
type ActivityKind string

const (
	KindModule         ActivityKind = "module"
	KindQuizQuestion   ActivityKind = "quiz"
	KindScenario       ActivityKind = "scenario"
	KindInteractive    ActivityKind = "interactive"
	KindDailyChallenge ActivityKind = "daily_challenge"
)

// IsValid проверяет, что вид известен.
func (k ActivityKind) IsValid() bool {
	switch k {
	case KindModule, KindQuizQuestion, KindScenario, KindInteractive, KindDailyChallenge:
		return true
	}
	return false
}

// AtMostOnce сообщает, засчитывается ли завершение не более одного раза
// на пару (пользователь, элемент).
//
// Ответы на вопросы квиза намеренно не дедуплицируются: квиз - это
// флеш-карточки, которые проходят многократно.
func (k ActivityKind) AtMostOnce() bool {
	return k != KindQuizQuestion
}

// String возвращает строковое представление.
func (k ActivityKind) String() string {
	return string(k)
}

// Label возвращает название для журнала активности.
func (k ActivityKind) Label() string {
	switch k {
	case KindModule:
		return "module"
	case KindQuizQuestion:
		return "quiz question"
	case KindScenario:
		return "scenario"
	case KindInteractive:
		return "interactive element"
	case KindDailyChallenge:
		return "daily challenge"
	default:
		return string(k)
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// ACTIVITY ITEM
// ══════════════════════════════════════════════════════════════════════════════

// ActivityItem - элемент каталога, разрешённый для записи завершения.
type ActivityItem struct {
	Kind       ActivityKind
	ID         int64
	CategoryID int64
	Title      string
	XPReward   shared.XP

	// AvailableOn задан только для ежедневных заданий: завершить можно
	// только в этот календарный день.
	AvailableOn *time.Time
}

// ══════════════════════════════════════════════════════════════════════════════
// COMPLETION
// ══════════════════════════════════════════════════════════════════════════════

// Completion - факт завершения элемента пользователем.
type Completion struct {
	Kind           ActivityKind
	UserID         int64
	ItemID         int64
	CategoryID     int64
	XPEarned       shared.XP
	Correct        bool // только для квиза
	Score          int
	CompletionTime int // секунды, со слов клиента
	CompletedAt    time.Time
}

// XPFor считает начисление за завершение.
//
//   - квиз: награда вопроса при верном ответе, иначе 0 (не штраф);
//   - интерактив: заявленный клиентом XP, но не больше награды элемента;
//     без заявки XP не начисляется;
//   - остальное: награда элемента.
func XPFor(item ActivityItem, correct bool, claimed *shared.XP) shared.XP {
	switch item.Kind {
	case KindQuizQuestion:
		if !correct {
			return 0
		}
		return item.XPReward
	case KindInteractive:
		if claimed == nil || *claimed < 0 {
			return 0
		}
		if *claimed > item.XPReward {
			return item.XPReward
		}
		return *claimed
	default:
		return item.XPReward
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// CATEGORY LEDGER
// ══════════════════════════════════════════════════════════════════════════════

// CategoryGrant - приращения счётчиков категории от одного события.
type CategoryGrant struct {
	QuestionsAnswered    int
	QuestionsCorrect     int
	ScenariosCompleted   int
	ModulesCompleted     int
	InteractiveCompleted int
	XP                   shared.XP
}

// GrantFor строит приращение для завершения.
func GrantFor(c Completion) CategoryGrant {
	g := CategoryGrant{XP: c.XPEarned}
	switch c.Kind {
	case KindQuizQuestion:
		g.QuestionsAnswered = 1
		if c.Correct {
			g.QuestionsCorrect = 1
		}
	case KindScenario:
		g.ScenariosCompleted = 1
	case KindModule:
		g.ModulesCompleted = 1
	case KindInteractive:
		g.InteractiveCompleted = 1
	}
	return g
}

// CategoryProgress - прогресс пользователя в одной категории.
//
// Инварианты: CategoryXP - сумма всех начислений;
// QuestionsCorrect <= QuestionsAnswered.
type CategoryProgress struct {
	UserID               int64
	CategoryID           int64
	QuestionsAnswered    int
	QuestionsCorrect     int
	ScenariosCompleted   int
	ModulesCompleted     int
	InteractiveCompleted int
	CategoryXP           shared.XP
	LastActivity         time.Time
}

// Apply добавляет приращение. Используется в тестах и in-memory реализациях;
// в Postgres то же делает один атомарный upsert.
func (p *CategoryProgress) Apply(g CategoryGrant, at time.Time) {
	p.QuestionsAnswered += g.QuestionsAnswered
	p.QuestionsCorrect += g.QuestionsCorrect
	p.ScenariosCompleted += g.ScenariosCompleted
	p.ModulesCompleted += g.ModulesCompleted
	p.InteractiveCompleted += g.InteractiveCompleted
	p.CategoryXP += g.XP
	p.LastActivity = at
}

// Accuracy возвращает процент верных ответов (0-100).
func (p CategoryProgress) Accuracy() int {
	if p.QuestionsAnswered == 0 {
		return 0
	}
	return p.QuestionsCorrect * 100 / p.QuestionsAnswered
}

// Balance - глобальный баланс пользователя после начисления.
type Balance struct {
	TotalXP     shared.XP
	StoredLevel shared.Level
}

// ══════════════════════════════════════════════════════════════════════════════
// ACTIVITY LOG
// ══════════════════════════════════════════════════════════════════════════════

// ActivityLogEntry - запись журнала (только добавление).
type ActivityLogEntry struct {
	UserID       int64
	ActivityType string
	Details      string
	XPEarned     shared.XP
	CreatedAt    time.Time
}

// Activity types for the log.
const (
	LogTypeAchievement = "achievement"
	LogTypeLevelUp     = "level_up"
)
