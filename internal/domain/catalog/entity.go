// Package catalog описывает учебный контент: категории, модули, вопросы
// квиза, сценарии, интерактивные элементы и ежедневные задания.
package catalog

import (
	"time"

	"github.com/cyberguard/cyberguard-training/internal/domain/shared"
)

// Category - тематическая группа (Phishing, Passwords, Malware).
type Category struct {
	ID          int64
	Name        string
	Icon        string
	Color       string
	Description string
}

// Module - учебный модуль внутри категории.
type Module struct {
	ID              int64
	CategoryID      int64
	CategoryName    string
	Title           string
	Content         string
	DurationMinutes int
	XPReward        shared.XP
	ModuleOrder     int

	// Completed заполняется для конкретного пользователя.
	Completed bool
}

// Question - карточка квиза.
type Question struct {
	ID         int64
	CategoryID int64
	Question   string
	Answer     string
	Difficulty shared.Difficulty
	XPReward   shared.XP
}

// QuestionFilter ограничивает выборку вопросов.
type QuestionFilter struct {
	CategoryID int64             // 0 - все категории
	Difficulty shared.Difficulty // "" - любая сложность
	Limit      int
}

// DefaultQuestionLimit - размер одной сессии квиза.
const DefaultQuestionLimit = 20

// Normalize подставляет значения по умолчанию.
func (f QuestionFilter) Normalize() QuestionFilter {
	if f.Limit <= 0 || f.Limit > DefaultQuestionLimit {
		f.Limit = DefaultQuestionLimit
	}
	return f
}

// Scenario - ветвящийся сценарий с шагами и вариантами выбора.
type Scenario struct {
	ID           int64
	CategoryID   int64
	CategoryName string
	Title        string
	Description  string
	Difficulty   shared.Difficulty
	XPReward     shared.XP
	Steps        []ScenarioStep
}

// ScenarioStep - шаг сценария.
type ScenarioStep struct {
	ID         int64
	StepNumber int
	StoryText  string
	Choices    []ScenarioChoice
}

// ScenarioChoice - вариант ответа на шаге.
type ScenarioChoice struct {
	ID         int64
	ChoiceText string
	IsCorrect  bool
	Feedback   string
	NextStepID *int64
}

// InteractiveElement - мини-игра (проверка пароля, поиск фишинга и т.п.).
type InteractiveElement struct {
	ID          int64
	CategoryID  int64
	Title       string
	ElementType string
	Description string
	XPReward    shared.XP

	Completed bool
}

// ══════════════════════════════════════════════════════════════════════════════
// DAILY CHALLENGES
// ══════════════════════════════════════════════════════════════════════════════

// ChallengeStatus - положение задания относительно сегодняшнего дня.
type ChallengeStatus string

const (
	ChallengeToday    ChallengeStatus = "today"
	ChallengeTomorrow ChallengeStatus = "tomorrow"
	ChallengeUpcoming ChallengeStatus = "upcoming"
)

// ChallengeWindowDays - сколько дней вперёд (включая сегодня) видно заданий.
const ChallengeWindowDays = 7

// DailyChallenge - задание на конкретный календарный день.
type DailyChallenge struct {
	ID            int64
	Date          time.Time
	CategoryID    int64
	CategoryName  string
	CategoryIcon  string
	Title         string
	Description   string
	ChallengeType string
	TargetValue   int
	XPReward      shared.XP

	Completed bool
}

// StatusOn вычисляет статус задания для дня today.
func (c DailyChallenge) StatusOn(today time.Time) ChallengeStatus {
	switch days := int(c.Date.Sub(today).Hours() / 24); {
	case days <= 0:
		return ChallengeToday
	case days == 1:
		return ChallengeTomorrow
	default:
		return ChallengeUpcoming
	}
}

// ChallengeTemplate - шаблон, из которого генерируются ежедневные задания.
type ChallengeTemplate struct {
	Key           string
	CategoryID    int64
	Title         string
	Description   string
	ChallengeType string
	TargetValue   int
	XPReward      shared.XP
}
