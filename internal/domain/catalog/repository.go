package catalog

import (
	"context"
	"time"
)

// Repository - чтение каталога.
type Repository interface {
	// Categories возвращает все категории по возрастанию id.
	Categories(ctx context.Context) ([]Category, error)

	// Modules возвращает модули категории по (module_order, id) с флагом
	// завершения для userID.
	Modules(ctx context.Context, categoryID, userID int64) ([]Module, error)

	// Module возвращает модуль с названием категории.
	// Возвращает ErrModuleNotFound, если модуля нет.
	Module(ctx context.Context, id int64) (*Module, error)

	// Scenario возвращает сценарий с упорядоченными шагами и вариантами.
	// Возвращает ErrScenarioNotFound, если сценария нет.
	Scenario(ctx context.Context, id int64) (*Scenario, error)

	// Questions возвращает случайную выборку вопросов по фильтру.
	Questions(ctx context.Context, filter QuestionFilter) ([]Question, error)

	// InteractiveElements возвращает все интерактивные элементы с флагом
	// завершения для userID.
	InteractiveElements(ctx context.Context, userID int64) ([]InteractiveElement, error)

	// DailyChallenges возвращает задания с from на days дней вперёд.
	DailyChallenges(ctx context.Context, from time.Time, days int, userID int64) ([]DailyChallenge, error)
}

// ChallengeScheduler - запись заданий фоновой задачей.
type ChallengeScheduler interface {
	// Templates возвращает шаблоны заданий.
	Templates(ctx context.Context) ([]ChallengeTemplate, error)

	// ScheduledDates возвращает даты в [from, to], на которые задание уже есть.
	ScheduledDates(ctx context.Context, from, to time.Time) ([]time.Time, error)

	// Schedule создаёт задание на дату. Возвращает false, если на эту дату
	// задание уже существует.
	Schedule(ctx context.Context, date time.Time, tpl ChallengeTemplate) (bool, error)
}
