package command

import (
	"context"

	progressapp "github.com/cyberguard/cyberguard-training/internal/application/progression"
	"github.com/cyberguard/cyberguard-training/internal/domain/progression"
	"github.com/cyberguard/cyberguard-training/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// COMPLETE ACTIVITY COMMANDS
// Завершение модуля, сценария, интерактива, ответа на вопрос квиза и
// ежедневного задания. Все они идут через один Recorder, который
// применяет завершение атомарно.
// ══════════════════════════════════════════════════════════════════════════════

// CompleteModuleCommand завершает учебный модуль.
type CompleteModuleCommand struct {
	UserID   int64 `json:"user_id" validate:"required,gt=0"`
	ModuleID int64 `json:"module_id" validate:"required,gt=0"`

	// CategoryID, если передан, должен совпадать с категорией модуля.
	CategoryID int64 `json:"category_id" validate:"gte=0"`

	CorrelationID string `json:"-"`
}

// AnswerQuestionCommand фиксирует ответ на карточку квиза.
// Ответы не дедуплицируются: карточки можно проходить повторно.
type AnswerQuestionCommand struct {
	UserID     int64 `json:"user_id" validate:"required,gt=0"`
	QuestionID int64 `json:"question_id" validate:"required,gt=0"`
	IsCorrect  bool  `json:"is_correct"`

	CorrelationID string `json:"-"`
}

// CompleteScenarioCommand завершает сценарий.
type CompleteScenarioCommand struct {
	UserID     int64 `json:"user_id" validate:"required,gt=0"`
	ScenarioID int64 `json:"scenario_id" validate:"required,gt=0"`
	Score      int   `json:"score" validate:"gte=0"`

	CorrelationID string `json:"-"`
}

// CompleteInteractiveCommand завершает интерактивный элемент.
type CompleteInteractiveCommand struct {
	UserID    int64 `json:"user_id" validate:"required,gt=0"`
	ElementID int64 `json:"element_id" validate:"required,gt=0"`

	// XPEarned - заявленный клиентом XP, ограничивается наградой элемента.
	// nil означает 0 XP: элемент засчитан, но без начисления.
	XPEarned       *int `json:"xp_earned" validate:"omitempty,gte=0"`
	Score          int  `json:"score" validate:"gte=0"`
	CompletionTime int  `json:"completion_time" validate:"gte=0"`

	CorrelationID string `json:"-"`
}

// CompleteDailyChallengeCommand завершает сегодняшнее задание.
type CompleteDailyChallengeCommand struct {
	UserID      int64 `json:"user_id" validate:"required,gt=0"`
	ChallengeID int64 `json:"challenge_id" validate:"required,gt=0"`

	CorrelationID string `json:"-"`
}

// Validate validates the command.
func (c CompleteModuleCommand) Validate() error { return validateCommand("CompleteModule", c) }

// Validate validates the command.
func (c AnswerQuestionCommand) Validate() error { return validateCommand("AnswerQuestion", c) }

// Validate validates the command.
func (c CompleteScenarioCommand) Validate() error { return validateCommand("CompleteScenario", c) }

// Validate validates the command.
func (c CompleteInteractiveCommand) Validate() error { return validateCommand("CompleteInteractive", c) }

// Validate validates the command.
func (c CompleteDailyChallengeCommand) Validate() error {
	return validateCommand("CompleteDailyChallenge", c)
}

// ══════════════════════════════════════════════════════════════════════════════
// RESULT
// ══════════════════════════════════════════════════════════════════════════════

// CompletionResult - ответ на любое завершение.
type CompletionResult struct {
	Success          bool `json:"success"`
	AlreadyCompleted bool `json:"already_completed,omitempty"`

	XPEarned int  `json:"xp_earned"`
	NewXP    int  `json:"new_xp"`
	NewLevel int  `json:"new_level"`
	LevelUp  bool `json:"level_up,omitempty"`

	Streak       *StreakResult       `json:"streak,omitempty"`
	Achievements []AchievementResult `json:"achievements,omitempty"`
}

// StreakResult - серия после завершения.
type StreakResult struct {
	Current    int    `json:"current"`
	Longest    int    `json:"longest"`
	Transition string `json:"transition"`
}

// AchievementResult - награда, полученная этим завершением.
type AchievementResult struct {
	Key  string `json:"key"`
	Name string `json:"name"`
	Icon string `json:"icon"`
}

func newCompletionResult(out *progressapp.Outcome) *CompletionResult {
	res := &CompletionResult{
		Success:          true,
		AlreadyCompleted: out.AlreadyCompleted,
		XPEarned:         out.XPEarned.Int(),
		NewXP:            out.TotalXP.Int(),
		NewLevel:         out.Level.Int(),
		LevelUp:          out.LevelUp,
	}

	if out.Streak != nil {
		res.Streak = &StreakResult{
			Current:    out.Streak.Streak.CurrentStreak,
			Longest:    out.Streak.Streak.LongestStreak,
			Transition: string(out.Streak.Transition),
		}
	}

	for _, rw := range out.Unlocked {
		res.Achievements = append(res.Achievements, AchievementResult{Key: rw.Key, Name: rw.Name, Icon: rw.Icon})
	}

	return res
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// CompletionRecorder - то, что нужно командам от Recorder.
type CompletionRecorder interface {
	Record(ctx context.Context, req progressapp.Request) (*progressapp.Outcome, error)
}

// CompleteActivityHandler handles every completion command.
type CompleteActivityHandler struct {
	recorder CompletionRecorder
	items    progression.ItemResolver
}

// NewCompleteActivityHandler creates a new CompleteActivityHandler.
func NewCompleteActivityHandler(recorder CompletionRecorder, items progression.ItemResolver) *CompleteActivityHandler {
	return &CompleteActivityHandler{
		recorder: recorder,
		items:    items,
	}
}

// CompleteModule завершает модуль. Несовпадение category_id с категорией
// модуля - ошибка валидации, до любых записей.
func (h *CompleteActivityHandler) CompleteModule(ctx context.Context, cmd CompleteModuleCommand) (*CompletionResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	if cmd.CategoryID != 0 {
		item, err := h.items.Resolve(ctx, progression.KindModule, cmd.ModuleID)
		if err != nil {
			return nil, err
		}
		if item.CategoryID != cmd.CategoryID {
			return nil, shared.Validation("command", "CompleteModule", "Module does not belong to category")
		}
	}

	return h.record(ctx, progressapp.Request{
		Kind:          progression.KindModule,
		UserID:        cmd.UserID,
		ItemID:        cmd.ModuleID,
		CorrelationID: cmd.CorrelationID,
	})
}

// AnswerQuestion фиксирует ответ на вопрос квиза.
func (h *CompleteActivityHandler) AnswerQuestion(ctx context.Context, cmd AnswerQuestionCommand) (*CompletionResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	return h.record(ctx, progressapp.Request{
		Kind:          progression.KindQuizQuestion,
		UserID:        cmd.UserID,
		ItemID:        cmd.QuestionID,
		Correct:       cmd.IsCorrect,
		CorrelationID: cmd.CorrelationID,
	})
}

// CompleteScenario завершает сценарий.
func (h *CompleteActivityHandler) CompleteScenario(ctx context.Context, cmd CompleteScenarioCommand) (*CompletionResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	return h.record(ctx, progressapp.Request{
		Kind:          progression.KindScenario,
		UserID:        cmd.UserID,
		ItemID:        cmd.ScenarioID,
		Score:         cmd.Score,
		CorrelationID: cmd.CorrelationID,
	})
}

// CompleteInteractive завершает интерактивный элемент.
func (h *CompleteActivityHandler) CompleteInteractive(ctx context.Context, cmd CompleteInteractiveCommand) (*CompletionResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	req := progressapp.Request{
		Kind:           progression.KindInteractive,
		UserID:         cmd.UserID,
		ItemID:         cmd.ElementID,
		Score:          cmd.Score,
		CompletionTime: cmd.CompletionTime,
		CorrelationID:  cmd.CorrelationID,
	}
	if cmd.XPEarned != nil {
		claimed := shared.XP(*cmd.XPEarned)
		req.ClaimedXP = &claimed
	}

	return h.record(ctx, req)
}

// CompleteDailyChallenge завершает ежедневное задание. Recorder отклоняет
// задания не на сегодня.
func (h *CompleteActivityHandler) CompleteDailyChallenge(ctx context.Context, cmd CompleteDailyChallengeCommand) (*CompletionResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	return h.record(ctx, progressapp.Request{
		Kind:          progression.KindDailyChallenge,
		UserID:        cmd.UserID,
		ItemID:        cmd.ChallengeID,
		CorrelationID: cmd.CorrelationID,
	})
}

func (h *CompleteActivityHandler) record(ctx context.Context, req progressapp.Request) (*CompletionResult, error) {
	out, err := h.recorder.Record(ctx, req)
	if err != nil {
		return nil, err
	}
	return newCompletionResult(out), nil
}
