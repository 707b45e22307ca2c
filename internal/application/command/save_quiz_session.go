package command

import (
	"context"
	"fmt"

	"github.com/cyberguard/cyberguard-training/internal/domain/shared"
	"github.com/cyberguard/cyberguard-training/internal/domain/user"
)

// ══════════════════════════════════════════════════════════════════════════════
// SAVE QUIZ SESSION COMMAND
// Итог квиза для истории. XP здесь не начисляется: он уже начислен
// ответами на отдельные вопросы.
// ══════════════════════════════════════════════════════════════════════════════

// SaveQuizSessionCommand contains the quiz summary.
type SaveQuizSessionCommand struct {
	UserID     int64  `json:"user_id" validate:"required,gt=0"`
	Correct    int    `json:"correct" validate:"gte=0"`
	Incorrect  int    `json:"incorrect" validate:"gte=0"`
	TotalXP    int    `json:"total_xp" validate:"gte=0"`
	Category   string `json:"category" validate:"max=100"`
	Difficulty string `json:"difficulty" validate:"required,oneof=easy medium hard mixed"`
}

// Validate validates the command.
func (c SaveQuizSessionCommand) Validate() error { return validateCommand("SaveQuizSession", c) }

// SaveQuizSessionResult contains the stored summary id.
type SaveQuizSessionResult struct {
	Success   bool  `json:"success"`
	SessionID int64 `json:"session_id"`
}

// SaveQuizSessionHandler handles SaveQuizSessionCommand.
type SaveQuizSessionHandler struct {
	sessions user.QuizSessionRepository
}

// NewSaveQuizSessionHandler creates a new SaveQuizSessionHandler.
func NewSaveQuizSessionHandler(sessions user.QuizSessionRepository) *SaveQuizSessionHandler {
	return &SaveQuizSessionHandler{sessions: sessions}
}

// Handle executes the command.
func (h *SaveQuizSessionHandler) Handle(ctx context.Context, cmd SaveQuizSessionCommand) (*SaveQuizSessionResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	s := &user.QuizSession{
		UserID:     cmd.UserID,
		Correct:    cmd.Correct,
		Incorrect:  cmd.Incorrect,
		TotalXP:    cmd.TotalXP,
		Category:   cmd.Category,
		Difficulty: shared.Difficulty(cmd.Difficulty),
	}
	if err := h.sessions.Save(ctx, s); err != nil {
		return nil, fmt.Errorf("save_quiz_session: %w", err)
	}

	return &SaveQuizSessionResult{Success: true, SessionID: s.ID}, nil
}
