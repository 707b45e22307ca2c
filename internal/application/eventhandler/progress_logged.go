package eventhandler

import (
	"github.com/cyberguard/cyberguard-training/internal/domain/shared"
	"github.com/cyberguard/cyberguard-training/pkg/logger"
)

// ═══════════════════════════════════════════════════════════════════════════
// PROGRESS LOG HANDLER
// Пишет заметные события прогресса в структурированный лог.
// ═══════════════════════════════════════════════════════════════════════════

// ProgressLogHandler журналирует регистрации, повышения уровня,
// достижения и сбросы серии.
type ProgressLogHandler struct {
	log *logger.Logger
}

// NewProgressLogHandler создаёт новый обработчик.
func NewProgressLogHandler(log *logger.Logger) *ProgressLogHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &ProgressLogHandler{log: log.With(logger.Component("progress"))}
}

// EventTypes возвращает типы событий, которые попадают в лог.
func (h *ProgressLogHandler) EventTypes() []shared.EventType {
	return []shared.EventType{
		shared.EventUserRegistered,
		shared.EventLevelUp,
		shared.EventAchievementUnlocked,
		shared.EventDailyStreakUpdated,
	}
}

// Handle реализует shared.EventHandler.
func (h *ProgressLogHandler) Handle(event shared.Event) error {
	switch e := event.(type) {
	case shared.UserRegisteredEvent:
		h.log.Info("user registered", logger.UserID(e.UserID), logger.Username(e.Username))
	case shared.LevelUpEvent:
		h.log.Info("level up",
			logger.UserID(e.UserID),
			logger.Int("old_level", e.OldLevel),
			logger.Int("new_level", e.NewLevel),
			logger.Int("total_xp", e.TotalXP),
		)
	case shared.AchievementUnlockedEvent:
		h.log.Info("achievement unlocked",
			logger.UserID(e.UserID),
			logger.String("reward_key", e.RewardKey),
			logger.String("reward_name", e.Name),
		)
	case shared.DailyStreakUpdatedEvent:
		if e.Reset {
			h.log.Debug("streak reset", logger.UserID(e.UserID), logger.Int("longest", e.LongestStreak))
		}
	}
	return nil
}
