// Package eventhandler содержит обработчики доменных событий.
// Обработчики реагируют на уже зафиксированные изменения и запускают
// побочные эффекты: метрики, сброс кешей, журналирование.
package eventhandler

import (
	"github.com/cyberguard/cyberguard-training/internal/domain/shared"
)

// ═══════════════════════════════════════════════════════════════════════════
// PROGRESS METRICS HANDLER
// Переводит события прогресса в счётчики Prometheus.
// ═══════════════════════════════════════════════════════════════════════════

// ProgressMetrics - счётчики прогресса.
type ProgressMetrics interface {
	ObserveCompletion(kind string, xp int)
	ObserveXP(kind string, amount int)
	ObserveLevelUp(levels int)
	ObserveAchievement(rewardKey string)
	ObserveStreak(transition string)
}

// ProgressMetricsHandler обновляет метрики по событиям прогресса.
type ProgressMetricsHandler struct {
	metrics ProgressMetrics
}

// NewProgressMetricsHandler создаёт новый обработчик.
func NewProgressMetricsHandler(metrics ProgressMetrics) *ProgressMetricsHandler {
	return &ProgressMetricsHandler{metrics: metrics}
}

// EventTypes возвращает типы событий, на которые нужно подписать Handle.
func (h *ProgressMetricsHandler) EventTypes() []shared.EventType {
	return []shared.EventType{
		shared.EventActivityCompleted,
		shared.EventXPGained,
		shared.EventLevelUp,
		shared.EventDailyStreakUpdated,
		shared.EventAchievementUnlocked,
	}
}

// Handle реализует shared.EventHandler. Незнакомые события игнорируются.
func (h *ProgressMetricsHandler) Handle(event shared.Event) error {
	switch e := event.(type) {
	case shared.ActivityCompletedEvent:
		h.metrics.ObserveCompletion(e.Kind, e.XPEarned)
	case shared.XPGainedEvent:
		h.metrics.ObserveXP(e.Source, e.Amount)
	case shared.LevelUpEvent:
		h.metrics.ObserveLevelUp(e.NewLevel - e.OldLevel)
	case shared.DailyStreakUpdatedEvent:
		h.metrics.ObserveStreak(streakTransition(e))
	case shared.AchievementUnlockedEvent:
		h.metrics.ObserveAchievement(e.RewardKey)
	}
	return nil
}

// streakTransition восстанавливает класс перехода по событию. Событие
// публикуется только при изменении счётчика.
func streakTransition(e shared.DailyStreakUpdatedEvent) string {
	switch {
	case e.Reset:
		return "reset"
	case e.CurrentStreak == 1:
		return "started"
	default:
		return "continued"
	}
}
