package eventhandler

import (
	"context"
	"fmt"
	"time"

	"github.com/cyberguard/cyberguard-training/internal/domain/shared"
	"github.com/cyberguard/cyberguard-training/pkg/logger"
)

// ═══════════════════════════════════════════════════════════════════════════
// PROFILE INVALIDATION HANDLER
// Сбрасывает закешированный профиль, когда меняются данные, из которых
// он собран.
// ═══════════════════════════════════════════════════════════════════════════

// ProfileInvalidator сбрасывает профиль пользователя.
type ProfileInvalidator interface {
	Invalidate(ctx context.Context, userID int64) error
}

// ProfileInvalidationHandler обрабатывает события, меняющие профиль.
type ProfileInvalidationHandler struct {
	cache   ProfileInvalidator
	timeout time.Duration
	log     *logger.Logger
}

// NewProfileInvalidationHandler создаёт новый обработчик.
func NewProfileInvalidationHandler(cache ProfileInvalidator, log *logger.Logger) *ProfileInvalidationHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &ProfileInvalidationHandler{
		cache:   cache,
		timeout: 2 * time.Second,
		log:     log.With(logger.Component("profile_invalidation")),
	}
}

// EventTypes возвращает типы событий, после которых профиль устаревает.
func (h *ProfileInvalidationHandler) EventTypes() []shared.EventType {
	return []shared.EventType{
		shared.EventActivityCompleted,
		shared.EventXPGained,
		shared.EventLevelUp,
		shared.EventDailyStreakUpdated,
		shared.EventAchievementUnlocked,
		shared.EventPreferencesUpdated,
	}
}

// Handle реализует shared.EventHandler.
func (h *ProfileInvalidationHandler) Handle(event shared.Event) error {
	userID, ok := UserIDOf(event)
	if !ok {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	if err := h.cache.Invalidate(ctx, userID); err != nil {
		// профиль доживёт до TTL
		h.log.Warn("failed to invalidate profile",
			logger.UserID(userID),
			logger.String("event_type", string(event.EventType())),
			logger.Err(err),
		)
		return fmt.Errorf("invalidate profile: %w", err)
	}
	return nil
}

// UserIDOf извлекает пользователя из события.
func UserIDOf(event shared.Event) (int64, bool) {
	switch e := event.(type) {
	case shared.ActivityCompletedEvent:
		return e.UserID, true
	case shared.XPGainedEvent:
		return e.UserID, true
	case shared.LevelUpEvent:
		return e.UserID, true
	case shared.DailyStreakUpdatedEvent:
		return e.UserID, true
	case shared.AchievementUnlockedEvent:
		return e.UserID, true
	case shared.PreferencesUpdatedEvent:
		return e.UserID, true
	case shared.UserRegisteredEvent:
		return e.UserID, true
	}
	return 0, false
}
