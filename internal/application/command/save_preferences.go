package command

import (
	"context"
	"fmt"

	"github.com/cyberguard/cyberguard-training/internal/domain/shared"
	"github.com/cyberguard/cyberguard-training/internal/domain/user"
)

// ══════════════════════════════════════════════════════════════════════════════
// SAVE PREFERENCES COMMAND
// Настройки - произвольные пары ключ/значение. Все пары сохраняются
// в одной транзакции.
// ══════════════════════════════════════════════════════════════════════════════

// SavePreferencesCommand contains the preferences to upsert.
type SavePreferencesCommand struct {
	UserID      int64             `json:"user_id" validate:"required,gt=0"`
	Preferences map[string]string `json:"preferences" validate:"required"`
}

// Validate validates the command.
func (c SavePreferencesCommand) Validate() error {
	if err := validateCommand("SavePreferences", c); err != nil {
		return err
	}
	return user.ValidatePreferences(c.Preferences)
}

// SavePreferencesResult contains the number of saved keys.
type SavePreferencesResult struct {
	Success bool `json:"success"`
	Saved   int  `json:"saved"`
}

// SavePreferencesHandler handles SavePreferencesCommand.
type SavePreferencesHandler struct {
	prefs     user.PreferenceRepository
	publisher shared.EventPublisher
}

// NewSavePreferencesHandler creates a new SavePreferencesHandler.
// publisher may be nil.
func NewSavePreferencesHandler(prefs user.PreferenceRepository, publisher shared.EventPublisher) *SavePreferencesHandler {
	return &SavePreferencesHandler{prefs: prefs, publisher: publisher}
}

// Handle executes the command.
func (h *SavePreferencesHandler) Handle(ctx context.Context, cmd SavePreferencesCommand) (*SavePreferencesResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	if err := h.prefs.Save(ctx, cmd.UserID, cmd.Preferences); err != nil {
		return nil, fmt.Errorf("save_preferences: %w", err)
	}

	if h.publisher != nil {
		// Событие вторично, ошибка публикации не отменяет сохранение.
		_ = h.publisher.Publish(shared.NewPreferencesUpdatedEvent(cmd.UserID, user.SortedKeys(cmd.Preferences)))
	}

	return &SavePreferencesResult{Success: true, Saved: len(cmd.Preferences)}, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// SAVE PUSH SUBSCRIPTION COMMAND
// Подписка только сохраняется. Доставка уведомлений вне этого сервиса.
// ══════════════════════════════════════════════════════════════════════════════

// SavePushSubscriptionCommand contains a Web Push subscription.
type SavePushSubscriptionCommand struct {
	UserID   int64  `json:"user_id" validate:"required,gt=0"`
	Endpoint string `json:"endpoint" validate:"required,url,max=2048"`
	P256dh   string `json:"p256dh" validate:"required,max=255"`
	Auth     string `json:"auth" validate:"required,max=255"`
}

// Validate validates the command.
func (c SavePushSubscriptionCommand) Validate() error {
	return validateCommand("SavePushSubscription", c)
}

// SavePushSubscriptionHandler handles SavePushSubscriptionCommand.
type SavePushSubscriptionHandler struct {
	subs user.PushSubscriptionRepository
}

// NewSavePushSubscriptionHandler creates a new SavePushSubscriptionHandler.
func NewSavePushSubscriptionHandler(subs user.PushSubscriptionRepository) *SavePushSubscriptionHandler {
	return &SavePushSubscriptionHandler{subs: subs}
}

// Handle upserts the subscription by endpoint.
func (h *SavePushSubscriptionHandler) Handle(ctx context.Context, cmd SavePushSubscriptionCommand) error {
	if err := cmd.Validate(); err != nil {
		return err
	}

	sub := &user.PushSubscription{
		UserID:   cmd.UserID,
		Endpoint: cmd.Endpoint,
		P256dh:   cmd.P256dh,
		Auth:     cmd.Auth,
	}
	if err := h.subs.Save(ctx, sub); err != nil {
		return fmt.Errorf("save_push_subscription: %w", err)
	}
	return nil
}
