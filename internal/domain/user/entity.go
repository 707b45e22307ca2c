// Package user описывает учётные записи, сессии, настройки и
// push-подписки пользователей.
package user

import (
	"context"
	"regexp"
	"sort"
	"time"
	"unicode/utf8"

	"github.com/cyberguard/cyberguard-training/internal/domain/shared"
)

// User - учётная запись. Создаётся при первом входе.
type User struct {
	ID           int64
	Username     shared.Username
	PasswordHash *string // nil - пароль ещё не задан
	Email        string
	TotalXP      shared.XP
	Level        shared.Level
	CreatedAt    time.Time
}

// HasPassword сообщает, задан ли пароль.
func (u *User) HasPassword() bool {
	return u.PasswordHash != nil && *u.PasswordHash != ""
}

// Session - аутентифицированная сессия.
type Session struct {
	Token     string
	UserID    int64
	Username  string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// IsExpired проверяет истечение сессии.
func (s Session) IsExpired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// QuizSession - итог прохождения квиза. Не влияет на XP.
type QuizSession struct {
	ID         int64
	UserID     int64
	Correct    int
	Incorrect  int
	TotalXP    int
	Category   string
	Difficulty shared.Difficulty
	CreatedAt  time.Time
}

// PushSubscription - Web Push подписка. Только хранение.
type PushSubscription struct {
	UserID    int64
	Endpoint  string
	P256dh    string
	Auth      string
	CreatedAt time.Time
}

// ══════════════════════════════════════════════════════════════════════════════
// PREFERENCES
// ══════════════════════════════════════════════════════════════════════════════

const maxPreferenceValueLen = 255

var preferenceKeyPattern = regexp.MustCompile(`^[a-z_]{1,50}$`)

// ValidatePreferences проверяет ключи и значения настроек.
func ValidatePreferences(prefs map[string]string) error {
	if len(prefs) == 0 {
		return shared.Validation("user", "SavePreferences", "No preferences provided")
	}
	for k, v := range prefs {
		if !preferenceKeyPattern.MatchString(k) {
			return shared.Validation("user", "SavePreferences", "Invalid preference key: "+k)
		}
		if utf8.RuneCountInString(v) > maxPreferenceValueLen {
			return shared.Validation("user", "SavePreferences", "Preference value too long: "+k)
		}
	}
	return nil
}

// SortedKeys возвращает ключи настроек по алфавиту.
func SortedKeys(prefs map[string]string) []string {
	keys := make([]string, 0, len(prefs))
	for k := range prefs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// ══════════════════════════════════════════════════════════════════════════════

// Repository - хранилище пользователей.
type Repository interface {
	// GetByID возвращает ErrUserNotFound, если пользователя нет.
	GetByID(ctx context.Context, id int64) (*User, error)

	// GetByUsername возвращает ErrUserNotFound, если пользователя нет.
	GetByUsername(ctx context.Context, username shared.Username) (*User, error)

	// Create вставляет пользователя и заполняет ID и CreatedAt.
	// Возвращает ошибку с ErrAlreadyExists при гонке регистраций.
	Create(ctx context.Context, u *User) error

	// SetPasswordHash задаёт пароль пользователю без пароля.
	SetPasswordHash(ctx context.Context, id int64, hash string) error
}

// PreferenceRepository - настройки пользователя (ключ/значение).
type PreferenceRepository interface {
	// Save вставляет или обновляет все пары в одной транзакции.
	Save(ctx context.Context, userID int64, prefs map[string]string) error
	Get(ctx context.Context, userID int64) (map[string]string, error)
}

// PushSubscriptionRepository хранит подписки по endpoint.
type PushSubscriptionRepository interface {
	Save(ctx context.Context, sub *PushSubscription) error
}

// QuizSessionRepository хранит итоги квизов.
type QuizSessionRepository interface {
	Save(ctx context.Context, s *QuizSession) error
}

// SessionStore хранит сессии (Redis).
type SessionStore interface {
	Create(ctx context.Context, s Session, ttl time.Duration) error
	Get(ctx context.Context, token string) (*Session, error)
	Delete(ctx context.Context, token string) error
}
