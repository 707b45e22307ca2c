package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/cyberguard/cyberguard-training/internal/domain/shared"
	"github.com/cyberguard/cyberguard-training/internal/domain/user"
	"github.com/cyberguard/cyberguard-training/pkg/logger"
	"github.com/cyberguard/cyberguard-training/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// LOGIN COMMAND
// Вход с авторегистрацией: неизвестное имя создаёт пользователя.
// Пароль необязателен, пока пользователь его не задал.
// ══════════════════════════════════════════════════════════════════════════════

// LoginCommand contains the credentials.
type LoginCommand struct {
	Username string `json:"username" validate:"required,max=100"`

	// Password ограничен 72 байтами - пределом bcrypt.
	Password string `json:"password" validate:"max=72"`
}

// Validate validates the command.
func (c LoginCommand) Validate() error { return validateCommand("Login", c) }

// LoginResult - ответ на успешный вход.
type LoginResult struct {
	Success   bool      `json:"success"`
	UserID    int64     `json:"user_id"`
	Username  string    `json:"username"`
	Level     int       `json:"level"`
	TotalXP   int       `json:"total_xp"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"-"`

	// Registered - пользователь создан этим входом.
	Registered bool `json:"registered,omitempty"`
}

// LoginConfig configures the login handler.
type LoginConfig struct {
	// SessionTTL - время жизни сессии.
	SessionTTL time.Duration

	// BcryptCost - стоимость хеширования (тесты используют bcrypt.MinCost).
	BcryptCost int
}

// DefaultLoginConfig returns default configuration.
func DefaultLoginConfig() LoginConfig {
	return LoginConfig{
		SessionTTL: 24 * time.Hour,
		BcryptCost: bcrypt.DefaultCost,
	}
}

// LoginHandler handles LoginCommand.
type LoginHandler struct {
	users     user.Repository
	sessions  user.SessionStore
	publisher shared.EventPublisher
	clock     timeutil.Clock
	config    LoginConfig
	log       *logger.Logger
}

// NewLoginHandler creates a new LoginHandler. publisher may be nil.
func NewLoginHandler(
	users user.Repository,
	sessions user.SessionStore,
	publisher shared.EventPublisher,
	clock timeutil.Clock,
	log *logger.Logger,
	config LoginConfig,
) *LoginHandler {
	if config.SessionTTL <= 0 {
		config.SessionTTL = DefaultLoginConfig().SessionTTL
	}
	if config.BcryptCost == 0 {
		config.BcryptCost = bcrypt.DefaultCost
	}
	if log == nil {
		log = logger.Nop()
	}
	if clock == nil {
		clock = timeutil.NewSystemClock(time.UTC)
	}

	return &LoginHandler{
		users:     users,
		sessions:  sessions,
		publisher: publisher,
		clock:     clock,
		config:    config,
		log:       log.With(logger.Component("login")),
	}
}

// Handle authenticates or registers the user and opens a session.
func (h *LoginHandler) Handle(ctx context.Context, cmd LoginCommand) (*LoginResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	username, err := shared.NewUsername(cmd.Username)
	if err != nil {
		return nil, err
	}

	u, err := h.users.GetByUsername(ctx, username)
	registered := false
	switch {
	case errors.Is(err, shared.ErrUserNotFound):
		u, registered, err = h.register(ctx, username, cmd.Password)
		if err != nil {
			return nil, err
		}
	case err != nil:
		return nil, fmt.Errorf("login: load user: %w", err)
	default:
		if err := h.checkPassword(ctx, u, cmd.Password); err != nil {
			return nil, err
		}
	}

	if registered && h.publisher != nil {
		if err := h.publisher.Publish(shared.NewUserRegisteredEvent(u.ID, u.Username.String())); err != nil {
			h.log.Warn("failed to publish event", logger.UserID(u.ID), logger.Err(err))
		}
	}

	now := h.clock.Now()
	session := user.Session{
		Token:     uuid.NewString(),
		UserID:    u.ID,
		Username:  u.Username.String(),
		CreatedAt: now,
		ExpiresAt: now.Add(h.config.SessionTTL),
	}
	if err := h.sessions.Create(ctx, session, h.config.SessionTTL); err != nil {
		return nil, fmt.Errorf("login: create session: %w", err)
	}

	return &LoginResult{
		Success:    true,
		UserID:     u.ID,
		Username:   u.Username.String(),
		Level:      u.Level.Int(),
		TotalXP:    u.TotalXP.Int(),
		Token:      session.Token,
		ExpiresAt:  session.ExpiresAt,
		Registered: registered,
	}, nil
}

// register создаёт пользователя. Если параллельный вход успел создать его
// первым, продолжаем как вход существующего.
func (h *LoginHandler) register(ctx context.Context, username shared.Username, password string) (*user.User, bool, error) {
	u := &user.User{Username: username}
	if password != "" {
		hash, err := h.hash(password)
		if err != nil {
			return nil, false, err
		}
		u.PasswordHash = &hash
	}

	if err := h.users.Create(ctx, u); err != nil {
		if !shared.IsAlreadyExists(err) {
			return nil, false, fmt.Errorf("login: create user: %w", err)
		}
		existing, err := h.users.GetByUsername(ctx, username)
		if err != nil {
			return nil, false, fmt.Errorf("login: load user: %w", err)
		}
		return existing, false, h.checkPassword(ctx, existing, password)
	}

	h.log.Info("user registered", logger.UserID(u.ID), logger.Username(u.Username.String()))
	return u, true, nil
}

// checkPassword сверяет пароль. Пользователю без пароля задаётся
// переданный пароль.
func (h *LoginHandler) checkPassword(ctx context.Context, u *user.User, password string) error {
	if !u.HasPassword() {
		if password == "" {
			return nil
		}
		hash, err := h.hash(password)
		if err != nil {
			return err
		}
		if err := h.users.SetPasswordHash(ctx, u.ID, hash); err != nil {
			if errors.Is(err, shared.ErrInvalidCredentials) {
				return err
			}
			return fmt.Errorf("login: set password: %w", err)
		}
		u.PasswordHash = &hash
		return nil
	}

	if password == "" {
		return shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(*u.PasswordHash), []byte(password)); err != nil {
		return shared.ErrInvalidCredentials
	}
	return nil
}

func (h *LoginHandler) hash(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), h.config.BcryptCost)
	if err != nil {
		return "", fmt.Errorf("login: hash password: %w", err)
	}
	return string(b), nil
}

// ══════════════════════════════════════════════════════════════════════════════
// LOGOUT COMMAND
// ══════════════════════════════════════════════════════════════════════════════

// LogoutCommand closes a session.
type LogoutCommand struct {
	Token string `json:"token" validate:"required"`
}

// Validate validates the command.
func (c LogoutCommand) Validate() error { return validateCommand("Logout", c) }

// LogoutHandler handles LogoutCommand.
type LogoutHandler struct {
	sessions user.SessionStore
}

// NewLogoutHandler creates a new LogoutHandler.
func NewLogoutHandler(sessions user.SessionStore) *LogoutHandler {
	return &LogoutHandler{sessions: sessions}
}

// Handle deletes the session. Deleting an unknown token is not an error.
func (h *LogoutHandler) Handle(ctx context.Context, cmd LogoutCommand) error {
	if err := cmd.Validate(); err != nil {
		return err
	}
	if err := h.sessions.Delete(ctx, cmd.Token); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}
