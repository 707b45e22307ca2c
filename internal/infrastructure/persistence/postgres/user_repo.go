package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/cyberguard/cyberguard-training/internal/domain/shared"
	"github.com/cyberguard/cyberguard-training/internal/domain/user"
)

// ══════════════════════════════════════════════════════════════════════════════
// USER REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// UserRepository implements user.Repository for PostgreSQL.
type UserRepository struct {
	conn *Connection
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(conn *Connection) *UserRepository {
	return &UserRepository{conn: conn}
}

const userColumns = `id, username, password_hash, COALESCE(email, ''), total_xp, level, created_at`

// GetByID returns a user by ID.
func (r *UserRepository) GetByID(ctx context.Context, id int64) (*user.User, error) {
	row := r.conn.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return r.scanUser(row)
}

// GetByUsername returns a user by username.
func (r *UserRepository) GetByUsername(ctx context.Context, username shared.Username) (*user.User, error) {
	row := r.conn.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username.String())
	return r.scanUser(row)
}

// Create inserts a new user at total_xp=0, level=1 and fills ID and CreatedAt.
func (r *UserRepository) Create(ctx context.Context, u *user.User) error {
	var email *string
	if u.Email != "" {
		email = &u.Email
	}

	err := r.conn.QueryRow(ctx, `
		INSERT INTO users (username, password_hash, email, total_xp, level)
		VALUES ($1, $2, $3, 0, 1)
		RETURNING id, created_at
	`, u.Username.String(), u.PasswordHash, email).Scan(&u.ID, &u.CreatedAt)
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.WrapError("user", "Create", shared.ErrAlreadyExists, "Username already taken", err)
		}
		return fmt.Errorf("failed to create user: %w", err)
	}

	u.TotalXP = 0
	u.Level = shared.MinLevel
	return nil
}

// SetPasswordHash sets the password of a user that has none.
func (r *UserRepository) SetPasswordHash(ctx context.Context, id int64, hash string) error {
	tag, err := r.conn.Exec(ctx, `
		UPDATE users SET password_hash = $2
		WHERE id = $1 AND (password_hash IS NULL OR password_hash = '')
	`, id, hash)
	if err != nil {
		return fmt.Errorf("failed to set password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrInvalidCredentials
	}
	return nil
}

func (r *UserRepository) scanUser(row pgx.Row) (*user.User, error) {
	var (
		u        user.User
		username string
		xp, lvl  int
	)
	err := row.Scan(&u.ID, &username, &u.PasswordHash, &u.Email, &xp, &lvl, &u.CreatedAt)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	u.Username = shared.Username(username)
	u.TotalXP = shared.XP(xp)
	u.Level = shared.Level(lvl)
	return &u, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// PREFERENCES
// ══════════════════════════════════════════════════════════════════════════════

// PreferenceRepository implements user.PreferenceRepository.
type PreferenceRepository struct {
	conn *Connection
}

// NewPreferenceRepository creates a new PreferenceRepository.
func NewPreferenceRepository(conn *Connection) *PreferenceRepository {
	return &PreferenceRepository{conn: conn}
}

// Save upserts every key in one transaction, batched into one round trip.
func (r *PreferenceRepository) Save(ctx context.Context, userID int64, prefs map[string]string) error {
	return r.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, key := range user.SortedKeys(prefs) {
			batch.Queue(`
				INSERT INTO user_preferences (user_id, pref_key, pref_value, updated_at)
				VALUES ($1, $2, $3, NOW())
				ON CONFLICT (user_id, pref_key) DO UPDATE SET
					pref_value = EXCLUDED.pref_value,
					updated_at = EXCLUDED.updated_at
			`, userID, key, prefs[key])
		}

		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to save preferences: %w", err)
		}
		return nil
	})
}

// Get returns the user's preferences. A user without any gets an empty map.
func (r *PreferenceRepository) Get(ctx context.Context, userID int64) (map[string]string, error) {
	rows, err := r.conn.Query(ctx, `SELECT pref_key, pref_value FROM user_preferences WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query preferences: %w", err)
	}
	defer rows.Close()

	result := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("failed to scan preference: %w", err)
		}
		result[k] = v
	}

	return result, rows.Err()
}

// ══════════════════════════════════════════════════════════════════════════════
// PUSH SUBSCRIPTIONS / QUIZ SESSIONS
// ══════════════════════════════════════════════════════════════════════════════

// PushSubscriptionRepository implements user.PushSubscriptionRepository.
type PushSubscriptionRepository struct {
	conn *Connection
}

// NewPushSubscriptionRepository creates a new PushSubscriptionRepository.
func NewPushSubscriptionRepository(conn *Connection) *PushSubscriptionRepository {
	return &PushSubscriptionRepository{conn: conn}
}

// Save upserts by endpoint. The endpoint moves to the latest user.
func (r *PushSubscriptionRepository) Save(ctx context.Context, sub *user.PushSubscription) error {
	err := r.conn.QueryRow(ctx, `
		INSERT INTO push_subscriptions (user_id, endpoint, p256dh, auth)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (endpoint) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			p256dh = EXCLUDED.p256dh,
			auth = EXCLUDED.auth
		RETURNING created_at
	`, sub.UserID, sub.Endpoint, sub.P256dh, sub.Auth).Scan(&sub.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save push subscription: %w", err)
	}
	return nil
}

// QuizSessionRepository implements user.QuizSessionRepository.
type QuizSessionRepository struct {
	conn *Connection
}

// NewQuizSessionRepository creates a new QuizSessionRepository.
func NewQuizSessionRepository(conn *Connection) *QuizSessionRepository {
	return &QuizSessionRepository{conn: conn}
}

// Save inserts the summary and fills ID and CreatedAt.
func (r *QuizSessionRepository) Save(ctx context.Context, s *user.QuizSession) error {
	err := r.conn.QueryRow(ctx, `
		INSERT INTO quiz_sessions (user_id, correct, incorrect, total_xp, category, difficulty)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`, s.UserID, s.Correct, s.Incorrect, s.TotalXP, s.Category, string(s.Difficulty)).Scan(&s.ID, &s.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save quiz session: %w", err)
	}
	return nil
}
