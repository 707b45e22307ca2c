package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/cyberguard/cyberguard-training/internal/domain/progression"
	"github.com/cyberguard/cyberguard-training/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// REWARDS
// ══════════════════════════════════════════════════════════════════════════════

// RewardRepository implements progression.RewardStore.
type RewardRepository struct {
	q Querier
}

// NewRewardRepository creates a new RewardRepository.
func NewRewardRepository(q Querier) *RewardRepository {
	return &RewardRepository{q: q}
}

const rewardColumns = `r.id, r.key, r.name, r.description, r.icon, r.reward_type, r.requirement_type, r.requirement_value`

// Catalog returns every reward ordered by (requirement_type, requirement_value).
func (r *RewardRepository) Catalog(ctx context.Context) ([]progression.Reward, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+rewardColumns+`
		FROM rewards r
		ORDER BY r.requirement_type, r.requirement_value
	`)
	if err != nil {
		return nil, classify("load reward catalog", err)
	}
	defer rows.Close()

	var result []progression.Reward
	for rows.Next() {
		rw, err := scanReward(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, rw)
	}

	return result, rows.Err()
}

// Unlock inserts the (user, reward) pair. false means it already existed.
func (r *RewardRepository) Unlock(ctx context.Context, userID int64, reward progression.Reward) (bool, error) {
	tag, err := r.q.Exec(ctx, `
		INSERT INTO user_rewards (user_id, reward_id)
		VALUES ($1, $2)
		ON CONFLICT (user_id, reward_id) DO NOTHING
	`, userID, reward.ID)
	if err != nil {
		return false, classify("unlock reward", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Unlocked returns the user's rewards in unlock order.
func (r *RewardRepository) Unlocked(ctx context.Context, userID int64) ([]progression.Reward, error) {
	unlocked, err := r.UnlockedWithTime(ctx, userID)
	if err != nil {
		return nil, err
	}
	result := make([]progression.Reward, 0, len(unlocked))
	for _, u := range unlocked {
		result = append(result, u.Reward)
	}
	return result, nil
}

// UnlockedReward is a reward together with its unlock time.
type UnlockedReward struct {
	progression.Reward
	UnlockedAt time.Time
}

// UnlockedWithTime returns the user's rewards with unlock timestamps.
func (r *RewardRepository) UnlockedWithTime(ctx context.Context, userID int64) ([]UnlockedReward, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+rewardColumns+`, ur.unlocked_at
		FROM user_rewards ur
		JOIN rewards r ON r.id = ur.reward_id
		WHERE ur.user_id = $1
		ORDER BY ur.unlocked_at, r.id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query unlocked rewards: %w", err)
	}
	defer rows.Close()

	var result []UnlockedReward
	for rows.Next() {
		var (
			u     UnlockedReward
			rtype string
		)
		if err := rows.Scan(
			&u.ID, &u.Key, &u.Name, &u.Description, &u.Icon,
			&u.RewardType, &rtype, &u.RequirementValue, &u.UnlockedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan unlocked reward: %w", err)
		}
		u.RequirementType = progression.RequirementType(rtype)
		result = append(result, u)
	}

	return result, rows.Err()
}

func scanReward(row scanner) (progression.Reward, error) {
	var (
		rw    progression.Reward
		rtype string
	)
	if err := row.Scan(
		&rw.ID, &rw.Key, &rw.Name, &rw.Description, &rw.Icon,
		&rw.RewardType, &rtype, &rw.RequirementValue,
	); err != nil {
		return progression.Reward{}, fmt.Errorf("failed to scan reward: %w", err)
	}
	rw.RequirementType = progression.RequirementType(rtype)
	return rw, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// ACTIVITY LOG
// ══════════════════════════════════════════════════════════════════════════════

// ActivityLogRepository implements progression.ActivityLog.
type ActivityLogRepository struct {
	q Querier
}

// NewActivityLogRepository creates a new ActivityLogRepository.
func NewActivityLogRepository(q Querier) *ActivityLogRepository {
	return &ActivityLogRepository{q: q}
}

// Append adds an entry. A zero CreatedAt uses the database clock.
func (r *ActivityLogRepository) Append(ctx context.Context, e progression.ActivityLogEntry) error {
	var createdAt *time.Time
	if !e.CreatedAt.IsZero() {
		createdAt = &e.CreatedAt
	}

	_, err := r.q.Exec(ctx, `
		INSERT INTO activity_log (user_id, activity_type, details, xp_earned, created_at)
		VALUES ($1, $2, $3, $4, COALESCE($5, NOW()))
	`, e.UserID, e.ActivityType, e.Details, e.XPEarned.Int(), createdAt)
	if err != nil {
		return classify("append activity log", err)
	}
	return nil
}

// Recent returns up to limit newest entries.
func (r *ActivityLogRepository) Recent(ctx context.Context, userID int64, limit int) ([]progression.ActivityLogEntry, error) {
	rows, err := r.q.Query(ctx, `
		SELECT user_id, activity_type, details, xp_earned, created_at
		FROM activity_log
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query activity log: %w", err)
	}
	defer rows.Close()

	var result []progression.ActivityLogEntry
	for rows.Next() {
		var (
			e  progression.ActivityLogEntry
			xp int
		)
		if err := rows.Scan(&e.UserID, &e.ActivityType, &e.Details, &xp, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan activity log: %w", err)
		}
		e.XPEarned = shared.XP(xp)
		result = append(result, e)
	}

	return result, rows.Err()
}

// ══════════════════════════════════════════════════════════════════════════════
// STATS
// ══════════════════════════════════════════════════════════════════════════════

// StatsRepository implements progression.StatsReader.
type StatsRepository struct {
	q Querier
}

// NewStatsRepository creates a new StatsRepository.
func NewStatsRepository(q Querier) *StatsRepository {
	return &StatsRepository{q: q}
}

// Stats reads every dimension the reward catalog can require.
func (r *StatsRepository) Stats(ctx context.Context, userID int64) (progression.Stats, error) {
	var xp, level, streak, interactive int
	err := r.q.QueryRow(ctx, `
		SELECT u.total_xp, u.level,
			COALESCE(s.current_streak, 0),
			(SELECT COUNT(*) FROM interactive_completions ic WHERE ic.user_id = u.id)
		FROM users u
		LEFT JOIN user_streaks s ON s.user_id = u.id
		WHERE u.id = $1
	`, userID).Scan(&xp, &level, &streak, &interactive)
	if err != nil {
		if IsNoRows(err) {
			return progression.Stats{}, shared.ErrUserNotFound
		}
		return progression.Stats{}, classify("load stats", err)
	}

	return progression.Stats{
		TotalXP:              shared.XP(xp),
		Level:                shared.Level(level),
		CurrentStreak:        streak,
		InteractiveCompleted: interactive,
	}, nil
}
