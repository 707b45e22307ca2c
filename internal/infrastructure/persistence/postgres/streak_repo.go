package postgres

import (
	"context"
	"time"

	"github.com/cyberguard/cyberguard-training/internal/domain/progression"
	"github.com/cyberguard/cyberguard-training/pkg/timeutil"
)

// StreakRepository implements progression.StreakStore.
type StreakRepository struct {
	q Querier
}

// NewStreakRepository creates a new StreakRepository.
func NewStreakRepository(q Querier) *StreakRepository {
	return &StreakRepository{q: q}
}

// lockStreakQuery reads the latest committed row and holds it until the
// transaction ends, so the upsert below cannot act on a newer version.
const lockStreakQuery = `
	SELECT current_streak, longest_streak, last_activity_date
	FROM user_streaks
	WHERE user_id = $1
	FOR UPDATE
`

// touchStreakQuery applies the streak FSM in one conditional upsert:
// same day or earlier keeps the row, yesterday extends it, a gap resets
// current to 1.
const touchStreakQuery = `
	INSERT INTO user_streaks (user_id, current_streak, longest_streak, last_activity_date)
	VALUES ($1, 1, 1, $2::date)
	ON CONFLICT (user_id) DO UPDATE SET
		current_streak = CASE
			WHEN user_streaks.last_activity_date >= EXCLUDED.last_activity_date THEN user_streaks.current_streak
			WHEN user_streaks.last_activity_date = EXCLUDED.last_activity_date - 1 THEN user_streaks.current_streak + 1
			ELSE 1
		END,
		longest_streak = GREATEST(user_streaks.longest_streak, CASE
			WHEN user_streaks.last_activity_date >= EXCLUDED.last_activity_date THEN user_streaks.current_streak
			WHEN user_streaks.last_activity_date = EXCLUDED.last_activity_date - 1 THEN user_streaks.current_streak + 1
			ELSE 1
		END),
		last_activity_date = GREATEST(user_streaks.last_activity_date, EXCLUDED.last_activity_date)
	RETURNING current_streak, longest_streak, last_activity_date, (xmax = 0) AS inserted
`

// Touch records activity on calendar day today. Must run inside a
// transaction: the row lock is what keeps the reported transition in line
// with the stored values when two touches race.
func (r *StreakRepository) Touch(ctx context.Context, userID int64, today time.Time) (progression.StreakUpdate, error) {
	today = timeutil.DateOf(today)

	var before *progression.Streak
	locked := progression.Streak{UserID: userID}
	err := r.q.QueryRow(ctx, lockStreakQuery, userID).Scan(
		&locked.CurrentStreak,
		&locked.LongestStreak,
		&locked.LastActivityDate,
	)
	switch {
	case err == nil:
		before = &locked
	case !IsNoRows(err):
		return progression.StreakUpdate{}, classify("lock streak", err)
	}

	after := progression.Streak{UserID: userID}
	var inserted bool
	err = r.q.QueryRow(ctx, touchStreakQuery, userID, today).Scan(
		&after.CurrentStreak,
		&after.LongestStreak,
		&after.LastActivityDate,
		&inserted,
	)
	if err != nil {
		return progression.StreakUpdate{}, classify("touch streak", err)
	}

	return progression.StreakUpdate{
		Streak:     after,
		Transition: transitionFrom(inserted, before, after),
	}, nil
}

// transitionFrom classifies the upsert by comparing the row before and
// after the write. A conflict without a locked row means a concurrent
// first activity inserted it; that counts as the same day.
func transitionFrom(inserted bool, before *progression.Streak, after progression.Streak) progression.StreakTransition {
	switch {
	case inserted:
		return progression.StreakStarted
	case before == nil:
		return progression.StreakSameDay
	case timeutil.IsSameDay(before.LastActivityDate, after.LastActivityDate) &&
		before.CurrentStreak == after.CurrentStreak:
		return progression.StreakSameDay
	case after.CurrentStreak == before.CurrentStreak+1:
		return progression.StreakContinued
	default:
		return progression.StreakReset
	}
}

// Get returns the user's streak or an empty one.
func (r *StreakRepository) Get(ctx context.Context, userID int64) (*progression.Streak, error) {
	s := progression.NewStreak(userID)
	err := r.q.QueryRow(ctx, `
		SELECT current_streak, longest_streak, last_activity_date
		FROM user_streaks
		WHERE user_id = $1
	`, userID).Scan(&s.CurrentStreak, &s.LongestStreak, &s.LastActivityDate)
	if err != nil {
		if IsNoRows(err) {
			return progression.NewStreak(userID), nil
		}
		return nil, classify("get streak", err)
	}
	return s, nil
}
