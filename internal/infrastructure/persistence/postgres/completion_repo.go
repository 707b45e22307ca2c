package postgres

import (
	"context"
	"fmt"

	"github.com/cyberguard/cyberguard-training/internal/domain/progression"
)

// CompletionRepository implements progression.CompletionStore. Each kind
// has its own table; at-most-once kinds are keyed by (user_id, item).
type CompletionRepository struct {
	q Querier
}

// NewCompletionRepository creates a new CompletionRepository.
func NewCompletionRepository(q Querier) *CompletionRepository {
	return &CompletionRepository{q: q}
}

type completionTable struct {
	name   string
	column string
}

var completionTables = map[progression.ActivityKind]completionTable{
	progression.KindModule:         {"module_completions", "module_id"},
	progression.KindInteractive:    {"interactive_completions", "element_id"},
	progression.KindScenario:       {"scenario_completions", "scenario_id"},
	progression.KindDailyChallenge: {"challenge_completions", "challenge_id"},
	progression.KindQuizQuestion:   {"quiz_answers", "question_id"},
}

func tableFor(kind progression.ActivityKind) (completionTable, error) {
	t, ok := completionTables[kind]
	if !ok {
		return completionTable{}, fmt.Errorf("no completion table for kind %q", kind)
	}
	return t, nil
}

// IsCompleted checks for an existing record. Quiz answers never count as
// completed.
func (r *CompletionRepository) IsCompleted(ctx context.Context, kind progression.ActivityKind, userID, itemID int64) (bool, error) {
	if !kind.AtMostOnce() {
		return false, nil
	}
	t, err := tableFor(kind)
	if err != nil {
		return false, err
	}

	var exists bool
	query := fmt.Sprintf(`SELECT EXISTS(SELECT 1 FROM %s WHERE user_id = $1 AND %s = $2)`, t.name, t.column)
	if err := r.q.QueryRow(ctx, query, userID, itemID).Scan(&exists); err != nil {
		return false, classify("check completion", err)
	}
	return exists, nil
}

// Record inserts the completion. ON CONFLICT DO NOTHING makes a concurrent
// duplicate report false instead of failing the transaction.
func (r *CompletionRepository) Record(ctx context.Context, c progression.Completion) (bool, error) {
	var (
		query string
		args  []any
	)

	switch c.Kind {
	case progression.KindQuizQuestion:
		query = `
			INSERT INTO quiz_answers (user_id, question_id, is_correct, xp_earned, answered_at)
			VALUES ($1, $2, $3, $4, $5)`
		args = []any{c.UserID, c.ItemID, c.Correct, c.XPEarned.Int(), c.CompletedAt}
	case progression.KindModule:
		query = `
			INSERT INTO module_completions (user_id, module_id, xp_earned, completed_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (user_id, module_id) DO NOTHING`
		args = []any{c.UserID, c.ItemID, c.XPEarned.Int(), c.CompletedAt}
	case progression.KindInteractive:
		query = `
			INSERT INTO interactive_completions (user_id, element_id, xp_earned, completion_time, completed_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (user_id, element_id) DO NOTHING`
		args = []any{c.UserID, c.ItemID, c.XPEarned.Int(), c.CompletionTime, c.CompletedAt}
	case progression.KindScenario:
		query = `
			INSERT INTO scenario_completions (user_id, scenario_id, xp_earned, score, completion_time, completed_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (user_id, scenario_id) DO NOTHING`
		args = []any{c.UserID, c.ItemID, c.XPEarned.Int(), c.Score, c.CompletionTime, c.CompletedAt}
	case progression.KindDailyChallenge:
		query = `
			INSERT INTO challenge_completions (user_id, challenge_id, xp_earned, completed_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (user_id, challenge_id) DO NOTHING`
		args = []any{c.UserID, c.ItemID, c.XPEarned.Int(), c.CompletedAt}
	default:
		return false, fmt.Errorf("no completion table for kind %q", c.Kind)
	}

	tag, err := r.q.Exec(ctx, query, args...)
	if err != nil {
		return false, classify("record completion", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Count returns the number of records of kind for the user.
func (r *CompletionRepository) Count(ctx context.Context, kind progression.ActivityKind, userID int64) (int, error) {
	t, err := tableFor(kind)
	if err != nil {
		return 0, err
	}

	var n int
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE user_id = $1`, t.name)
	if err := r.q.QueryRow(ctx, query, userID).Scan(&n); err != nil {
		return 0, classify("count completions", err)
	}
	return n, nil
}
