package postgres

import (
	"context"
	"fmt"

	"github.com/cyberguard/cyberguard-training/internal/domain/progression"
	"github.com/cyberguard/cyberguard-training/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// XP LEDGER
// ══════════════════════════════════════════════════════════════════════════════

// LedgerRepository implements progression.Ledger.
type LedgerRepository struct {
	q Querier
}

// NewLedgerRepository creates a new LedgerRepository on a pool or a tx.
func NewLedgerRepository(q Querier) *LedgerRepository {
	return &LedgerRepository{q: q}
}

const categoryProgressColumns = `
	user_id, category_id, questions_answered, questions_correct,
	scenarios_completed, modules_completed, interactive_completed,
	category_xp, last_activity`

// GrantCategoryXP inserts or increments the (user, category) row in one
// statement, so concurrent grants cannot lose an increment.
func (r *LedgerRepository) GrantCategoryXP(ctx context.Context, userID, categoryID int64, g progression.CategoryGrant) (progression.CategoryProgress, error) {
	query := `
		INSERT INTO user_progress (
			user_id, category_id, questions_answered, questions_correct,
			scenarios_completed, modules_completed, interactive_completed,
			category_xp, last_activity
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (user_id, category_id) DO UPDATE SET
			questions_answered    = user_progress.questions_answered + EXCLUDED.questions_answered,
			questions_correct     = user_progress.questions_correct + EXCLUDED.questions_correct,
			scenarios_completed   = user_progress.scenarios_completed + EXCLUDED.scenarios_completed,
			modules_completed     = user_progress.modules_completed + EXCLUDED.modules_completed,
			interactive_completed = user_progress.interactive_completed + EXCLUDED.interactive_completed,
			category_xp           = user_progress.category_xp + EXCLUDED.category_xp,
			last_activity         = EXCLUDED.last_activity
		RETURNING ` + categoryProgressColumns

	row := r.q.QueryRow(ctx, query,
		userID,
		categoryID,
		g.QuestionsAnswered,
		g.QuestionsCorrect,
		g.ScenariosCompleted,
		g.ModulesCompleted,
		g.InteractiveCompleted,
		g.XP.Int(),
	)

	p, err := scanCategoryProgress(row)
	if err != nil {
		return progression.CategoryProgress{}, classify("grant category xp", err)
	}
	return *p, nil
}

// GrantGlobalXP adds amount to users.total_xp. The UPDATE holds the row lock
// until commit, so the returned level is the one stored before this grant.
func (r *LedgerRepository) GrantGlobalXP(ctx context.Context, userID int64, amount shared.XP) (progression.Balance, error) {
	if !amount.IsValid() {
		return progression.Balance{}, shared.NewDomainError("progression", "GrantGlobalXP", shared.ErrNegativeValue, "XP cannot be negative")
	}

	var total, level int
	err := r.q.QueryRow(ctx, `
		UPDATE users SET total_xp = total_xp + $2
		WHERE id = $1
		RETURNING total_xp, level
	`, userID, amount.Int()).Scan(&total, &level)
	if err != nil {
		if IsNoRows(err) {
			return progression.Balance{}, shared.ErrUserNotFound
		}
		return progression.Balance{}, classify("grant global xp", err)
	}

	return progression.Balance{TotalXP: shared.XP(total), StoredLevel: shared.Level(level)}, nil
}

// PromoteLevel stores level. GREATEST keeps it from ever going down.
func (r *LedgerRepository) PromoteLevel(ctx context.Context, userID int64, level shared.Level) error {
	tag, err := r.q.Exec(ctx, `UPDATE users SET level = GREATEST(level, $2) WHERE id = $1`, userID, level.Int())
	if err != nil {
		return classify("promote level", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrUserNotFound
	}
	return nil
}

// Balance reads total_xp and level.
func (r *LedgerRepository) Balance(ctx context.Context, userID int64) (progression.Balance, error) {
	var total, level int
	err := r.q.QueryRow(ctx, `SELECT total_xp, level FROM users WHERE id = $1`, userID).Scan(&total, &level)
	if err != nil {
		if IsNoRows(err) {
			return progression.Balance{}, shared.ErrUserNotFound
		}
		return progression.Balance{}, classify("read balance", err)
	}
	return progression.Balance{TotalXP: shared.XP(total), StoredLevel: shared.Level(level)}, nil
}

// CategoryProgress returns every category row of the user ordered by category.
func (r *LedgerRepository) CategoryProgress(ctx context.Context, userID int64) ([]progression.CategoryProgress, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+categoryProgressColumns+`
		FROM user_progress
		WHERE user_id = $1
		ORDER BY category_id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query category progress: %w", err)
	}
	defer rows.Close()

	var result []progression.CategoryProgress
	for rows.Next() {
		p, err := scanCategoryProgress(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *p)
	}

	return result, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCategoryProgress(row scanner) (*progression.CategoryProgress, error) {
	var (
		p  progression.CategoryProgress
		xp int
	)
	err := row.Scan(
		&p.UserID,
		&p.CategoryID,
		&p.QuestionsAnswered,
		&p.QuestionsCorrect,
		&p.ScenariosCompleted,
		&p.ModulesCompleted,
		&p.InteractiveCompleted,
		&xp,
		&p.LastActivity,
	)
	if err != nil {
		return nil, err
	}
	p.CategoryXP = shared.XP(xp)
	return &p, nil
}
