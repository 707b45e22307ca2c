package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/cyberguard/cyberguard-training/internal/domain/progression"
)

// ══════════════════════════════════════════════════════════════════════════════
// UNIT OF WORK
// ══════════════════════════════════════════════════════════════════════════════

// UnitOfWork implements progression.UnitOfWork on a pgx transaction.
// Serialization failures and deadlocks surface as
// shared.ErrConcurrentModification so the caller can replay the whole unit.
type UnitOfWork struct {
	conn *Connection
	opts TxOptions
}

// NewUnitOfWork creates a new UnitOfWork with read committed isolation.
func NewUnitOfWork(conn *Connection) *UnitOfWork {
	return &UnitOfWork{conn: conn, opts: DefaultTxOptions()}
}

// Within runs fn in one transaction.
func (u *UnitOfWork) Within(ctx context.Context, fn func(ctx context.Context, tx progression.Tx) error) error {
	err := u.conn.WithTx(ctx, u.opts, func(tx pgx.Tx) error {
		return fn(ctx, newProgressionTx(tx))
	})
	return classify("unit of work", err)
}

// progressionTx binds every progression store to one pgx.Tx.
type progressionTx struct {
	tx pgx.Tx
}

func newProgressionTx(tx pgx.Tx) *progressionTx {
	return &progressionTx{tx: tx}
}

func (t *progressionTx) Ledger() progression.Ledger { return NewLedgerRepository(t.tx) }

func (t *progressionTx) Streaks() progression.StreakStore { return NewStreakRepository(t.tx) }

func (t *progressionTx) Completions() progression.CompletionStore {
	return NewCompletionRepository(t.tx)
}

func (t *progressionTx) Rewards() progression.RewardStore { return NewRewardRepository(t.tx) }

func (t *progressionTx) ActivityLog() progression.ActivityLog {
	return NewActivityLogRepository(t.tx)
}

func (t *progressionTx) Stats() progression.StatsReader { return NewStatsRepository(t.tx) }

// Savepoint runs fn inside a nested pgx transaction (SAVEPOINT). On error
// only the savepoint is rolled back and the outer transaction stays usable.
func (t *progressionTx) Savepoint(ctx context.Context, fn func(ctx context.Context, tx progression.Tx) error) (err error) {
	sp, err := t.tx.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin savepoint: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = sp.Rollback(ctx)
			panic(p)
		}
	}()

	if err := fn(ctx, newProgressionTx(sp)); err != nil {
		if rbErr := sp.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("savepoint error: %v, rollback error: %w", err, rbErr)
		}
		return err
	}

	if err := sp.Commit(ctx); err != nil {
		return fmt.Errorf("release savepoint: %w", err)
	}
	return nil
}
