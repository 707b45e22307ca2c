// Package progression orchestrates completion recording: the XP ledger,
// level recompute, streak update and achievement evaluation, all inside one
// transaction.
package progression

import (
	"context"
	"fmt"

	"github.com/cyberguard/cyberguard-training/internal/domain/progression"
	"github.com/cyberguard/cyberguard-training/pkg/logger"
)

// Evaluator unlocks every catalog reward the user now qualifies for.
//
// Evaluation is best-effort: each unlock runs in its own savepoint, and a
// failure is logged and skipped so it never fails the parent completion.
type Evaluator struct {
	log *logger.Logger
}

// NewEvaluator creates a new Evaluator.
func NewEvaluator(log *logger.Logger) *Evaluator {
	if log == nil {
		log = logger.Nop()
	}
	return &Evaluator{log: log.With(logger.Component("achievement_evaluator"))}
}

// Evaluate loads the user's stats and the reward catalog, then unlocks
// qualifying rewards that were not unlocked before. Returns the rewards
// unlocked by this call.
func (e *Evaluator) Evaluate(ctx context.Context, tx progression.Tx, userID int64) []progression.Reward {
	var (
		stats   progression.Stats
		catalog []progression.Reward
	)

	err := tx.Savepoint(ctx, func(ctx context.Context, sp progression.Tx) error {
		var err error
		if stats, err = sp.Stats().Stats(ctx, userID); err != nil {
			return fmt.Errorf("load stats: %w", err)
		}
		if catalog, err = sp.Rewards().Catalog(ctx); err != nil {
			return fmt.Errorf("load reward catalog: %w", err)
		}
		return nil
	})
	if err != nil {
		e.log.Warn("achievement evaluation skipped", logger.UserID(userID), logger.Err(err))
		return nil
	}

	var unlocked []progression.Reward
	for _, reward := range progression.Eligible(catalog, stats) {
		ok, err := e.unlock(ctx, tx, userID, reward)
		if err != nil {
			e.log.Warn("reward unlock failed",
				logger.UserID(userID),
				logger.RewardKey(reward.Key),
				logger.Err(err),
			)
			continue
		}
		if ok {
			unlocked = append(unlocked, reward)
		}
	}

	return unlocked
}

func (e *Evaluator) unlock(ctx context.Context, tx progression.Tx, userID int64, reward progression.Reward) (bool, error) {
	var created bool

	err := tx.Savepoint(ctx, func(ctx context.Context, sp progression.Tx) error {
		ok, err := sp.Rewards().Unlock(ctx, userID, reward)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		created = true
		return sp.ActivityLog().Append(ctx, progression.ActivityLogEntry{
			UserID:       userID,
			ActivityType: progression.LogTypeAchievement,
			Details:      progression.UnlockDetails(reward),
		})
	})
	if err != nil {
		return false, fmt.Errorf("%w: %s: %v", progression.ErrRewardUnlock, reward.Key, err)
	}

	if created {
		e.log.Info("achievement unlocked", logger.UserID(userID), logger.RewardKey(reward.Key))
	}
	return created, nil
}
