package progression

import (
	"context"
	"fmt"
	"time"

	"github.com/cyberguard/cyberguard-training/internal/domain/progression"
	"github.com/cyberguard/cyberguard-training/internal/domain/shared"
	"github.com/cyberguard/cyberguard-training/pkg/logger"
	"github.com/cyberguard/cyberguard-training/pkg/retry"
	"github.com/cyberguard/cyberguard-training/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST / OUTCOME
// ══════════════════════════════════════════════════════════════════════════════

// Request describes one completion event.
type Request struct {
	Kind   progression.ActivityKind
	UserID int64
	ItemID int64

	// Correct applies to quiz answers only.
	Correct bool

	// ClaimedXP is what an interactive element reports. It is capped at the
	// element's reward; nil grants nothing.
	ClaimedXP *shared.XP

	Score          int
	CompletionTime int

	// CorrelationID is copied onto published events.
	CorrelationID string
}

// Outcome is what a completion produced.
type Outcome struct {
	Kind             progression.ActivityKind
	ItemID           int64
	CategoryID       int64
	AlreadyCompleted bool

	XPEarned      shared.XP
	TotalXP       shared.XP
	Level         shared.Level
	PreviousLevel shared.Level
	LevelUp       bool

	Category *progression.CategoryProgress
	Streak   *progression.StreakUpdate
	Unlocked []progression.Reward
}

// ══════════════════════════════════════════════════════════════════════════════
// RECORDER
// ══════════════════════════════════════════════════════════════════════════════

// Features toggles the auxiliary parts of a completion.
type Features interface {
	StreaksEnabled() bool
	AchievementsEnabled() bool
}

// Config configures the Recorder.
type Config struct {
	// TxMaxAttempts bounds replays after serialization failures or deadlocks.
	TxMaxAttempts int
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{TxMaxAttempts: 3}
}

// Recorder is the single entry point for every completion event.
//
// State flow: Validated -> {AlreadyCompleted | Recorded} -> XPGranted ->
// LevelChecked -> StreakUpdated -> AchievementsEvaluated. Everything after
// validation runs in one transaction.
type Recorder struct {
	uow       progression.UnitOfWork
	items     progression.ItemResolver
	evaluator *Evaluator
	publisher shared.EventPublisher
	features  Features
	clock     timeutil.Clock
	retrier   *retry.Retrier
	log       *logger.Logger
}

// NewRecorder creates a new Recorder. publisher and features may be nil.
func NewRecorder(
	uow progression.UnitOfWork,
	items progression.ItemResolver,
	evaluator *Evaluator,
	publisher shared.EventPublisher,
	features Features,
	clock timeutil.Clock,
	log *logger.Logger,
	config Config,
) *Recorder {
	if config.TxMaxAttempts <= 0 {
		config = DefaultConfig()
	}
	if log == nil {
		log = logger.Nop()
	}
	if evaluator == nil {
		evaluator = NewEvaluator(log)
	}
	if clock == nil {
		clock = timeutil.NewSystemClock(time.UTC)
	}

	return &Recorder{
		uow:       uow,
		items:     items,
		evaluator: evaluator,
		publisher: publisher,
		features:  features,
		clock:     clock,
		retrier:   retry.TransactionRetrier(config.TxMaxAttempts, shared.IsRetryable),
		log:       log.With(logger.Component("completion_recorder")),
	}
}

// Record validates the request, resolves the catalog item and applies the
// completion atomically. Validation and not-found errors happen before any
// write.
func (r *Recorder) Record(ctx context.Context, req Request) (*Outcome, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	item, err := r.items.Resolve(ctx, req.Kind, req.ItemID)
	if err != nil {
		return nil, err
	}

	now := r.clock.Now()
	today := timeutil.DateOf(now)

	if item.AvailableOn != nil && !timeutil.IsSameDay(*item.AvailableOn, today) {
		return nil, shared.ErrChallengeNotCurrent
	}

	completion := progression.Completion{
		Kind:           req.Kind,
		UserID:         req.UserID,
		ItemID:         item.ID,
		CategoryID:     item.CategoryID,
		XPEarned:       progression.XPFor(item, req.Correct, req.ClaimedXP),
		Correct:        req.Correct,
		Score:          req.Score,
		CompletionTime: req.CompletionTime,
		CompletedAt:    now,
	}

	var outcome *Outcome
	err = r.retrier.Do(ctx, func(ctx context.Context) error {
		outcome = nil
		return r.uow.Within(ctx, func(ctx context.Context, tx progression.Tx) error {
			var err error
			outcome, err = r.apply(ctx, tx, item, completion, today)
			return err
		})
	})
	if err != nil {
		r.log.Error("completion failed",
			logger.UserID(req.UserID),
			logger.String("kind", req.Kind.String()),
			logger.ItemID(req.ItemID),
			logger.Err(err),
		)
		return nil, shared.WrapError("progression", "Record", shared.ErrPersistence, "Failed to record completion", err)
	}

	if !outcome.AlreadyCompleted {
		r.publish(req, outcome)
	}

	return outcome, nil
}

func (r *Recorder) apply(
	ctx context.Context,
	tx progression.Tx,
	item progression.ActivityItem,
	c progression.Completion,
	today time.Time,
) (*Outcome, error) {
	out := &Outcome{Kind: c.Kind, ItemID: c.ItemID, CategoryID: c.CategoryID}

	// 1. Idempotency
	if c.Kind.AtMostOnce() {
		done, err := tx.Completions().IsCompleted(ctx, c.Kind, c.UserID, c.ItemID)
		if err != nil {
			return nil, fmt.Errorf("check completion: %w", err)
		}
		if done {
			return r.alreadyCompleted(ctx, tx, out, c.UserID)
		}
	}

	inserted, err := tx.Completions().Record(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("record completion: %w", err)
	}
	if !inserted {
		// lost a race to a concurrent duplicate
		return r.alreadyCompleted(ctx, tx, out, c.UserID)
	}

	// 2. Category ledger
	progress, err := tx.Ledger().GrantCategoryXP(ctx, c.UserID, c.CategoryID, progression.GrantFor(c))
	if err != nil {
		return nil, fmt.Errorf("grant category xp: %w", err)
	}
	out.Category = &progress

	// 3. Global ledger and level
	balance, err := tx.Ledger().GrantGlobalXP(ctx, c.UserID, c.XPEarned)
	if err != nil {
		return nil, fmt.Errorf("grant global xp: %w", err)
	}
	out.XPEarned = c.XPEarned
	out.TotalXP = balance.TotalXP
	out.PreviousLevel = balance.StoredLevel
	out.Level = balance.StoredLevel

	if newLevel, up := progression.LevelUp(balance.StoredLevel, balance.TotalXP); up {
		if err := tx.Ledger().PromoteLevel(ctx, c.UserID, newLevel); err != nil {
			return nil, fmt.Errorf("promote level: %w", err)
		}
		out.Level = newLevel
		out.LevelUp = true
	}

	if err := tx.ActivityLog().Append(ctx, progression.ActivityLogEntry{
		UserID:       c.UserID,
		ActivityType: c.Kind.String(),
		Details:      fmt.Sprintf("Completed %s: %s", c.Kind.Label(), item.Title),
		XPEarned:     c.XPEarned,
		CreatedAt:    c.CompletedAt,
	}); err != nil {
		return nil, fmt.Errorf("append activity log: %w", err)
	}

	// 4. Streak
	if r.features == nil || r.features.StreaksEnabled() {
		update, err := tx.Streaks().Touch(ctx, c.UserID, today)
		if err != nil {
			return nil, fmt.Errorf("touch streak: %w", err)
		}
		out.Streak = &update
	}

	// 5. Achievements
	if r.features == nil || r.features.AchievementsEnabled() {
		out.Unlocked = r.evaluator.Evaluate(ctx, tx, c.UserID)
	}

	return out, nil
}

func (r *Recorder) alreadyCompleted(ctx context.Context, tx progression.Tx, out *Outcome, userID int64) (*Outcome, error) {
	balance, err := tx.Ledger().Balance(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("read balance: %w", err)
	}
	out.AlreadyCompleted = true
	out.TotalXP = balance.TotalXP
	out.Level = balance.StoredLevel
	out.PreviousLevel = balance.StoredLevel
	return out, nil
}

func (r *Recorder) publish(req Request, out *Outcome) {
	if r.publisher == nil {
		return
	}

	events := []shared.Event{
		withCorrelation(shared.NewActivityCompletedEvent(req.UserID, out.Kind.String(), out.ItemID, out.CategoryID, out.XPEarned.Int()), req.CorrelationID),
	}
	if out.XPEarned > 0 {
		events = append(events, withCorrelation(shared.NewXPGainedEvent(req.UserID, out.XPEarned.Int(), out.TotalXP.Int(), out.Kind.String()), req.CorrelationID))
	}
	if out.LevelUp {
		events = append(events, withCorrelation(shared.NewLevelUpEvent(req.UserID, out.PreviousLevel.Int(), out.Level.Int(), out.TotalXP.Int()), req.CorrelationID))
	}
	if out.Streak != nil && out.Streak.Transition.Changed() {
		s := out.Streak.Streak
		events = append(events, withCorrelation(shared.NewDailyStreakUpdatedEvent(req.UserID, s.CurrentStreak, s.LongestStreak, out.Streak.Transition == progression.StreakReset), req.CorrelationID))
	}
	for _, rw := range out.Unlocked {
		events = append(events, withCorrelation(shared.NewAchievementUnlockedEvent(req.UserID, rw.ID, rw.Key, rw.Name), req.CorrelationID))
	}

	for _, ev := range events {
		if err := r.publisher.Publish(ev); err != nil {
			r.log.Warn("failed to publish event", logger.String("event_type", string(ev.EventType())), logger.Err(err))
		}
	}
}

func withCorrelation(ev shared.Event, id string) shared.Event {
	if id == "" {
		return ev
	}
	switch e := ev.(type) {
	case shared.ActivityCompletedEvent:
		e.BaseEvent = e.BaseEvent.WithCorrelationID(id)
		return e
	case shared.XPGainedEvent:
		e.BaseEvent = e.BaseEvent.WithCorrelationID(id)
		return e
	case shared.LevelUpEvent:
		e.BaseEvent = e.BaseEvent.WithCorrelationID(id)
		return e
	case shared.DailyStreakUpdatedEvent:
		e.BaseEvent = e.BaseEvent.WithCorrelationID(id)
		return e
	case shared.AchievementUnlockedEvent:
		e.BaseEvent = e.BaseEvent.WithCorrelationID(id)
		return e
	}
	return ev
}

func validate(req Request) error {
	if !req.Kind.IsValid() {
		return shared.Validation("progression", "Record", "Unknown activity kind")
	}
	if req.UserID <= 0 {
		return shared.ErrNotLoggedIn
	}
	if req.ItemID <= 0 {
		return shared.Validation("progression", "Record", "Missing "+req.Kind.String()+" id")
	}
	if req.ClaimedXP != nil && *req.ClaimedXP < 0 {
		return shared.NewDomainError("progression", "Record", shared.ErrNegativeValue, "XP cannot be negative")
	}
	if req.CompletionTime < 0 {
		return shared.NewDomainError("progression", "Record", shared.ErrNegativeValue, "Completion time cannot be negative")
	}
	return nil
}
