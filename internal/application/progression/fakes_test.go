package progression

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/cyberguard/cyberguard-training/internal/domain/progression"
	"github.com/cyberguard/cyberguard-training/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// IN-MEMORY UNIT OF WORK
// Within работает на копии состояния и подменяет его только при успехе fn.
// Savepoint откатывает копию к снимку при ошибке.
// ══════════════════════════════════════════════════════════════════════════════

type memState struct {
	totalXP     map[int64]shared.XP
	levels      map[int64]shared.Level
	categories  map[[2]int64]progression.CategoryProgress
	streaks     map[int64]progression.Streak
	completions []progression.Completion
	unlocked    map[int64][]progression.Reward
	log         []progression.ActivityLogEntry
}

func newMemState() *memState {
	return &memState{
		totalXP:    map[int64]shared.XP{},
		levels:     map[int64]shared.Level{},
		categories: map[[2]int64]progression.CategoryProgress{},
		streaks:    map[int64]progression.Streak{},
		unlocked:   map[int64][]progression.Reward{},
	}
}

func (s *memState) clone() *memState {
	c := &memState{
		totalXP:     maps.Clone(s.totalXP),
		levels:      maps.Clone(s.levels),
		categories:  maps.Clone(s.categories),
		streaks:     maps.Clone(s.streaks),
		completions: slices.Clone(s.completions),
		unlocked:    make(map[int64][]progression.Reward, len(s.unlocked)),
		log:         slices.Clone(s.log),
	}
	for k, v := range s.unlocked {
		c.unlocked[k] = slices.Clone(v)
	}
	return c
}

type memDB struct {
	mu      sync.Mutex
	state   *memState
	catalog []progression.Reward

	// fault injection
	conflicts   int
	failUnlock  map[string]bool
	failStreak  error
	failStats   error
	withinCalls int
}

func newMemDB() *memDB {
	return &memDB{state: newMemState(), failUnlock: map[string]bool{}}
}

func (db *memDB) seedUser(userID int64, xp shared.XP) {
	db.state.totalXP[userID] = xp
	db.state.levels[userID] = xp.Level()
}

func (db *memDB) Within(ctx context.Context, fn func(ctx context.Context, tx progression.Tx) error) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	db.withinCalls++
	if db.conflicts > 0 {
		db.conflicts--
		return shared.WrapError("postgres", "Commit", shared.ErrConcurrentModification, "Serialization failure", errors.New("40001"))
	}

	tx := &memTx{db: db, st: db.state.clone()}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	db.state = tx.st
	return nil
}

type memTx struct {
	db *memDB
	st *memState
}

func (tx *memTx) Ledger() progression.Ledger { return memLedger{tx} }
func (tx *memTx) Streaks() progression.StreakStore { return memStreaks{tx} }
func (tx *memTx) Completions() progression.CompletionStore { return memCompletions{tx} }
func (tx *memTx) Rewards() progression.RewardStore { return memRewards{tx} }
func (tx *memTx) ActivityLog() progression.ActivityLog { return memLog{tx} }
func (tx *memTx) Stats() progression.StatsReader { return memStats{tx} }

func (tx *memTx) Savepoint(ctx context.Context, fn func(ctx context.Context, tx progression.Tx) error) error {
	snap := tx.st.clone()
	if err := fn(ctx, tx); err != nil {
		*tx.st = *snap
		return err
	}
	return nil
}

type memLedger struct{ tx *memTx }

func (l memLedger) GrantCategoryXP(_ context.Context, userID, categoryID int64, g progression.CategoryGrant) (progression.CategoryProgress, error) {
	key := [2]int64{userID, categoryID}
	p := l.tx.st.categories[key]
	p.UserID, p.CategoryID = userID, categoryID
	p.Apply(g, fixedNow)
	l.tx.st.categories[key] = p
	return p, nil
}

func (l memLedger) GrantGlobalXP(_ context.Context, userID int64, amount shared.XP) (progression.Balance, error) {
	l.tx.st.totalXP[userID] += amount
	lvl, ok := l.tx.st.levels[userID]
	if !ok {
		lvl = shared.MinLevel
	}
	return progression.Balance{TotalXP: l.tx.st.totalXP[userID], StoredLevel: lvl}, nil
}

func (l memLedger) PromoteLevel(_ context.Context, userID int64, level shared.Level) error {
	if level > l.tx.st.levels[userID] {
		l.tx.st.levels[userID] = level
	}
	return nil
}

func (l memLedger) Balance(_ context.Context, userID int64) (progression.Balance, error) {
	lvl, ok := l.tx.st.levels[userID]
	if !ok {
		lvl = shared.MinLevel
	}
	return progression.Balance{TotalXP: l.tx.st.totalXP[userID], StoredLevel: lvl}, nil
}

type memStreaks struct{ tx *memTx }

func (s memStreaks) Touch(_ context.Context, userID int64, today time.Time) (progression.StreakUpdate, error) {
	if s.tx.db.failStreak != nil {
		return progression.StreakUpdate{}, s.tx.db.failStreak
	}
	st, ok := s.tx.st.streaks[userID]
	if !ok {
		st = *progression.NewStreak(userID)
	}
	tr := st.Record(today)
	s.tx.st.streaks[userID] = st
	return progression.StreakUpdate{Streak: st, Transition: tr}, nil
}

func (s memStreaks) Get(_ context.Context, userID int64) (*progression.Streak, error) {
	st, ok := s.tx.st.streaks[userID]
	if !ok {
		return progression.NewStreak(userID), nil
	}
	return &st, nil
}

type memCompletions struct{ tx *memTx }

func (c memCompletions) IsCompleted(_ context.Context, kind progression.ActivityKind, userID, itemID int64) (bool, error) {
	for _, x := range c.tx.st.completions {
		if x.Kind == kind && x.UserID == userID && x.ItemID == itemID {
			return true, nil
		}
	}
	return false, nil
}

func (c memCompletions) Record(ctx context.Context, comp progression.Completion) (bool, error) {
	if comp.Kind.AtMostOnce() {
		if done, _ := c.IsCompleted(ctx, comp.Kind, comp.UserID, comp.ItemID); done {
			return false, nil
		}
	}
	c.tx.st.completions = append(c.tx.st.completions, comp)
	return true, nil
}

func (c memCompletions) Count(_ context.Context, kind progression.ActivityKind, userID int64) (int, error) {
	n := 0
	for _, x := range c.tx.st.completions {
		if x.Kind == kind && x.UserID == userID {
			n++
		}
	}
	return n, nil
}

type memRewards struct{ tx *memTx }

func (r memRewards) Catalog(context.Context) ([]progression.Reward, error) {
	return slices.Clone(r.tx.db.catalog), nil
}

func (r memRewards) Unlock(_ context.Context, userID int64, reward progression.Reward) (bool, error) {
	for _, u := range r.tx.st.unlocked[userID] {
		if u.Key == reward.Key {
			return false, nil
		}
	}
	r.tx.st.unlocked[userID] = append(r.tx.st.unlocked[userID], reward)
	if r.tx.db.failUnlock[reward.Key] {
		return false, errors.New("insert user_achievements: constraint violated")
	}
	return true, nil
}

func (r memRewards) Unlocked(_ context.Context, userID int64) ([]progression.Reward, error) {
	return slices.Clone(r.tx.st.unlocked[userID]), nil
}

type memLog struct{ tx *memTx }

func (l memLog) Append(_ context.Context, e progression.ActivityLogEntry) error {
	l.tx.st.log = append(l.tx.st.log, e)
	return nil
}

func (l memLog) Recent(_ context.Context, userID int64, limit int) ([]progression.ActivityLogEntry, error) {
	var out []progression.ActivityLogEntry
	for i := len(l.tx.st.log) - 1; i >= 0 && len(out) < limit; i-- {
		if l.tx.st.log[i].UserID == userID {
			out = append(out, l.tx.st.log[i])
		}
	}
	return out, nil
}

type memStats struct{ tx *memTx }

func (s memStats) Stats(ctx context.Context, userID int64) (progression.Stats, error) {
	if s.tx.db.failStats != nil {
		return progression.Stats{}, s.tx.db.failStats
	}
	interactive, _ := memCompletions(s).Count(ctx, progression.KindInteractive, userID)
	streak := s.tx.st.streaks[userID]
	lvl, ok := s.tx.st.levels[userID]
	if !ok {
		lvl = shared.MinLevel
	}
	return progression.Stats{
		TotalXP:              s.tx.st.totalXP[userID],
		Level:                lvl,
		CurrentStreak:        streak.CurrentStreak,
		InteractiveCompleted: interactive,
	}, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// RESOLVER / PUBLISHER / FEATURES
// ══════════════════════════════════════════════════════════════════════════════

type memResolver map[progression.ActivityKind]map[int64]progression.ActivityItem

func (r memResolver) add(item progression.ActivityItem) {
	if r[item.Kind] == nil {
		r[item.Kind] = map[int64]progression.ActivityItem{}
	}
	r[item.Kind][item.ID] = item
}

func (r memResolver) Resolve(_ context.Context, kind progression.ActivityKind, id int64) (progression.ActivityItem, error) {
	item, ok := r[kind][id]
	if !ok {
		return progression.ActivityItem{}, shared.NewDomainError("catalog", "Resolve", shared.ErrNotFound, "Item not found")
	}
	return item, nil
}

type recordingPublisher struct {
	events []shared.Event
}

func (p *recordingPublisher) Publish(e shared.Event) error {
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) types() []shared.EventType {
	out := make([]shared.EventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.EventType())
	}
	return out
}

type staticFeatures struct {
	streaks      bool
	achievements bool
}

func (f staticFeatures) StreaksEnabled() bool { return f.streaks }
func (f staticFeatures) AchievementsEnabled() bool { return f.achievements }
