package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyberguard/cyberguard-training/internal/domain/progression"
	"github.com/cyberguard/cyberguard-training/internal/domain/shared"
	"github.com/cyberguard/cyberguard-training/internal/domain/user"
)

// ══════════════════════════════════════════════════════════════════════════════
// UNIT TESTS
// ══════════════════════════════════════════════════════════════════════════════

func TestTransitionFrom(t *testing.T) {
	today := time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC)
	row := func(current, offset int) *progression.Streak {
		return &progression.Streak{CurrentStreak: current, LongestStreak: current, LastActivityDate: today.AddDate(0, 0, offset)}
	}

	tests := []struct {
		name     string
		inserted bool
		before   *progression.Streak
		after    *progression.Streak
		want     progression.StreakTransition
	}{
		{"first activity", true, nil, row(1, 0), progression.StreakStarted},
		{"concurrent first activity", false, nil, row(1, 0), progression.StreakSameDay},
		{"same day", false, row(3, 0), row(3, 0), progression.StreakSameDay},
		{"clock went back", false, row(3, 1), row(3, 1), progression.StreakSameDay},
		{"yesterday", false, row(3, -1), row(4, 0), progression.StreakContinued},
		{"gap", false, row(3, -3), row(1, 0), progression.StreakReset},
		{"gap from a one-day streak", false, row(1, -3), row(1, 0), progression.StreakReset},
		{"yesterday from a one-day streak", false, row(1, -1), row(2, 0), progression.StreakContinued},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, transitionFrom(tt.inserted, tt.before, *tt.after))
		})
	}
}

func TestClassify(t *testing.T) {
	assert.NoError(t, classify("op", nil))

	conflict := &pgconn.PgError{Code: "40001"}
	assert.ErrorIs(t, classify("op", conflict), shared.ErrConcurrentModification)

	deadlock := fmt.Errorf("wrapped: %w", &pgconn.PgError{Code: "40P01"})
	assert.ErrorIs(t, classify("op", deadlock), shared.ErrConcurrentModification)

	plain := errors.New("boom")
	err := classify("op", plain)
	assert.ErrorIs(t, err, plain)
	assert.False(t, errors.Is(err, shared.ErrConcurrentModification))
}

func TestCompletionTablesCoverAtMostOnceKinds(t *testing.T) {
	for _, kind := range []progression.ActivityKind{
		progression.KindModule,
		progression.KindScenario,
		progression.KindInteractive,
		progression.KindDailyChallenge,
	} {
		_, err := tableFor(kind)
		assert.NoError(t, err, kind)
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// INTEGRATION TESTS
// Require TEST_DATABASE_URL pointing to a disposable database.
// ══════════════════════════════════════════════════════════════════════════════

func testConnection(t *testing.T) *Connection {
	t.Helper()

	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	conn, err := NewConnectionFromURL(ctx, url)
	require.NoError(t, err)
	t.Cleanup(conn.Close)

	require.NoError(t, NewMigrator(conn).Migrate(ctx))

	c, err := LoadSeedCatalog()
	require.NoError(t, err)
	require.NoError(t, NewSeeder(conn).Apply(ctx, c))

	return conn
}

func testUser(t *testing.T, conn *Connection) *user.User {
	t.Helper()

	name := fmt.Sprintf("it_%d", time.Now().UnixNano())
	u := &user.User{Username: shared.Username(name)}
	require.NoError(t, NewUserRepository(conn).Create(context.Background(), u))
	return u
}

func TestIntegration_SeedIsIdempotent(t *testing.T) {
	conn := testConnection(t)
	ctx := context.Background()

	c, err := LoadSeedCatalog()
	require.NoError(t, err)
	require.NoError(t, NewSeeder(conn).Apply(ctx, c))

	var rewards int
	require.NoError(t, conn.QueryRow(ctx, `SELECT COUNT(*) FROM rewards`).Scan(&rewards))
	assert.GreaterOrEqual(t, rewards, len(c.Rewards))

	var choices int
	require.NoError(t, conn.QueryRow(ctx, `
		SELECT COUNT(*) FROM scenario_choices sc
		JOIN scenario_steps st ON st.id = sc.step_id
		JOIN scenarios s ON s.id = st.scenario_id
		WHERE s.title = 'Suspicious Email from the Bank'
	`).Scan(&choices))
	assert.Equal(t, 5, choices)
}

func TestIntegration_LedgerAndCompletions(t *testing.T) {
	conn := testConnection(t)
	ctx := context.Background()
	u := testUser(t, conn)

	catalogRepo := NewCatalogRepository(conn)
	cats, err := catalogRepo.Categories(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, cats)
	modules, err := catalogRepo.Modules(ctx, cats[0].ID, u.ID)
	require.NoError(t, err)
	require.NotEmpty(t, modules)
	mod := modules[0]

	err = NewUnitOfWork(conn).Within(ctx, func(ctx context.Context, tx progression.Tx) error {
		c := progression.Completion{
			Kind: progression.KindModule, UserID: u.ID, ItemID: mod.ID,
			CategoryID: mod.CategoryID, XPEarned: mod.XPReward, CompletedAt: time.Now(),
		}
		inserted, err := tx.Completions().Record(ctx, c)
		require.NoError(t, err)
		assert.True(t, inserted)

		again, err := tx.Completions().Record(ctx, c)
		require.NoError(t, err)
		assert.False(t, again)

		p, err := tx.Ledger().GrantCategoryXP(ctx, u.ID, mod.CategoryID, progression.GrantFor(c))
		require.NoError(t, err)
		assert.Equal(t, 1, p.ModulesCompleted)
		assert.Equal(t, mod.XPReward, p.CategoryXP)

		b, err := tx.Ledger().GrantGlobalXP(ctx, u.ID, mod.XPReward)
		require.NoError(t, err)
		assert.Equal(t, mod.XPReward, b.TotalXP)
		assert.Equal(t, shared.MinLevel, b.StoredLevel)

		require.NoError(t, tx.Ledger().PromoteLevel(ctx, u.ID, 3))
		require.NoError(t, tx.Ledger().PromoteLevel(ctx, u.ID, 2))
		b, err = tx.Ledger().Balance(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, shared.Level(3), b.StoredLevel)
		return nil
	})
	require.NoError(t, err)

	done, err := NewCompletionRepository(conn).IsCompleted(ctx, progression.KindModule, u.ID, mod.ID)
	require.NoError(t, err)
	assert.True(t, done)
}

func TestIntegration_StreakTouch(t *testing.T) {
	conn := testConnection(t)
	ctx := context.Background()
	u := testUser(t, conn)
	repo := NewStreakRepository(conn)

	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	up, err := repo.Touch(ctx, u.ID, day)
	require.NoError(t, err)
	assert.Equal(t, progression.StreakStarted, up.Transition)
	assert.Equal(t, 1, up.Streak.CurrentStreak)

	up, err = repo.Touch(ctx, u.ID, day)
	require.NoError(t, err)
	assert.Equal(t, progression.StreakSameDay, up.Transition)

	up, err = repo.Touch(ctx, u.ID, day.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, progression.StreakContinued, up.Transition)
	assert.Equal(t, 2, up.Streak.CurrentStreak)
	assert.Equal(t, 2, up.Streak.LongestStreak)

	up, err = repo.Touch(ctx, u.ID, day.AddDate(0, 0, 5))
	require.NoError(t, err)
	assert.Equal(t, progression.StreakReset, up.Transition)
	assert.Equal(t, 1, up.Streak.CurrentStreak)
	assert.Equal(t, 2, up.Streak.LongestStreak)
}

func TestIntegration_StreakTouchRaceReportsStoredTransition(t *testing.T) {
	conn := testConnection(t)
	ctx := context.Background()
	u := testUser(t, conn)

	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	next := day.AddDate(0, 0, 1)

	_, err := NewStreakRepository(conn).Touch(ctx, u.ID, day)
	require.NoError(t, err)

	first, err := conn.BeginTx(ctx, DefaultTxOptions())
	require.NoError(t, err)
	defer func() { _ = first.Rollback(ctx) }()

	up, err := NewStreakRepository(first).Touch(ctx, u.ID, next)
	require.NoError(t, err)
	require.Equal(t, progression.StreakContinued, up.Transition)

	type result struct {
		up  progression.StreakUpdate
		err error
	}
	done := make(chan result, 1)
	go func() {
		second, err := conn.BeginTx(ctx, DefaultTxOptions())
		if err != nil {
			done <- result{err: err}
			return
		}
		defer func() { _ = second.Rollback(ctx) }()

		up, err := NewStreakRepository(second).Touch(ctx, u.ID, next)
		if err == nil {
			err = second.Commit(ctx)
		}
		done <- result{up: up, err: err}
	}()

	// the second touch waits on the row lock until the first commits
	time.Sleep(200 * time.Millisecond)
	require.NoError(t, first.Commit(ctx))

	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, progression.StreakSameDay, res.up.Transition)
	assert.Equal(t, 2, res.up.Streak.CurrentStreak)
}

func TestIntegration_SavepointRollsBackOnlyInner(t *testing.T) {
	conn := testConnection(t)
	ctx := context.Background()
	u := testUser(t, conn)

	err := NewUnitOfWork(conn).Within(ctx, func(ctx context.Context, tx progression.Tx) error {
		_, err := tx.Ledger().GrantGlobalXP(ctx, u.ID, 40)
		require.NoError(t, err)

		inner := tx.Savepoint(ctx, func(ctx context.Context, tx progression.Tx) error {
			if _, err := tx.Ledger().GrantGlobalXP(ctx, u.ID, 1000); err != nil {
				return err
			}
			return errors.New("abort inner")
		})
		assert.Error(t, inner)
		return nil
	})
	require.NoError(t, err)

	got, err := NewUserRepository(conn).GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, shared.XP(40), got.TotalXP)
}

func TestIntegration_Preferences(t *testing.T) {
	conn := testConnection(t)
	ctx := context.Background()
	u := testUser(t, conn)
	repo := NewPreferenceRepository(conn)

	empty, err := repo.Get(ctx, u.ID)
	require.NoError(t, err)
	assert.Empty(t, empty)

	require.NoError(t, repo.Save(ctx, u.ID, map[string]string{"theme": "dark", "sound": "off"}))
	require.NoError(t, repo.Save(ctx, u.ID, map[string]string{"theme": "light"}))

	got, err := repo.Get(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"theme": "light", "sound": "off"}, got)
}
