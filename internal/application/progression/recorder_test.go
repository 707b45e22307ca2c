package progression

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyberguard/cyberguard-training/internal/domain/progression"
	"github.com/cyberguard/cyberguard-training/internal/domain/shared"
	"github.com/cyberguard/cyberguard-training/pkg/timeutil"
)

var fixedNow = time.Date(2026, 10, 15, 14, 30, 0, 0, time.UTC)

const testUser int64 = 7

type recorderEnv struct {
	db        *memDB
	items     memResolver
	publisher *recordingPublisher
	recorder  *Recorder
}

func newRecorderEnv(t *testing.T, features Features) *recorderEnv {
	t.Helper()

	env := &recorderEnv{
		db:        newMemDB(),
		items:     memResolver{},
		publisher: &recordingPublisher{},
	}

	env.items.add(progression.ActivityItem{Kind: progression.KindModule, ID: 1, CategoryID: 10, Title: "Phishing Basics", XPReward: 10})
	env.items.add(progression.ActivityItem{Kind: progression.KindModule, ID: 2, CategoryID: 10, Title: "Spear Phishing", XPReward: 50})
	env.items.add(progression.ActivityItem{Kind: progression.KindQuizQuestion, ID: 5, CategoryID: 10, Title: "What is phishing?", XPReward: 10})
	env.items.add(progression.ActivityItem{Kind: progression.KindScenario, ID: 3, CategoryID: 20, Title: "Suspicious Email", XPReward: 25})
	env.items.add(progression.ActivityItem{Kind: progression.KindInteractive, ID: 4, CategoryID: 30, Title: "Password Meter", XPReward: 20})

	env.recorder = NewRecorder(
		env.db, env.items, nil, env.publisher, features,
		timeutil.FixedClock{T: fixedNow}, nil, Config{TxMaxAttempts: 3},
	)
	return env
}

func (e *recorderEnv) record(t *testing.T, req Request) *Outcome {
	t.Helper()
	if req.UserID == 0 {
		req.UserID = testUser
	}
	out, err := e.recorder.Record(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, out)
	return out
}

func xpPtr(v int) *shared.XP {
	x := shared.XP(v)
	return &x
}

// ══════════════════════════════════════════════════════════════════════════════
// LEDGER AND LEVEL
// ══════════════════════════════════════════════════════════════════════════════

func TestRecorder_ModuleCompletionLevelsUp(t *testing.T) {
	env := newRecorderEnv(t, nil)
	env.db.seedUser(testUser, 95)

	out := env.record(t, Request{Kind: progression.KindModule, ItemID: 1})

	assert.False(t, out.AlreadyCompleted)
	assert.Equal(t, shared.XP(10), out.XPEarned)
	assert.Equal(t, shared.XP(105), out.TotalXP)
	assert.Equal(t, shared.Level(2), out.Level)
	assert.Equal(t, shared.Level(1), out.PreviousLevel)
	assert.True(t, out.LevelUp)

	require.NotNil(t, out.Category)
	assert.Equal(t, 1, out.Category.ModulesCompleted)
	assert.Equal(t, shared.XP(10), out.Category.CategoryXP)

	assert.Equal(t, shared.Level(2), env.db.state.levels[testUser])
	assert.Contains(t, env.publisher.types(), shared.EventLevelUp)
	assert.Contains(t, env.publisher.types(), shared.EventActivityCompleted)
	assert.Contains(t, env.publisher.types(), shared.EventXPGained)
}

func TestRecorder_LevelDoesNotChangeBelowThreshold(t *testing.T) {
	env := newRecorderEnv(t, nil)
	env.db.seedUser(testUser, 50)

	out := env.record(t, Request{Kind: progression.KindModule, ItemID: 1})

	assert.Equal(t, shared.XP(60), out.TotalXP)
	assert.Equal(t, shared.Level(1), out.Level)
	assert.False(t, out.LevelUp)
	assert.NotContains(t, env.publisher.types(), shared.EventLevelUp)
}

func TestRecorder_ModuleCompletionIsIdempotent(t *testing.T) {
	env := newRecorderEnv(t, nil)
	env.db.seedUser(testUser, 0)

	first := env.record(t, Request{Kind: progression.KindModule, ItemID: 1})
	published := len(env.publisher.events)

	second := env.record(t, Request{Kind: progression.KindModule, ItemID: 1})

	assert.False(t, first.AlreadyCompleted)
	assert.True(t, second.AlreadyCompleted)
	assert.Equal(t, shared.XP(0), second.XPEarned)
	assert.Equal(t, shared.XP(10), second.TotalXP)
	assert.Equal(t, shared.XP(10), env.db.state.totalXP[testUser])
	assert.Equal(t, 1, env.db.state.categories[[2]int64{testUser, 10}].ModulesCompleted)
	assert.Len(t, env.publisher.events, published, "duplicate completion publishes nothing")
}

func TestRecorder_ScenarioIsAtMostOnce(t *testing.T) {
	env := newRecorderEnv(t, nil)

	env.record(t, Request{Kind: progression.KindScenario, ItemID: 3, Score: 80, CompletionTime: 120})
	second := env.record(t, Request{Kind: progression.KindScenario, ItemID: 3, Score: 100})

	assert.True(t, second.AlreadyCompleted)
	assert.Equal(t, shared.XP(25), env.db.state.totalXP[testUser])
	assert.Equal(t, 1, env.db.state.categories[[2]int64{testUser, 20}].ScenariosCompleted)
}

// ══════════════════════════════════════════════════════════════════════════════
// QUIZ
// ══════════════════════════════════════════════════════════════════════════════

func TestRecorder_IncorrectQuizAnswer(t *testing.T) {
	env := newRecorderEnv(t, nil)

	out := env.record(t, Request{Kind: progression.KindQuizQuestion, ItemID: 5, Correct: false})

	assert.Equal(t, shared.XP(0), out.XPEarned)
	require.NotNil(t, out.Category)
	assert.Equal(t, 1, out.Category.QuestionsAnswered)
	assert.Equal(t, 0, out.Category.QuestionsCorrect)

	require.NotNil(t, out.Streak)
	assert.Equal(t, progression.StreakStarted, out.Streak.Transition)

	assert.NotContains(t, env.publisher.types(), shared.EventXPGained)
	assert.Contains(t, env.publisher.types(), shared.EventActivityCompleted)
}

func TestRecorder_QuizAnswersAreNotDeduplicated(t *testing.T) {
	env := newRecorderEnv(t, nil)

	first := env.record(t, Request{Kind: progression.KindQuizQuestion, ItemID: 5, Correct: true})
	second := env.record(t, Request{Kind: progression.KindQuizQuestion, ItemID: 5, Correct: true})

	assert.False(t, second.AlreadyCompleted)
	assert.Equal(t, shared.XP(10), first.XPEarned)
	assert.Equal(t, shared.XP(10), second.XPEarned)
	assert.Equal(t, shared.XP(20), second.TotalXP)

	p := env.db.state.categories[[2]int64{testUser, 10}]
	assert.Equal(t, 2, p.QuestionsAnswered)
	assert.Equal(t, 2, p.QuestionsCorrect)
	assert.Equal(t, shared.XP(20), p.CategoryXP)
}

// ══════════════════════════════════════════════════════════════════════════════
// INTERACTIVE / DAILY CHALLENGE
// ══════════════════════════════════════════════════════════════════════════════

func TestRecorder_InteractiveXPIsCapped(t *testing.T) {
	env := newRecorderEnv(t, nil)

	out := env.record(t, Request{Kind: progression.KindInteractive, ItemID: 4, ClaimedXP: xpPtr(1000)})

	assert.Equal(t, shared.XP(20), out.XPEarned)
	assert.Equal(t, 1, out.Category.InteractiveCompleted)
}

func TestRecorder_InteractiveWithoutClaimGrantsNothing(t *testing.T) {
	env := newRecorderEnv(t, nil)

	out := env.record(t, Request{Kind: progression.KindInteractive, ItemID: 4})

	assert.Zero(t, out.XPEarned)
	assert.Zero(t, out.Category.CategoryXP)
	assert.Equal(t, 1, out.Category.InteractiveCompleted)
	assert.False(t, out.LevelUp)
}

func TestRecorder_DailyChallenge(t *testing.T) {
	today := timeutil.DateOf(fixedNow)
	tomorrow := timeutil.AddDays(today, 1)

	env := newRecorderEnv(t, nil)
	env.items.add(progression.ActivityItem{Kind: progression.KindDailyChallenge, ID: 100, CategoryID: 10, Title: "Spot the fake", XPReward: 30, AvailableOn: &today})
	env.items.add(progression.ActivityItem{Kind: progression.KindDailyChallenge, ID: 101, CategoryID: 10, Title: "Tomorrow", XPReward: 30, AvailableOn: &tomorrow})

	t.Run("today's challenge grants category xp", func(t *testing.T) {
		out := env.record(t, Request{Kind: progression.KindDailyChallenge, ItemID: 100})

		assert.Equal(t, shared.XP(30), out.XPEarned)
		assert.Equal(t, shared.XP(30), out.Category.CategoryXP)
		assert.Zero(t, out.Category.ModulesCompleted)
		assert.Zero(t, out.Category.QuestionsAnswered)
	})

	t.Run("future challenge is rejected", func(t *testing.T) {
		_, err := env.recorder.Record(context.Background(), Request{Kind: progression.KindDailyChallenge, UserID: testUser, ItemID: 101})

		require.Error(t, err)
		assert.True(t, shared.IsValidation(err))
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// STREAK
// ══════════════════════════════════════════════════════════════════════════════

func TestRecorder_StreakTouchedOncePerDay(t *testing.T) {
	env := newRecorderEnv(t, nil)

	first := env.record(t, Request{Kind: progression.KindModule, ItemID: 1})
	second := env.record(t, Request{Kind: progression.KindModule, ItemID: 2})

	assert.Equal(t, progression.StreakStarted, first.Streak.Transition)
	assert.Equal(t, progression.StreakSameDay, second.Streak.Transition)
	assert.Equal(t, 1, second.Streak.Streak.CurrentStreak)

	streakEvents := 0
	for _, ty := range env.publisher.types() {
		if ty == shared.EventDailyStreakUpdated {
			streakEvents++
		}
	}
	assert.Equal(t, 1, streakEvents)
}

func TestRecorder_StreakContinuesFromYesterday(t *testing.T) {
	env := newRecorderEnv(t, nil)
	env.db.state.streaks[testUser] = progression.Streak{
		UserID:           testUser,
		CurrentStreak:    5,
		LongestStreak:    5,
		LastActivityDate: timeutil.AddDays(timeutil.DateOf(fixedNow), -1),
	}

	out := env.record(t, Request{Kind: progression.KindModule, ItemID: 1})

	assert.Equal(t, progression.StreakContinued, out.Streak.Transition)
	assert.Equal(t, 6, out.Streak.Streak.CurrentStreak)
	assert.Equal(t, 6, out.Streak.Streak.LongestStreak)
}

func TestRecorder_FeaturesDisabled(t *testing.T) {
	env := newRecorderEnv(t, staticFeatures{streaks: false, achievements: false})
	env.db.catalog = []progression.Reward{{ID: 1, Key: "level_1", Name: "Rookie", RequirementType: progression.RequirementLevel, RequirementValue: 1}}

	out := env.record(t, Request{Kind: progression.KindModule, ItemID: 1})

	assert.Nil(t, out.Streak)
	assert.Empty(t, out.Unlocked)
	assert.Empty(t, env.db.state.streaks)
	assert.Empty(t, env.db.state.unlocked)
}

// ══════════════════════════════════════════════════════════════════════════════
// ACHIEVEMENTS
// ══════════════════════════════════════════════════════════════════════════════

func TestRecorder_AchievementUnlockedOnce(t *testing.T) {
	env := newRecorderEnv(t, nil)
	env.db.seedUser(testUser, 95)
	env.db.catalog = []progression.Reward{
		{ID: 1, Key: "level_2", Name: "Apprentice", RequirementType: progression.RequirementLevel, RequirementValue: 2},
		{ID: 2, Key: "xp_1000", Name: "Grinder", RequirementType: progression.RequirementXP, RequirementValue: 1000},
	}

	first := env.record(t, Request{Kind: progression.KindModule, ItemID: 1})
	second := env.record(t, Request{Kind: progression.KindModule, ItemID: 2})

	require.Len(t, first.Unlocked, 1)
	assert.Equal(t, "level_2", first.Unlocked[0].Key)
	assert.Empty(t, second.Unlocked)
	assert.Len(t, env.db.state.unlocked[testUser], 1)

	var details []string
	for _, e := range env.db.state.log {
		if e.ActivityType == progression.LogTypeAchievement {
			details = append(details, e.Details)
		}
	}
	assert.Equal(t, []string{"Unlocked achievement: Apprentice"}, details)
	assert.Contains(t, env.publisher.types(), shared.EventAchievementUnlocked)
}

func TestRecorder_InteractiveCountAchievement(t *testing.T) {
	env := newRecorderEnv(t, nil)
	env.db.catalog = []progression.Reward{
		{ID: 3, Key: "interactive_1", Name: "Hands On", RequirementType: progression.RequirementAchievement, RequirementValue: 1},
	}

	out := env.record(t, Request{Kind: progression.KindInteractive, ItemID: 4, ClaimedXP: xpPtr(20)})

	require.Len(t, out.Unlocked, 1)
	assert.Equal(t, "interactive_1", out.Unlocked[0].Key)
}

func TestRecorder_FailingRewardDoesNotFailCompletion(t *testing.T) {
	env := newRecorderEnv(t, nil)
	env.db.catalog = []progression.Reward{
		{ID: 1, Key: "broken", Name: "Broken", RequirementType: progression.RequirementLevel, RequirementValue: 1},
		{ID: 2, Key: "level_1", Name: "Rookie", RequirementType: progression.RequirementLevel, RequirementValue: 1},
	}
	env.db.failUnlock["broken"] = true

	out := env.record(t, Request{Kind: progression.KindModule, ItemID: 1})

	require.Len(t, out.Unlocked, 1)
	assert.Equal(t, "level_1", out.Unlocked[0].Key)
	assert.Equal(t, shared.XP(10), env.db.state.totalXP[testUser])

	keys := []string{}
	for _, r := range env.db.state.unlocked[testUser] {
		keys = append(keys, r.Key)
	}
	assert.Equal(t, []string{"level_1"}, keys, "failed unlock is rolled back to its savepoint")
}

func TestRecorder_StatsFailureSkipsEvaluation(t *testing.T) {
	env := newRecorderEnv(t, nil)
	env.db.catalog = []progression.Reward{{ID: 1, Key: "level_1", Name: "Rookie", RequirementType: progression.RequirementLevel, RequirementValue: 1}}
	env.db.failStats = errors.New("stats query failed")

	out := env.record(t, Request{Kind: progression.KindModule, ItemID: 1})

	assert.Empty(t, out.Unlocked)
	assert.Equal(t, shared.XP(10), env.db.state.totalXP[testUser])
}

// ══════════════════════════════════════════════════════════════════════════════
// FAILURES
// ══════════════════════════════════════════════════════════════════════════════

func TestRecorder_PersistenceErrorRollsBack(t *testing.T) {
	env := newRecorderEnv(t, nil)
	env.db.seedUser(testUser, 40)
	env.db.failStreak = errors.New("connection reset")

	out, err := env.recorder.Record(context.Background(), Request{Kind: progression.KindModule, UserID: testUser, ItemID: 1})

	require.Error(t, err)
	assert.Nil(t, out)
	assert.ErrorIs(t, err, shared.ErrPersistence)
	assert.Equal(t, shared.XP(40), env.db.state.totalXP[testUser])
	assert.Empty(t, env.db.state.completions)
	assert.Empty(t, env.db.state.categories)
	assert.Empty(t, env.publisher.events)
}

func TestRecorder_RetriesSerializationFailure(t *testing.T) {
	env := newRecorderEnv(t, nil)
	env.db.conflicts = 1

	out := env.record(t, Request{Kind: progression.KindModule, ItemID: 1})

	assert.Equal(t, shared.XP(10), out.TotalXP)
	assert.Equal(t, 2, env.db.withinCalls)
}

func TestRecorder_Validation(t *testing.T) {
	env := newRecorderEnv(t, nil)
	ctx := context.Background()

	tests := []struct {
		name  string
		req   Request
		check func(error) bool
	}{
		{"unknown kind", Request{Kind: "lecture", UserID: testUser, ItemID: 1}, shared.IsValidation},
		{"missing item", Request{Kind: progression.KindModule, UserID: testUser}, shared.IsValidation},
		{"anonymous", Request{Kind: progression.KindModule, ItemID: 1}, shared.IsUnauthorized},
		{"negative xp", Request{Kind: progression.KindInteractive, UserID: testUser, ItemID: 4, ClaimedXP: xpPtr(-5)}, shared.IsValidation},
		{"negative time", Request{Kind: progression.KindScenario, UserID: testUser, ItemID: 3, CompletionTime: -1}, shared.IsValidation},
		{"unknown module", Request{Kind: progression.KindModule, UserID: testUser, ItemID: 999}, shared.IsNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := env.recorder.Record(ctx, tt.req)

			require.Error(t, err)
			assert.Nil(t, out)
			assert.True(t, tt.check(err), "unexpected error: %v", err)
		})
	}

	assert.Zero(t, env.db.withinCalls, "rejected requests never open a transaction")
}
