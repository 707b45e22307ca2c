package progression

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/cyberguard/cyberguard-training/internal/domain/shared"
	"github.com/cyberguard/cyberguard-training/pkg/timeutil"
)

func TestStreak_Record(t *testing.T) {
	d := timeutil.Date(2026, 10, 1)

	t.Run("first activity starts at one", func(t *testing.T) {
		s := NewStreak(1)
		tr := s.Record(d)

		assert.Equal(t, StreakStarted, tr)
		assert.Equal(t, 1, s.CurrentStreak)
		assert.Equal(t, 1, s.LongestStreak)
		assert.Equal(t, d, s.LastActivityDate)
	})

	t.Run("same day does not inflate", func(t *testing.T) {
		s := &Streak{CurrentStreak: 3, LongestStreak: 5, LastActivityDate: d}
		tr := s.Record(d.Add(15 * time.Hour))

		assert.Equal(t, StreakSameDay, tr)
		assert.False(t, tr.Changed())
		assert.Equal(t, 3, s.CurrentStreak)
		assert.Equal(t, 5, s.LongestStreak)
	})

	t.Run("consecutive day extends and raises longest", func(t *testing.T) {
		s := &Streak{CurrentStreak: 5, LongestStreak: 5, LastActivityDate: d}
		tr := s.Record(timeutil.AddDays(d, 1))

		assert.Equal(t, StreakContinued, tr)
		assert.Equal(t, 6, s.CurrentStreak)
		assert.Equal(t, 6, s.LongestStreak)
		assert.Equal(t, timeutil.AddDays(d, 1), s.LastActivityDate)
	})

	t.Run("consecutive day below longest keeps longest", func(t *testing.T) {
		s := &Streak{CurrentStreak: 2, LongestStreak: 9, LastActivityDate: d}
		s.Record(timeutil.AddDays(d, 1))

		assert.Equal(t, 3, s.CurrentStreak)
		assert.Equal(t, 9, s.LongestStreak)
	})

	t.Run("gap resets current only", func(t *testing.T) {
		s := &Streak{CurrentStreak: 7, LongestStreak: 7, LastActivityDate: d}
		tr := s.Record(timeutil.AddDays(d, 2))

		assert.Equal(t, StreakReset, tr)
		assert.Equal(t, 1, s.CurrentStreak)
		assert.Equal(t, 7, s.LongestStreak)
		assert.Equal(t, timeutil.AddDays(d, 2), s.LastActivityDate)
	})

	t.Run("date in the past is treated as same day", func(t *testing.T) {
		s := &Streak{CurrentStreak: 4, LongestStreak: 4, LastActivityDate: d}
		tr := s.Record(timeutil.AddDays(d, -1))

		assert.Equal(t, StreakSameDay, tr)
		assert.Equal(t, d, s.LastActivityDate)
	})
}

func TestStreak_IsAlive(t *testing.T) {
	d := timeutil.Date(2026, 10, 1)
	s := &Streak{CurrentStreak: 2, LongestStreak: 2, LastActivityDate: d}

	assert.True(t, s.IsAlive(d))
	assert.True(t, s.IsAlive(timeutil.AddDays(d, 1)))
	assert.False(t, s.IsAlive(timeutil.AddDays(d, 2)))
	assert.False(t, NewStreak(1).IsAlive(d))
}

func TestXPFor(t *testing.T) {
	question := ActivityItem{Kind: KindQuizQuestion, XPReward: 15}
	element := ActivityItem{Kind: KindInteractive, XPReward: 40}
	module := ActivityItem{Kind: KindModule, XPReward: 25}

	claimed := func(v int) *shared.XP { x := shared.XP(v); return &x }

	assert.Equal(t, shared.XP(15), XPFor(question, true, nil))
	assert.Equal(t, shared.XP(0), XPFor(question, false, nil))
	assert.Equal(t, shared.XP(30), XPFor(element, false, claimed(30)))
	assert.Equal(t, shared.XP(40), XPFor(element, false, claimed(500)))
	assert.Equal(t, shared.XP(0), XPFor(element, false, nil), "nothing claimed, nothing granted")
	assert.Equal(t, shared.XP(25), XPFor(module, false, nil))
}

func TestGrantFor(t *testing.T) {
	tests := []struct {
		name string
		c    Completion
		want CategoryGrant
	}{
		{"correct answer", Completion{Kind: KindQuizQuestion, Correct: true, XPEarned: 10}, CategoryGrant{QuestionsAnswered: 1, QuestionsCorrect: 1, XP: 10}},
		{"incorrect answer", Completion{Kind: KindQuizQuestion, Correct: false}, CategoryGrant{QuestionsAnswered: 1}},
		{"module", Completion{Kind: KindModule, XPEarned: 25}, CategoryGrant{ModulesCompleted: 1, XP: 25}},
		{"scenario", Completion{Kind: KindScenario, XPEarned: 50}, CategoryGrant{ScenariosCompleted: 1, XP: 50}},
		{"interactive", Completion{Kind: KindInteractive, XPEarned: 20}, CategoryGrant{InteractiveCompleted: 1, XP: 20}},
		{"daily challenge", Completion{Kind: KindDailyChallenge, XPEarned: 30}, CategoryGrant{XP: 30}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GrantFor(tt.c))
		})
	}
}

func TestCategoryProgress_Additivity(t *testing.T) {
	var p CategoryProgress
	grants := []Completion{
		{Kind: KindQuizQuestion, Correct: true, XPEarned: 10},
		{Kind: KindQuizQuestion, Correct: false},
		{Kind: KindModule, XPEarned: 25},
		{Kind: KindQuizQuestion, Correct: true, XPEarned: 15},
	}

	sum := shared.XP(0)
	for _, c := range grants {
		p.Apply(GrantFor(c), time.Now())
		sum += c.XPEarned
		assert.LessOrEqual(t, p.QuestionsCorrect, p.QuestionsAnswered)
	}

	assert.Equal(t, sum, p.CategoryXP)
	assert.Equal(t, 3, p.QuestionsAnswered)
	assert.Equal(t, 2, p.QuestionsCorrect)
	assert.Equal(t, 66, p.Accuracy())
}

// Quiz answers are repeatable by design; everything else completes once.
func TestActivityKind_QuizIsNotDeduplicated(t *testing.T) {
	assert.False(t, KindQuizQuestion.AtMostOnce())
	assert.True(t, KindModule.AtMostOnce())
	assert.True(t, KindInteractive.AtMostOnce())
	assert.True(t, KindScenario.AtMostOnce())
	assert.True(t, KindDailyChallenge.AtMostOnce())
}

func TestEligible(t *testing.T) {
	catalog := []Reward{
		{Key: "level_10", RequirementType: RequirementLevel, RequirementValue: 10},
		{Key: "level_5", RequirementType: RequirementLevel, RequirementValue: 5},
		{Key: "interactive_10", RequirementType: RequirementAchievement, RequirementValue: 10},
		{Key: "streak_3", RequirementType: RequirementStreak, RequirementValue: 3},
		{Key: "xp_500", RequirementType: RequirementXP, RequirementValue: 500},
		{Key: "mystery", RequirementType: "moon_phase", RequirementValue: 1},
	}
	stats := Stats{TotalXP: 520, Level: 6, CurrentStreak: 2, InteractiveCompleted: 10}

	got := Eligible(catalog, stats)

	keys := make([]string, 0, len(got))
	for _, r := range got {
		keys = append(keys, r.Key)
	}
	assert.Equal(t, []string{"interactive_10", "level_5", "xp_500"}, keys)
}

func TestUnlockDetails(t *testing.T) {
	assert.Equal(t, "Unlocked achievement: Cyber Defender", UnlockDetails(Reward{Name: "Cyber Defender"}))
}

func TestLevelUp(t *testing.T) {
	tests := []struct {
		name    string
		stored  shared.Level
		total   shared.XP
		want    shared.Level
		leveled bool
	}{
		{"boundary crossed", 1, 105, 2, true},
		{"same band", 1, 99, 1, false},
		{"several levels at once", 1, 350, 4, true},
		{"stored ahead never drops", 5, 120, 5, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, up := LevelUp(tt.stored, tt.total)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.leveled, up)
		})
	}
}

func TestXPForNextLevel_IsCumulative(t *testing.T) {
	assert.Equal(t, 100, XPForNextLevel(1))
	assert.Equal(t, 300, XPForNextLevel(3))
	assert.Equal(t, 50, ProgressToNext(250))
	assert.Equal(t, shared.Level(3), LevelFor(250))
}
