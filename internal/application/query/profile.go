package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cyberguard/cyberguard-training/internal/domain/catalog"
	"github.com/cyberguard/cyberguard-training/internal/domain/progression"
	"github.com/cyberguard/cyberguard-training/internal/domain/shared"
	"github.com/cyberguard/cyberguard-training/internal/domain/user"
	"github.com/cyberguard/cyberguard-training/pkg/logger"
	"github.com/cyberguard/cyberguard-training/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET PROFILE QUERY
// Полный профиль пользователя: уровень, прогресс по категориям, награды,
// серия, последние действия, настройки и сегодняшнее задание.
// Профиль кешируется; кеш сбрасывается событиями прогресса.
// ══════════════════════════════════════════════════════════════════════════════

// RecentActivityLimit - сколько последних действий показывать.
const RecentActivityLimit = 10

// ProfileDTO - профиль пользователя.
type ProfileDTO struct {
	User             ProfileUserDTO        `json:"user"`
	Categories       []CategoryProgressDTO `json:"categories"`
	RewardsUnlocked  []RewardDTO           `json:"rewards_unlocked"`
	RewardsAvailable []RewardDTO           `json:"rewards_available"`
	Streak           StreakDTO             `json:"streak"`
	RecentActivity   []ActivityDTO         `json:"recent_activity"`
	Preferences      map[string]string     `json:"preferences"`
	Stats            ProfileStatsDTO       `json:"stats"`
	DailyChallenge   *DailyChallengeDTO    `json:"daily_challenge"`

	GeneratedAt time.Time `json:"generated_at"`
}

// ProfileUserDTO - пользователь и его уровень.
type ProfileUserDTO struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	TotalXP  int    `json:"total_xp"`
	Level    int    `json:"level"`

	// LevelTitle - звание по уровню.
	LevelTitle string `json:"level_title"`

	// XPForNextLevel - суммарный XP, нужный для следующего уровня.
	XPForNextLevel int `json:"xp_for_next_level"`

	// ProgressToNext - XP внутри текущего уровня (0-99).
	ProgressToNext int `json:"progress_to_next"`

	CreatedAt time.Time `json:"created_at"`
}

// CategoryProgressDTO - прогресс в категории.
type CategoryProgressDTO struct {
	CategoryID           int64      `json:"category_id"`
	Name                 string     `json:"name"`
	Icon                 string     `json:"icon"`
	Color                string     `json:"color"`
	QuestionsAnswered    int        `json:"questions_answered"`
	QuestionsCorrect     int        `json:"questions_correct"`
	ScenariosCompleted   int        `json:"scenarios_completed"`
	ModulesCompleted     int        `json:"modules_completed"`
	InteractiveCompleted int        `json:"interactive_completed"`
	CategoryXP           int        `json:"category_xp"`
	Accuracy             int        `json:"accuracy"`
	LastActivity         *time.Time `json:"last_activity,omitempty"`
}

// RewardDTO - награда каталога.
type RewardDTO struct {
	ID               int64  `json:"id"`
	Key              string `json:"key"`
	Name             string `json:"name"`
	Description      string `json:"description"`
	Icon             string `json:"icon"`
	RewardType       string `json:"reward_type"`
	RequirementType  string `json:"requirement_type"`
	RequirementValue int    `json:"requirement_value"`
}

// StreakDTO - серия дней.
type StreakDTO struct {
	Current          int    `json:"current_streak"`
	Longest          int    `json:"longest_streak"`
	LastActivityDate string `json:"last_activity_date,omitempty"`

	// Alive - серия продлится, если заниматься сегодня.
	Alive bool `json:"alive"`
}

// ActivityDTO - запись журнала.
type ActivityDTO struct {
	ActivityType string    `json:"activity_type"`
	Details      string    `json:"details"`
	XPEarned     int       `json:"xp_earned"`
	CreatedAt    time.Time `json:"created_at"`
}

// ProfileStatsDTO - сводка по всем категориям.
type ProfileStatsDTO struct {
	TotalQuestions   int `json:"total_questions"`
	TotalCorrect     int `json:"total_correct"`
	Accuracy         int `json:"accuracy"`
	TotalScenarios   int `json:"total_scenarios"`
	TotalModules     int `json:"total_modules"`
	TotalInteractive int `json:"total_interactive"`
}

// ══════════════════════════════════════════════════════════════════════════════
// SOURCES
// ══════════════════════════════════════════════════════════════════════════════

// CategoryProgressReader читает строки прогресса пользователя.
type CategoryProgressReader interface {
	CategoryProgress(ctx context.Context, userID int64) ([]progression.CategoryProgress, error)
}

// RewardReader читает каталог наград и выданные награды.
type RewardReader interface {
	Catalog(ctx context.Context) ([]progression.Reward, error)
	Unlocked(ctx context.Context, userID int64) ([]progression.Reward, error)
}

// StreakReader читает серию.
type StreakReader interface {
	Get(ctx context.Context, userID int64) (*progression.Streak, error)
}

// ActivityReader читает журнал.
type ActivityReader interface {
	Recent(ctx context.Context, userID int64, limit int) ([]progression.ActivityLogEntry, error)
}

// ProfileCache хранит готовые профили. Промах - shared.ErrNotFound.
type ProfileCache interface {
	Get(ctx context.Context, userID int64, dest interface{}) error
	Set(ctx context.Context, userID int64, profile interface{}) error
	Invalidate(ctx context.Context, userID int64) error
}

// ProfileSources - источники данных профиля.
type ProfileSources struct {
	Users       user.Repository
	Progress    CategoryProgressReader
	Rewards     RewardReader
	Streaks     StreakReader
	Activity    ActivityReader
	Preferences user.PreferenceRepository
	Catalog     catalog.Repository
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// GetProfileHandler собирает профиль.
type GetProfileHandler struct {
	src   ProfileSources
	cache ProfileCache
	clock timeutil.Clock
	log   *logger.Logger
}

// NewGetProfileHandler создаёт новый обработчик. cache может быть nil.
func NewGetProfileHandler(src ProfileSources, cache ProfileCache, clock timeutil.Clock, log *logger.Logger) *GetProfileHandler {
	if clock == nil {
		clock = timeutil.NewSystemClock(time.UTC)
	}
	if log == nil {
		log = logger.Nop()
	}
	return &GetProfileHandler{
		src:   src,
		cache: cache,
		clock: clock,
		log:   log.With(logger.Component("profile_query")),
	}
}

// Handle возвращает профиль. Ошибки кеша не ломают запрос.
func (h *GetProfileHandler) Handle(ctx context.Context, userID int64) (*ProfileDTO, error) {
	if userID <= 0 {
		return nil, shared.ErrNotLoggedIn
	}

	if h.cache != nil {
		var cached ProfileDTO
		err := h.cache.Get(ctx, userID, &cached)
		if err == nil {
			return &cached, nil
		}
		if !errors.Is(err, shared.ErrNotFound) {
			h.log.Warn("profile cache read failed", logger.UserID(userID), logger.Err(err))
		}
	}

	profile, err := h.build(ctx, userID)
	if err != nil {
		return nil, err
	}

	if h.cache != nil {
		if err := h.cache.Set(ctx, userID, profile); err != nil {
			h.log.Warn("profile cache write failed", logger.UserID(userID), logger.Err(err))
		}
	}

	return profile, nil
}

func (h *GetProfileHandler) build(ctx context.Context, userID int64) (*ProfileDTO, error) {
	u, err := h.src.Users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := h.clock.Now()
	today := timeutil.DateOf(now)

	p := &ProfileDTO{
		User: ProfileUserDTO{
			ID:             u.ID,
			Username:       u.Username.String(),
			TotalXP:        u.TotalXP.Int(),
			Level:          u.Level.Int(),
			LevelTitle:     u.Level.Title(),
			XPForNextLevel: progression.XPForNextLevel(u.Level),
			ProgressToNext: progression.ProgressToNext(u.TotalXP),
			CreatedAt:      u.CreatedAt,
		},
		GeneratedAt: now,
	}

	if err := h.fillCategories(ctx, p, userID); err != nil {
		return nil, err
	}
	if err := h.fillRewards(ctx, p, userID); err != nil {
		return nil, err
	}

	streak, err := h.src.Streaks.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("profile: streak: %w", err)
	}
	p.Streak = StreakDTO{
		Current: streak.CurrentStreak,
		Longest: streak.LongestStreak,
		Alive:   streak.IsAlive(today),
	}
	if !streak.LastActivityDate.IsZero() {
		p.Streak.LastActivityDate = timeutil.FormatDate(streak.LastActivityDate)
	}

	entries, err := h.src.Activity.Recent(ctx, userID, RecentActivityLimit)
	if err != nil {
		return nil, fmt.Errorf("profile: activity: %w", err)
	}
	p.RecentActivity = make([]ActivityDTO, 0, len(entries))
	for _, e := range entries {
		p.RecentActivity = append(p.RecentActivity, ActivityDTO{
			ActivityType: e.ActivityType,
			Details:      e.Details,
			XPEarned:     e.XPEarned.Int(),
			CreatedAt:    e.CreatedAt,
		})
	}

	p.Preferences, err = h.src.Preferences.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("profile: preferences: %w", err)
	}
	if p.Preferences == nil {
		p.Preferences = map[string]string{}
	}

	challenges, err := h.src.Catalog.DailyChallenges(ctx, today, 1, userID)
	if err != nil {
		return nil, fmt.Errorf("profile: daily challenge: %w", err)
	}
	if len(challenges) > 0 {
		dto := newDailyChallengeDTO(challenges[0], today)
		p.DailyChallenge = &dto
	}

	return p, nil
}

// fillCategories выводит все категории каталога, включая нетронутые.
func (h *GetProfileHandler) fillCategories(ctx context.Context, p *ProfileDTO, userID int64) error {
	cats, err := h.src.Catalog.Categories(ctx)
	if err != nil {
		return fmt.Errorf("profile: categories: %w", err)
	}
	rows, err := h.src.Progress.CategoryProgress(ctx, userID)
	if err != nil {
		return fmt.Errorf("profile: category progress: %w", err)
	}

	byCategory := make(map[int64]progression.CategoryProgress, len(rows))
	for _, r := range rows {
		byCategory[r.CategoryID] = r
	}

	p.Categories = make([]CategoryProgressDTO, 0, len(cats))
	for _, c := range cats {
		dto := CategoryProgressDTO{CategoryID: c.ID, Name: c.Name, Icon: c.Icon, Color: c.Color}
		if r, ok := byCategory[c.ID]; ok {
			dto.QuestionsAnswered = r.QuestionsAnswered
			dto.QuestionsCorrect = r.QuestionsCorrect
			dto.ScenariosCompleted = r.ScenariosCompleted
			dto.ModulesCompleted = r.ModulesCompleted
			dto.InteractiveCompleted = r.InteractiveCompleted
			dto.CategoryXP = r.CategoryXP.Int()
			dto.Accuracy = r.Accuracy()
			if !r.LastActivity.IsZero() {
				last := r.LastActivity
				dto.LastActivity = &last
			}

			p.Stats.TotalQuestions += r.QuestionsAnswered
			p.Stats.TotalCorrect += r.QuestionsCorrect
			p.Stats.TotalScenarios += r.ScenariosCompleted
			p.Stats.TotalModules += r.ModulesCompleted
			p.Stats.TotalInteractive += r.InteractiveCompleted
		}
		p.Categories = append(p.Categories, dto)
	}

	if p.Stats.TotalQuestions > 0 {
		p.Stats.Accuracy = p.Stats.TotalCorrect * 100 / p.Stats.TotalQuestions
	}
	return nil
}

// fillRewards делит каталог на выданные и ещё доступные награды.
func (h *GetProfileHandler) fillRewards(ctx context.Context, p *ProfileDTO, userID int64) error {
	all, err := h.src.Rewards.Catalog(ctx)
	if err != nil {
		return fmt.Errorf("profile: reward catalog: %w", err)
	}
	unlocked, err := h.src.Rewards.Unlocked(ctx, userID)
	if err != nil {
		return fmt.Errorf("profile: unlocked rewards: %w", err)
	}

	have := make(map[int64]bool, len(unlocked))
	p.RewardsUnlocked = make([]RewardDTO, 0, len(unlocked))
	for _, r := range unlocked {
		have[r.ID] = true
		p.RewardsUnlocked = append(p.RewardsUnlocked, newRewardDTO(r))
	}

	p.RewardsAvailable = make([]RewardDTO, 0, len(all))
	for _, r := range all {
		if !have[r.ID] {
			p.RewardsAvailable = append(p.RewardsAvailable, newRewardDTO(r))
		}
	}
	return nil
}

func newRewardDTO(r progression.Reward) RewardDTO {
	return RewardDTO{
		ID:               r.ID,
		Key:              r.Key,
		Name:             r.Name,
		Description:      r.Description,
		Icon:             r.Icon,
		RewardType:       r.RewardType,
		RequirementType:  string(r.RequirementType),
		RequirementValue: r.RequirementValue,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// GET PREFERENCES QUERY
// ══════════════════════════════════════════════════════════════════════════════

// GetPreferencesHandler возвращает настройки пользователя.
type GetPreferencesHandler struct {
	prefs user.PreferenceRepository
}

// NewGetPreferencesHandler создаёт новый обработчик.
func NewGetPreferencesHandler(prefs user.PreferenceRepository) *GetPreferencesHandler {
	return &GetPreferencesHandler{prefs: prefs}
}

// Handle возвращает карту настроек; пустую, если настроек нет.
func (h *GetPreferencesHandler) Handle(ctx context.Context, userID int64) (map[string]string, error) {
	if userID <= 0 {
		return nil, shared.ErrNotLoggedIn
	}

	prefs, err := h.prefs.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get_preferences: %w", err)
	}
	if prefs == nil {
		prefs = map[string]string{}
	}
	return prefs, nil
}
