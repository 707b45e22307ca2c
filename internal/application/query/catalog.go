// Package query contains read operations (CQRS - Queries).
package query

import (
	"context"
	"time"

	"github.com/cyberguard/cyberguard-training/internal/domain/catalog"
	"github.com/cyberguard/cyberguard-training/internal/domain/shared"
	"github.com/cyberguard/cyberguard-training/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// CATALOG QUERIES
// Чтение учебного контента. Флаги завершения считаются для пользователя
// из запроса.
// ══════════════════════════════════════════════════════════════════════════════

// CategoryDTO - категория.
type CategoryDTO struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Icon        string `json:"icon"`
	Color       string `json:"color"`
	Description string `json:"description"`
}

// ModuleDTO - учебный модуль.
type ModuleDTO struct {
	ID              int64  `json:"id"`
	CategoryID      int64  `json:"category_id"`
	CategoryName    string `json:"category_name,omitempty"`
	Title           string `json:"title"`
	Content         string `json:"content"`
	DurationMinutes int    `json:"duration_minutes"`
	XPReward        int    `json:"xp_reward"`
	ModuleOrder     int    `json:"module_order"`
	Completed       bool   `json:"completed"`
}

// QuestionDTO - карточка квиза.
type QuestionDTO struct {
	ID         int64  `json:"id"`
	CategoryID int64  `json:"category_id"`
	Question   string `json:"question"`
	Answer     string `json:"answer"`
	Difficulty string `json:"difficulty"`
	XPReward   int    `json:"xp_reward"`
}

// ScenarioDTO - сценарий с шагами.
type ScenarioDTO struct {
	ID           int64             `json:"id"`
	CategoryID   int64             `json:"category_id"`
	CategoryName string            `json:"category_name"`
	Title        string            `json:"title"`
	Description  string            `json:"description"`
	Difficulty   string            `json:"difficulty"`
	XPReward     int               `json:"xp_reward"`
	Steps        []ScenarioStepDTO `json:"steps"`
}

// ScenarioStepDTO - шаг сценария.
type ScenarioStepDTO struct {
	ID         int64               `json:"id"`
	StepNumber int                 `json:"step_number"`
	StoryText  string              `json:"story_text"`
	Choices    []ScenarioChoiceDTO `json:"choices"`
}

// ScenarioChoiceDTO - вариант выбора.
type ScenarioChoiceDTO struct {
	ID         int64  `json:"id"`
	ChoiceText string `json:"choice_text"`
	IsCorrect  bool   `json:"is_correct"`
	Feedback   string `json:"feedback"`
	NextStepID *int64 `json:"next_step_id"`
}

// InteractiveElementDTO - интерактивный элемент.
type InteractiveElementDTO struct {
	ID          int64  `json:"id"`
	CategoryID  int64  `json:"category_id"`
	Title       string `json:"title"`
	ElementType string `json:"element_type"`
	Description string `json:"description"`
	XPReward    int    `json:"xp_reward"`
	Completed   bool   `json:"completed"`
}

// DailyChallengeDTO - ежедневное задание со статусом.
type DailyChallengeDTO struct {
	ID            int64  `json:"id"`
	Date          string `json:"challenge_date"`
	Status        string `json:"status"`
	CategoryID    int64  `json:"category_id"`
	CategoryName  string `json:"category_name"`
	CategoryIcon  string `json:"category_icon"`
	Title         string `json:"title"`
	Description   string `json:"description"`
	ChallengeType string `json:"challenge_type"`
	TargetValue   int    `json:"target_value"`
	XPReward      int    `json:"xp_reward"`
	Completed     bool   `json:"completed"`
}

// QuestionsQuery - фильтр вопросов. Пустые значения - без фильтра.
type QuestionsQuery struct {
	CategoryID int64
	Difficulty string
}

// Validate проверяет параметры запроса.
func (q QuestionsQuery) Validate() error {
	if q.CategoryID < 0 {
		return shared.Validation("query", "GetQuestions", "Invalid category")
	}
	_, err := shared.ParseDifficulty(q.Difficulty)
	return err
}

// CatalogQueryHandler обрабатывает запросы к каталогу.
type CatalogQueryHandler struct {
	repo          catalog.Repository
	clock         timeutil.Clock
	questionLimit int
}

// NewCatalogQueryHandler создаёт новый обработчик.
func NewCatalogQueryHandler(repo catalog.Repository, clock timeutil.Clock) *CatalogQueryHandler {
	if clock == nil {
		clock = timeutil.NewSystemClock(time.UTC)
	}
	return &CatalogQueryHandler{repo: repo, clock: clock, questionLimit: catalog.DefaultQuestionLimit}
}

// WithQuestionLimit задаёт размер сессии квиза (не больше 20).
func (h *CatalogQueryHandler) WithQuestionLimit(limit int) *CatalogQueryHandler {
	h.questionLimit = limit
	return h
}

// Categories возвращает все категории.
func (h *CatalogQueryHandler) Categories(ctx context.Context) ([]CategoryDTO, error) {
	cats, err := h.repo.Categories(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]CategoryDTO, 0, len(cats))
	for _, c := range cats {
		out = append(out, newCategoryDTO(c))
	}
	return out, nil
}

// Modules возвращает модули категории с флагом завершения.
func (h *CatalogQueryHandler) Modules(ctx context.Context, categoryID, userID int64) ([]ModuleDTO, error) {
	if categoryID <= 0 {
		return nil, shared.Validation("query", "GetModules", "Missing category_id")
	}

	mods, err := h.repo.Modules(ctx, categoryID, userID)
	if err != nil {
		return nil, err
	}

	out := make([]ModuleDTO, 0, len(mods))
	for _, m := range mods {
		out = append(out, newModuleDTO(m))
	}
	return out, nil
}

// Module возвращает модуль с названием категории.
func (h *CatalogQueryHandler) Module(ctx context.Context, id int64) (*ModuleDTO, error) {
	if id <= 0 {
		return nil, shared.ErrModuleNotFound
	}

	m, err := h.repo.Module(ctx, id)
	if err != nil {
		return nil, err
	}

	dto := newModuleDTO(*m)
	return &dto, nil
}

// Scenario возвращает сценарий с упорядоченными шагами.
func (h *CatalogQueryHandler) Scenario(ctx context.Context, id int64) (*ScenarioDTO, error) {
	if id <= 0 {
		return nil, shared.ErrScenarioNotFound
	}

	s, err := h.repo.Scenario(ctx, id)
	if err != nil {
		return nil, err
	}

	dto := &ScenarioDTO{
		ID:           s.ID,
		CategoryID:   s.CategoryID,
		CategoryName: s.CategoryName,
		Title:        s.Title,
		Description:  s.Description,
		Difficulty:   string(s.Difficulty),
		XPReward:     s.XPReward.Int(),
		Steps:        make([]ScenarioStepDTO, 0, len(s.Steps)),
	}
	for _, st := range s.Steps {
		step := ScenarioStepDTO{
			ID:         st.ID,
			StepNumber: st.StepNumber,
			StoryText:  st.StoryText,
			Choices:    make([]ScenarioChoiceDTO, 0, len(st.Choices)),
		}
		for _, c := range st.Choices {
			step.Choices = append(step.Choices, ScenarioChoiceDTO{
				ID:         c.ID,
				ChoiceText: c.ChoiceText,
				IsCorrect:  c.IsCorrect,
				Feedback:   c.Feedback,
				NextStepID: c.NextStepID,
			})
		}
		dto.Steps = append(dto.Steps, step)
	}

	return dto, nil
}

// Questions возвращает случайную выборку вопросов (не больше 20).
func (h *CatalogQueryHandler) Questions(ctx context.Context, q QuestionsQuery) ([]QuestionDTO, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	difficulty, _ := shared.ParseDifficulty(q.Difficulty)

	qs, err := h.repo.Questions(ctx, catalog.QuestionFilter{
		CategoryID: q.CategoryID,
		Difficulty: difficulty,
		Limit:      h.questionLimit,
	}.Normalize())
	if err != nil {
		return nil, err
	}

	out := make([]QuestionDTO, 0, len(qs))
	for _, x := range qs {
		out = append(out, QuestionDTO{
			ID:         x.ID,
			CategoryID: x.CategoryID,
			Question:   x.Question,
			Answer:     x.Answer,
			Difficulty: string(x.Difficulty),
			XPReward:   x.XPReward.Int(),
		})
	}
	return out, nil
}

// InteractiveElements возвращает все интерактивные элементы.
func (h *CatalogQueryHandler) InteractiveElements(ctx context.Context, userID int64) ([]InteractiveElementDTO, error) {
	els, err := h.repo.InteractiveElements(ctx, userID)
	if err != nil {
		return nil, err
	}

	out := make([]InteractiveElementDTO, 0, len(els))
	for _, e := range els {
		out = append(out, InteractiveElementDTO{
			ID:          e.ID,
			CategoryID:  e.CategoryID,
			Title:       e.Title,
			ElementType: e.ElementType,
			Description: e.Description,
			XPReward:    e.XPReward.Int(),
			Completed:   e.Completed,
		})
	}
	return out, nil
}

// DailyChallenges возвращает задания с сегодняшнего дня на неделю вперёд.
func (h *CatalogQueryHandler) DailyChallenges(ctx context.Context, userID int64) ([]DailyChallengeDTO, error) {
	today := timeutil.Today(h.clock)

	chs, err := h.repo.DailyChallenges(ctx, today, catalog.ChallengeWindowDays, userID)
	if err != nil {
		return nil, err
	}

	out := make([]DailyChallengeDTO, 0, len(chs))
	for _, c := range chs {
		out = append(out, newDailyChallengeDTO(c, today))
	}
	return out, nil
}

func newCategoryDTO(c catalog.Category) CategoryDTO {
	return CategoryDTO{
		ID:          c.ID,
		Name:        c.Name,
		Icon:        c.Icon,
		Color:       c.Color,
		Description: c.Description,
	}
}

func newModuleDTO(m catalog.Module) ModuleDTO {
	return ModuleDTO{
		ID:              m.ID,
		CategoryID:      m.CategoryID,
		CategoryName:    m.CategoryName,
		Title:           m.Title,
		Content:         m.Content,
		DurationMinutes: m.DurationMinutes,
		XPReward:        m.XPReward.Int(),
		ModuleOrder:     m.ModuleOrder,
		Completed:       m.Completed,
	}
}

func newDailyChallengeDTO(c catalog.DailyChallenge, today time.Time) DailyChallengeDTO {
	return DailyChallengeDTO{
		ID:            c.ID,
		Date:          timeutil.FormatDate(c.Date),
		Status:        string(c.StatusOn(today)),
		CategoryID:    c.CategoryID,
		CategoryName:  c.CategoryName,
		CategoryIcon:  c.CategoryIcon,
		Title:         c.Title,
		Description:   c.Description,
		ChallengeType: c.ChallengeType,
		TargetValue:   c.TargetValue,
		XPReward:      c.XPReward.Int(),
		Completed:     c.Completed,
	}
}
