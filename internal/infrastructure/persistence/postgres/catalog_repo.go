package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/cyberguard/cyberguard-training/internal/domain/catalog"
	"github.com/cyberguard/cyberguard-training/internal/domain/progression"
	"github.com/cyberguard/cyberguard-training/internal/domain/shared"
	"github.com/cyberguard/cyberguard-training/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// CATALOG REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// CatalogRepository implements catalog.Repository, catalog.ChallengeScheduler
// and progression.ItemResolver.
type CatalogRepository struct {
	conn *Connection
}

// NewCatalogRepository creates a new CatalogRepository.
func NewCatalogRepository(conn *Connection) *CatalogRepository {
	return &CatalogRepository{conn: conn}
}

// ─────────────────────────────────────────────────────────────────────────────
// Item resolution
// ─────────────────────────────────────────────────────────────────────────────

var resolveQueries = map[progression.ActivityKind]string{
	progression.KindModule:         `SELECT id, category_id, title, xp_reward FROM modules WHERE id = $1`,
	progression.KindQuizQuestion:   `SELECT id, category_id, question, xp_reward FROM questions WHERE id = $1`,
	progression.KindScenario:       `SELECT id, category_id, title, xp_reward FROM scenarios WHERE id = $1`,
	progression.KindInteractive:    `SELECT id, category_id, title, xp_reward FROM interactive_elements WHERE id = $1`,
	progression.KindDailyChallenge: `SELECT id, category_id, title, xp_reward, challenge_date FROM daily_challenges WHERE id = $1`,
}

var notFoundByKind = map[progression.ActivityKind]error{
	progression.KindModule:         shared.ErrModuleNotFound,
	progression.KindQuizQuestion:   shared.ErrQuestionNotFound,
	progression.KindScenario:       shared.ErrScenarioNotFound,
	progression.KindInteractive:    shared.ErrElementNotFound,
	progression.KindDailyChallenge: shared.ErrChallengeNotFound,
}

// Resolve implements progression.ItemResolver.
func (r *CatalogRepository) Resolve(ctx context.Context, kind progression.ActivityKind, itemID int64) (progression.ActivityItem, error) {
	query, ok := resolveQueries[kind]
	if !ok {
		return progression.ActivityItem{}, shared.Validation("catalog", "Resolve", "Unknown activity kind")
	}

	item := progression.ActivityItem{Kind: kind}
	var xp int
	dest := []any{&item.ID, &item.CategoryID, &item.Title, &xp}

	var date time.Time
	if kind == progression.KindDailyChallenge {
		dest = append(dest, &date)
	}

	if err := r.conn.QueryRow(ctx, query, itemID).Scan(dest...); err != nil {
		if IsNoRows(err) {
			return progression.ActivityItem{}, notFoundByKind[kind]
		}
		return progression.ActivityItem{}, fmt.Errorf("failed to resolve %s %d: %w", kind, itemID, err)
	}

	item.XPReward = shared.XP(xp)
	if kind == progression.KindDailyChallenge {
		d := timeutil.DateOf(date)
		item.AvailableOn = &d
	}
	return item, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Reads
// ─────────────────────────────────────────────────────────────────────────────

// Categories returns all categories ordered by id.
func (r *CatalogRepository) Categories(ctx context.Context) ([]catalog.Category, error) {
	rows, err := r.conn.Query(ctx, `SELECT id, name, icon, color, description FROM categories ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query categories: %w", err)
	}
	defer rows.Close()

	var result []catalog.Category
	for rows.Next() {
		var c catalog.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Icon, &c.Color, &c.Description); err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		result = append(result, c)
	}

	return result, rows.Err()
}

// Modules returns a category's modules with the user's completion flag.
func (r *CatalogRepository) Modules(ctx context.Context, categoryID, userID int64) ([]catalog.Module, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT m.id, m.category_id, c.name, m.title, m.content, m.duration_minutes,
			   m.xp_reward, m.module_order, (mc.user_id IS NOT NULL) AS completed
		FROM modules m
		JOIN categories c ON c.id = m.category_id
		LEFT JOIN module_completions mc ON mc.module_id = m.id AND mc.user_id = $2
		WHERE m.category_id = $1
		ORDER BY m.module_order, m.id
	`, categoryID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query modules: %w", err)
	}
	defer rows.Close()

	var result []catalog.Module
	for rows.Next() {
		var (
			m  catalog.Module
			xp int
		)
		if err := rows.Scan(
			&m.ID, &m.CategoryID, &m.CategoryName, &m.Title, &m.Content,
			&m.DurationMinutes, &xp, &m.ModuleOrder, &m.Completed,
		); err != nil {
			return nil, fmt.Errorf("failed to scan module: %w", err)
		}
		m.XPReward = shared.XP(xp)
		result = append(result, m)
	}

	return result, rows.Err()
}

// Module returns one module with its category name.
func (r *CatalogRepository) Module(ctx context.Context, id int64) (*catalog.Module, error) {
	var (
		m  catalog.Module
		xp int
	)
	err := r.conn.QueryRow(ctx, `
		SELECT m.id, m.category_id, c.name, m.title, m.content, m.duration_minutes,
			   m.xp_reward, m.module_order
		FROM modules m
		JOIN categories c ON c.id = m.category_id
		WHERE m.id = $1
	`, id).Scan(&m.ID, &m.CategoryID, &m.CategoryName, &m.Title, &m.Content, &m.DurationMinutes, &xp, &m.ModuleOrder)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrModuleNotFound
		}
		return nil, fmt.Errorf("failed to get module: %w", err)
	}
	m.XPReward = shared.XP(xp)
	return &m, nil
}

// Scenario returns a scenario with ordered steps and their choices.
func (r *CatalogRepository) Scenario(ctx context.Context, id int64) (*catalog.Scenario, error) {
	var (
		s          catalog.Scenario
		difficulty string
		xp         int
	)
	err := r.conn.QueryRow(ctx, `
		SELECT s.id, s.category_id, c.name, s.title, s.description, s.difficulty, s.xp_reward
		FROM scenarios s
		JOIN categories c ON c.id = s.category_id
		WHERE s.id = $1
	`, id).Scan(&s.ID, &s.CategoryID, &s.CategoryName, &s.Title, &s.Description, &difficulty, &xp)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrScenarioNotFound
		}
		return nil, fmt.Errorf("failed to get scenario: %w", err)
	}
	s.Difficulty = shared.Difficulty(difficulty)
	s.XPReward = shared.XP(xp)

	rows, err := r.conn.Query(ctx, `
		SELECT st.id, st.step_number, st.story_text,
			   ch.id, ch.choice_text, ch.is_correct, ch.feedback, ch.next_step_id
		FROM scenario_steps st
		LEFT JOIN scenario_choices ch ON ch.step_id = st.id
		WHERE st.scenario_id = $1
		ORDER BY st.step_number, ch.id
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query scenario steps: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			step     catalog.ScenarioStep
			choiceID *int64
			text     *string
			correct  *bool
			feedback *string
			next     *int64
		)
		if err := rows.Scan(&step.ID, &step.StepNumber, &step.StoryText, &choiceID, &text, &correct, &feedback, &next); err != nil {
			return nil, fmt.Errorf("failed to scan scenario step: %w", err)
		}

		if n := len(s.Steps); n == 0 || s.Steps[n-1].ID != step.ID {
			s.Steps = append(s.Steps, step)
		}
		if choiceID == nil {
			continue
		}

		last := &s.Steps[len(s.Steps)-1]
		last.Choices = append(last.Choices, catalog.ScenarioChoice{
			ID:         *choiceID,
			ChoiceText: deref(text),
			IsCorrect:  correct != nil && *correct,
			Feedback:   deref(feedback),
			NextStepID: next,
		})
	}

	return &s, rows.Err()
}

// Questions returns a random sample of questions matching filter.
func (r *CatalogRepository) Questions(ctx context.Context, filter catalog.QuestionFilter) ([]catalog.Question, error) {
	filter = filter.Normalize()

	difficulty := string(filter.Difficulty)
	if filter.Difficulty == shared.DifficultyMixed {
		difficulty = ""
	}

	rows, err := r.conn.Query(ctx, `
		SELECT id, category_id, question, answer, difficulty, xp_reward
		FROM questions
		WHERE ($1 = 0 OR category_id = $1)
		  AND ($2 = '' OR difficulty = $2)
		ORDER BY RANDOM()
		LIMIT $3
	`, filter.CategoryID, difficulty, filter.Limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query questions: %w", err)
	}
	defer rows.Close()

	var result []catalog.Question
	for rows.Next() {
		var (
			q    catalog.Question
			diff string
			xp   int
		)
		if err := rows.Scan(&q.ID, &q.CategoryID, &q.Question, &q.Answer, &diff, &xp); err != nil {
			return nil, fmt.Errorf("failed to scan question: %w", err)
		}
		q.Difficulty = shared.Difficulty(diff)
		q.XPReward = shared.XP(xp)
		result = append(result, q)
	}

	return result, rows.Err()
}

// InteractiveElements returns all elements with the user's completion flag.
func (r *CatalogRepository) InteractiveElements(ctx context.Context, userID int64) ([]catalog.InteractiveElement, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT e.id, e.category_id, e.title, e.element_type, e.description, e.xp_reward,
			   (ic.user_id IS NOT NULL) AS completed
		FROM interactive_elements e
		LEFT JOIN interactive_completions ic ON ic.element_id = e.id AND ic.user_id = $1
		ORDER BY e.id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query interactive elements: %w", err)
	}
	defer rows.Close()

	var result []catalog.InteractiveElement
	for rows.Next() {
		var (
			e  catalog.InteractiveElement
			xp int
		)
		if err := rows.Scan(&e.ID, &e.CategoryID, &e.Title, &e.ElementType, &e.Description, &xp, &e.Completed); err != nil {
			return nil, fmt.Errorf("failed to scan interactive element: %w", err)
		}
		e.XPReward = shared.XP(xp)
		result = append(result, e)
	}

	return result, rows.Err()
}

// DailyChallenges returns challenges dated [from, from+days).
func (r *CatalogRepository) DailyChallenges(ctx context.Context, from time.Time, days int, userID int64) ([]catalog.DailyChallenge, error) {
	from = timeutil.DateOf(from)
	to := timeutil.AddDays(from, days-1)

	rows, err := r.conn.Query(ctx, `
		SELECT dc.id, dc.challenge_date, dc.category_id, c.name, c.icon, dc.title,
			   dc.description, dc.challenge_type, dc.target_value, dc.xp_reward,
			   (cc.user_id IS NOT NULL) AS completed
		FROM daily_challenges dc
		JOIN categories c ON c.id = dc.category_id
		LEFT JOIN challenge_completions cc ON cc.challenge_id = dc.id AND cc.user_id = $3
		WHERE dc.challenge_date BETWEEN $1::date AND $2::date
		ORDER BY dc.challenge_date
		LIMIT $4
	`, from, to, userID, days)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily challenges: %w", err)
	}
	defer rows.Close()

	var result []catalog.DailyChallenge
	for rows.Next() {
		var (
			c  catalog.DailyChallenge
			xp int
		)
		if err := rows.Scan(
			&c.ID, &c.Date, &c.CategoryID, &c.CategoryName, &c.CategoryIcon, &c.Title,
			&c.Description, &c.ChallengeType, &c.TargetValue, &xp, &c.Completed,
		); err != nil {
			return nil, fmt.Errorf("failed to scan daily challenge: %w", err)
		}
		c.Date = timeutil.DateOf(c.Date)
		c.XPReward = shared.XP(xp)
		result = append(result, c)
	}

	return result, rows.Err()
}

// ─────────────────────────────────────────────────────────────────────────────
// Challenge scheduling
// ─────────────────────────────────────────────────────────────────────────────

// Templates returns challenge templates ordered by key.
func (r *CatalogRepository) Templates(ctx context.Context) ([]catalog.ChallengeTemplate, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT key, category_id, title, description, challenge_type, target_value, xp_reward
		FROM challenge_templates
		ORDER BY key
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query challenge templates: %w", err)
	}
	defer rows.Close()

	var result []catalog.ChallengeTemplate
	for rows.Next() {
		var (
			t  catalog.ChallengeTemplate
			xp int
		)
		if err := rows.Scan(&t.Key, &t.CategoryID, &t.Title, &t.Description, &t.ChallengeType, &t.TargetValue, &xp); err != nil {
			return nil, fmt.Errorf("failed to scan challenge template: %w", err)
		}
		t.XPReward = shared.XP(xp)
		result = append(result, t)
	}

	return result, rows.Err()
}

// ScheduledDates returns dates in [from, to] that already have a challenge.
func (r *CatalogRepository) ScheduledDates(ctx context.Context, from, to time.Time) ([]time.Time, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT challenge_date FROM daily_challenges
		WHERE challenge_date BETWEEN $1::date AND $2::date
		ORDER BY challenge_date
	`, timeutil.DateOf(from), timeutil.DateOf(to))
	if err != nil {
		return nil, fmt.Errorf("failed to query scheduled dates: %w", err)
	}
	defer rows.Close()

	var result []time.Time
	for rows.Next() {
		var d time.Time
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("failed to scan scheduled date: %w", err)
		}
		result = append(result, timeutil.DateOf(d))
	}

	return result, rows.Err()
}

// Schedule creates the challenge for date. UNIQUE(challenge_date) makes a
// second writer a no-op.
func (r *CatalogRepository) Schedule(ctx context.Context, date time.Time, tpl catalog.ChallengeTemplate) (bool, error) {
	tag, err := r.conn.Exec(ctx, `
		INSERT INTO daily_challenges (
			challenge_date, category_id, title, description, challenge_type,
			target_value, xp_reward, template_key
		) VALUES ($1::date, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (challenge_date) DO NOTHING
	`, timeutil.DateOf(date), tpl.CategoryID, tpl.Title, tpl.Description, tpl.ChallengeType,
		tpl.TargetValue, tpl.XPReward.Int(), tpl.Key)
	if err != nil {
		return false, fmt.Errorf("failed to schedule challenge: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
