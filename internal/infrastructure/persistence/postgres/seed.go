package postgres

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jackc/pgx/v5"
	"gopkg.in/yaml.v3"

	"github.com/cyberguard/cyberguard-training/internal/domain/progression"
	"github.com/cyberguard/cyberguard-training/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// SEED CATALOG
// ══════════════════════════════════════════════════════════════════════════════

//go:embed seed/catalog.yaml
var catalogYAML []byte

// SeedCatalog is the reference data applied after migrations.
type SeedCatalog struct {
	Categories []struct {
		Name        string `yaml:"name"`
		Icon        string `yaml:"icon"`
		Color       string `yaml:"color"`
		Description string `yaml:"description"`
	} `yaml:"categories"`

	Modules []struct {
		Category        string `yaml:"category"`
		Title           string `yaml:"title"`
		Content         string `yaml:"content"`
		Order           int    `yaml:"order"`
		DurationMinutes int    `yaml:"duration_minutes"`
		XPReward        int    `yaml:"xp_reward"`
	} `yaml:"modules"`

	Questions []struct {
		Category   string `yaml:"category"`
		Question   string `yaml:"question"`
		Answer     string `yaml:"answer"`
		Difficulty string `yaml:"difficulty"`
		XPReward   int    `yaml:"xp_reward"`
	} `yaml:"questions"`

	Scenarios []struct {
		Category    string `yaml:"category"`
		Title       string `yaml:"title"`
		Description string `yaml:"description"`
		Difficulty  string `yaml:"difficulty"`
		XPReward    int    `yaml:"xp_reward"`
		Steps       []struct {
			Number  int    `yaml:"number"`
			Story   string `yaml:"story"`
			Choices []struct {
				Text     string `yaml:"text"`
				Correct  bool   `yaml:"correct"`
				Feedback string `yaml:"feedback"`
				NextStep int    `yaml:"next_step"`
			} `yaml:"choices"`
		} `yaml:"steps"`
	} `yaml:"scenarios"`

	InteractiveElements []struct {
		Category    string `yaml:"category"`
		Title       string `yaml:"title"`
		Type        string `yaml:"type"`
		Description string `yaml:"description"`
		XPReward    int    `yaml:"xp_reward"`
	} `yaml:"interactive_elements"`

	Rewards []struct {
		Key              string `yaml:"key"`
		Name             string `yaml:"name"`
		Description      string `yaml:"description"`
		Icon             string `yaml:"icon"`
		RewardType       string `yaml:"reward_type"`
		RequirementType  string `yaml:"requirement_type"`
		RequirementValue int    `yaml:"requirement_value"`
	} `yaml:"rewards"`

	ChallengeTemplates []struct {
		Key           string `yaml:"key"`
		Category      string `yaml:"category"`
		Title         string `yaml:"title"`
		Description   string `yaml:"description"`
		ChallengeType string `yaml:"challenge_type"`
		TargetValue   int    `yaml:"target_value"`
		XPReward      int    `yaml:"xp_reward"`
	} `yaml:"challenge_templates"`
}

// LoadSeedCatalog parses and validates the embedded catalog.
func LoadSeedCatalog() (*SeedCatalog, error) {
	return ParseSeedCatalog(catalogYAML)
}

// ParseSeedCatalog parses and validates a catalog document.
func ParseSeedCatalog(data []byte) (*SeedCatalog, error) {
	var c SeedCatalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse seed catalog: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks references between sections and reward dimensions.
func (c *SeedCatalog) Validate() error {
	categories := make(map[string]bool, len(c.Categories))
	for _, cat := range c.Categories {
		categories[cat.Name] = true
	}

	check := func(section, title, category string) error {
		if !categories[category] {
			return fmt.Errorf("seed catalog: %s %q references unknown category %q", section, title, category)
		}
		return nil
	}

	for _, m := range c.Modules {
		if err := check("module", m.Title, m.Category); err != nil {
			return err
		}
	}
	for _, q := range c.Questions {
		if err := check("question", q.Question, q.Category); err != nil {
			return err
		}
		if !shared.Difficulty(q.Difficulty).IsValid() {
			return fmt.Errorf("seed catalog: question %q has invalid difficulty %q", q.Question, q.Difficulty)
		}
	}
	for _, s := range c.Scenarios {
		if err := check("scenario", s.Title, s.Category); err != nil {
			return err
		}
		steps := make(map[int]bool, len(s.Steps))
		for _, st := range s.Steps {
			steps[st.Number] = true
		}
		for _, st := range s.Steps {
			for _, ch := range st.Choices {
				if ch.NextStep != 0 && !steps[ch.NextStep] {
					return fmt.Errorf("seed catalog: scenario %q step %d points to missing step %d", s.Title, st.Number, ch.NextStep)
				}
			}
		}
	}
	for _, e := range c.InteractiveElements {
		if err := check("interactive element", e.Title, e.Category); err != nil {
			return err
		}
	}
	for _, r := range c.Rewards {
		if !progression.RequirementType(r.RequirementType).IsValid() {
			return fmt.Errorf("seed catalog: reward %q has unknown requirement type %q", r.Key, r.RequirementType)
		}
	}
	for _, t := range c.ChallengeTemplates {
		if err := check("challenge template", t.Key, t.Category); err != nil {
			return err
		}
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// SEEDER
// ══════════════════════════════════════════════════════════════════════════════

// Seeder applies a SeedCatalog in one transaction.
type Seeder struct {
	conn *Connection
}

// NewSeeder creates a new Seeder.
func NewSeeder(conn *Connection) *Seeder {
	return &Seeder{conn: conn}
}

// Apply upserts every catalog entry by its natural key.
func (s *Seeder) Apply(ctx context.Context, c *SeedCatalog) error {
	return s.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		categoryIDs := make(map[string]int64, len(c.Categories))
		for _, cat := range c.Categories {
			var id int64
			err := tx.QueryRow(ctx, `
				INSERT INTO categories (name, icon, color, description)
				VALUES ($1, $2, $3, $4)
				ON CONFLICT (name) DO UPDATE SET
					icon = EXCLUDED.icon, color = EXCLUDED.color, description = EXCLUDED.description
				RETURNING id
			`, cat.Name, cat.Icon, cat.Color, cat.Description).Scan(&id)
			if err != nil {
				return fmt.Errorf("seed category %q: %w", cat.Name, err)
			}
			categoryIDs[cat.Name] = id
		}

		for _, m := range c.Modules {
			_, err := tx.Exec(ctx, `
				INSERT INTO modules (category_id, title, content, duration_minutes, xp_reward, module_order)
				VALUES ($1, $2, $3, $4, $5, $6)
				ON CONFLICT (title) DO UPDATE SET
					category_id = EXCLUDED.category_id, content = EXCLUDED.content,
					duration_minutes = EXCLUDED.duration_minutes, xp_reward = EXCLUDED.xp_reward,
					module_order = EXCLUDED.module_order
			`, categoryIDs[m.Category], m.Title, m.Content, m.DurationMinutes, m.XPReward, m.Order)
			if err != nil {
				return fmt.Errorf("seed module %q: %w", m.Title, err)
			}
		}

		for _, q := range c.Questions {
			_, err := tx.Exec(ctx, `
				INSERT INTO questions (category_id, question, answer, difficulty, xp_reward)
				VALUES ($1, $2, $3, $4, $5)
				ON CONFLICT (question) DO UPDATE SET
					category_id = EXCLUDED.category_id, answer = EXCLUDED.answer,
					difficulty = EXCLUDED.difficulty, xp_reward = EXCLUDED.xp_reward
			`, categoryIDs[q.Category], q.Question, q.Answer, q.Difficulty, q.XPReward)
			if err != nil {
				return fmt.Errorf("seed question %q: %w", q.Question, err)
			}
		}

		for _, sc := range c.Scenarios {
			var scenarioID int64
			err := tx.QueryRow(ctx, `
				INSERT INTO scenarios (category_id, title, description, difficulty, xp_reward)
				VALUES ($1, $2, $3, $4, $5)
				ON CONFLICT (title) DO UPDATE SET
					category_id = EXCLUDED.category_id, description = EXCLUDED.description,
					difficulty = EXCLUDED.difficulty, xp_reward = EXCLUDED.xp_reward
				RETURNING id
			`, categoryIDs[sc.Category], sc.Title, sc.Description, sc.Difficulty, sc.XPReward).Scan(&scenarioID)
			if err != nil {
				return fmt.Errorf("seed scenario %q: %w", sc.Title, err)
			}

			stepIDs := make(map[int]int64, len(sc.Steps))
			for _, st := range sc.Steps {
				var stepID int64
				err := tx.QueryRow(ctx, `
					INSERT INTO scenario_steps (scenario_id, step_number, story_text)
					VALUES ($1, $2, $3)
					ON CONFLICT (scenario_id, step_number) DO UPDATE SET story_text = EXCLUDED.story_text
					RETURNING id
				`, scenarioID, st.Number, st.Story).Scan(&stepID)
				if err != nil {
					return fmt.Errorf("seed scenario %q step %d: %w", sc.Title, st.Number, err)
				}
				stepIDs[st.Number] = stepID
			}

			for _, st := range sc.Steps {
				for _, ch := range st.Choices {
					var next *int64
					if id, ok := stepIDs[ch.NextStep]; ok {
						next = &id
					}
					_, err := tx.Exec(ctx, `
						INSERT INTO scenario_choices (step_id, choice_text, is_correct, feedback, next_step_id)
						SELECT $1, $2, $3, $4, $5
						WHERE NOT EXISTS (
							SELECT 1 FROM scenario_choices WHERE step_id = $1 AND choice_text = $2
						)
					`, stepIDs[st.Number], ch.Text, ch.Correct, ch.Feedback, next)
					if err != nil {
						return fmt.Errorf("seed scenario %q choice: %w", sc.Title, err)
					}
				}
			}
		}

		for _, e := range c.InteractiveElements {
			_, err := tx.Exec(ctx, `
				INSERT INTO interactive_elements (category_id, title, element_type, description, xp_reward)
				VALUES ($1, $2, $3, $4, $5)
				ON CONFLICT (title) DO UPDATE SET
					category_id = EXCLUDED.category_id, element_type = EXCLUDED.element_type,
					description = EXCLUDED.description, xp_reward = EXCLUDED.xp_reward
			`, categoryIDs[e.Category], e.Title, e.Type, e.Description, e.XPReward)
			if err != nil {
				return fmt.Errorf("seed interactive element %q: %w", e.Title, err)
			}
		}

		for _, r := range c.Rewards {
			_, err := tx.Exec(ctx, `
				INSERT INTO rewards (key, name, description, icon, reward_type, requirement_type, requirement_value)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
				ON CONFLICT (key) DO UPDATE SET
					name = EXCLUDED.name, description = EXCLUDED.description, icon = EXCLUDED.icon,
					reward_type = EXCLUDED.reward_type, requirement_type = EXCLUDED.requirement_type,
					requirement_value = EXCLUDED.requirement_value
			`, r.Key, r.Name, r.Description, r.Icon, r.RewardType, r.RequirementType, r.RequirementValue)
			if err != nil {
				return fmt.Errorf("seed reward %q: %w", r.Key, err)
			}
		}

		for _, t := range c.ChallengeTemplates {
			_, err := tx.Exec(ctx, `
				INSERT INTO challenge_templates (key, category_id, title, description, challenge_type, target_value, xp_reward)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
				ON CONFLICT (key) DO UPDATE SET
					category_id = EXCLUDED.category_id, title = EXCLUDED.title,
					description = EXCLUDED.description, challenge_type = EXCLUDED.challenge_type,
					target_value = EXCLUDED.target_value, xp_reward = EXCLUDED.xp_reward
			`, t.Key, categoryIDs[t.Category], t.Title, t.Description, t.ChallengeType, t.TargetValue, t.XPReward)
			if err != nil {
				return fmt.Errorf("seed challenge template %q: %w", t.Key, err)
			}
		}

		return nil
	})
}
