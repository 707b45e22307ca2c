// Package jobs contains the scheduled jobs of the worker process.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/cyberguard/cyberguard-training/internal/domain/catalog"
	"github.com/cyberguard/cyberguard-training/pkg/logger"
	"github.com/cyberguard/cyberguard-training/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// GENERATE DAILY CHALLENGES JOB
// ══════════════════════════════════════════════════════════════════════════════

// GenerateDailyChallengesJobName is the scheduler name of the job.
const GenerateDailyChallengesJobName = "generate_daily_challenges"

// ErrNoTemplates is returned when the catalog holds no challenge templates.
var ErrNoTemplates = errors.New("no challenge templates in catalog")

// GenerateDailyChallengesJob makes sure every day of the visible horizon
// has a challenge. The template for a date depends only on the date, so
// reruns and concurrent workers pick the same one; UNIQUE(challenge_date)
// settles any race.
type GenerateDailyChallengesJob struct {
	scheduler catalog.ChallengeScheduler
	clock     timeutil.Clock
	log       *logger.Logger
	config    GenerateDailyChallengesConfig

	lastStats atomic.Pointer[GenerateStats]
}

// GenerateDailyChallengesConfig contains configuration for the job.
type GenerateDailyChallengesConfig struct {
	// HorizonDays is how many days, starting today, must have a challenge.
	HorizonDays int

	// Timeout bounds one run.
	Timeout time.Duration
}

// DefaultGenerateDailyChallengesConfig returns sensible defaults.
func DefaultGenerateDailyChallengesConfig() GenerateDailyChallengesConfig {
	return GenerateDailyChallengesConfig{
		HorizonDays: catalog.ChallengeWindowDays,
		Timeout:     time.Minute,
	}
}

// GenerateStats describes one run.
type GenerateStats struct {
	StartedAt time.Time
	Duration  time.Duration
	Checked   int
	Created   int
	Existing  int
}

// NewGenerateDailyChallengesJob creates the job.
func NewGenerateDailyChallengesJob(
	scheduler catalog.ChallengeScheduler,
	clock timeutil.Clock,
	log *logger.Logger,
	config GenerateDailyChallengesConfig,
) *GenerateDailyChallengesJob {
	if config.HorizonDays <= 0 {
		config.HorizonDays = catalog.ChallengeWindowDays
	}
	if config.Timeout <= 0 {
		config.Timeout = time.Minute
	}
	if clock == nil {
		clock = timeutil.NewSystemClock(time.UTC)
	}
	if log == nil {
		log = logger.Nop()
	}

	return &GenerateDailyChallengesJob{
		scheduler: scheduler,
		clock:     clock,
		log:       log.Named("jobs").With(logger.String("job", GenerateDailyChallengesJobName)),
		config:    config,
	}
}

// Name implements scheduler.Job.
func (j *GenerateDailyChallengesJob) Name() string {
	return GenerateDailyChallengesJobName
}

// Description implements scheduler.Job.
func (j *GenerateDailyChallengesJob) Description() string {
	return fmt.Sprintf("Ensures a daily challenge exists for the next %d days", j.config.HorizonDays)
}

// Run implements scheduler.Job.
func (j *GenerateDailyChallengesJob) Run(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, j.config.Timeout)
	defer cancel()

	stats := &GenerateStats{StartedAt: j.clock.Now()}
	defer func() {
		stats.Duration = time.Since(stats.StartedAt)
		j.lastStats.Store(stats)
	}()

	templates, err := j.scheduler.Templates(ctx)
	if err != nil {
		return fmt.Errorf("load challenge templates: %w", err)
	}
	if len(templates) == 0 {
		return ErrNoTemplates
	}
	rotation := RotationOrder(templates)

	today := timeutil.Today(j.clock)
	last := timeutil.AddDays(today, j.config.HorizonDays-1)

	scheduled, err := j.scheduler.ScheduledDates(ctx, today, last)
	if err != nil {
		return fmt.Errorf("load scheduled dates: %w", err)
	}
	have := make(map[string]bool, len(scheduled))
	for _, d := range scheduled {
		have[timeutil.FormatDate(d)] = true
	}

	for day := today; !day.After(last); day = timeutil.AddDays(day, 1) {
		stats.Checked++
		if have[timeutil.FormatDate(day)] {
			stats.Existing++
			continue
		}

		tpl := TemplateFor(rotation, day)
		created, err := j.scheduler.Schedule(ctx, day, tpl)
		if err != nil {
			return fmt.Errorf("schedule challenge for %s: %w", timeutil.FormatDate(day), err)
		}
		if !created {
			stats.Existing++
			continue
		}

		stats.Created++
		j.log.Info("daily challenge scheduled",
			logger.String("date", timeutil.FormatDate(day)),
			logger.String("template", tpl.Key),
			logger.CategoryID(tpl.CategoryID),
		)
	}

	j.log.Info("daily challenges checked",
		logger.Int("checked", stats.Checked),
		logger.Int("created", stats.Created),
		logger.Int("existing", stats.Existing),
	)
	return nil
}

// LastStats returns the statistics of the last run, or nil.
func (j *GenerateDailyChallengesJob) LastStats() *GenerateStats {
	return j.lastStats.Load()
}

// ══════════════════════════════════════════════════════════════════════════════
// ROTATION
// ══════════════════════════════════════════════════════════════════════════════

// RotationOrder interleaves templates by category (round-robin over
// categories sorted by id, templates within a category sorted by key), so
// consecutive days cycle through categories.
func RotationOrder(templates []catalog.ChallengeTemplate) []catalog.ChallengeTemplate {
	byCategory := make(map[int64][]catalog.ChallengeTemplate)
	var categories []int64
	for _, t := range templates {
		if _, ok := byCategory[t.CategoryID]; !ok {
			categories = append(categories, t.CategoryID)
		}
		byCategory[t.CategoryID] = append(byCategory[t.CategoryID], t)
	}
	sort.Slice(categories, func(i, k int) bool { return categories[i] < categories[k] })
	for _, c := range categories {
		group := byCategory[c]
		sort.Slice(group, func(i, k int) bool { return group[i].Key < group[k].Key })
	}

	order := make([]catalog.ChallengeTemplate, 0, len(templates))
	for round := 0; len(order) < len(templates); round++ {
		for _, c := range categories {
			if group := byCategory[c]; round < len(group) {
				order = append(order, group[round])
			}
		}
	}
	return order
}

// TemplateFor picks the template of a calendar day from a rotation.
func TemplateFor(rotation []catalog.ChallengeTemplate, day time.Time) catalog.ChallengeTemplate {
	n := timeutil.DaysBetween(timeutil.Date(1970, time.January, 1), day)
	return rotation[n%len(rotation)]
}
