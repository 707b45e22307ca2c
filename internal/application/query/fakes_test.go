package query

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/cyberguard/cyberguard-training/internal/domain/catalog"
	"github.com/cyberguard/cyberguard-training/internal/domain/progression"
	"github.com/cyberguard/cyberguard-training/internal/domain/shared"
	"github.com/cyberguard/cyberguard-training/internal/domain/user"
	"github.com/cyberguard/cyberguard-training/pkg/timeutil"
)

type fakeCatalog struct {
	categories   []catalog.Category
	modules      []catalog.Module
	scenarios    map[int64]*catalog.Scenario
	questions    []catalog.Question
	elements     []catalog.InteractiveElement
	challenges   []catalog.DailyChallenge
	lastFilter   catalog.QuestionFilter
	challengeErr error
}

func (f *fakeCatalog) Categories(context.Context) ([]catalog.Category, error) {
	return f.categories, nil
}

func (f *fakeCatalog) Modules(_ context.Context, categoryID, _ int64) ([]catalog.Module, error) {
	var out []catalog.Module
	for _, m := range f.modules {
		if m.CategoryID == categoryID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeCatalog) Module(_ context.Context, id int64) (*catalog.Module, error) {
	for _, m := range f.modules {
		if m.ID == id {
			cp := m
			return &cp, nil
		}
	}
	return nil, shared.ErrModuleNotFound
}

func (f *fakeCatalog) Scenario(_ context.Context, id int64) (*catalog.Scenario, error) {
	s, ok := f.scenarios[id]
	if !ok {
		return nil, shared.ErrScenarioNotFound
	}
	return s, nil
}

func (f *fakeCatalog) Questions(_ context.Context, filter catalog.QuestionFilter) ([]catalog.Question, error) {
	f.lastFilter = filter
	var out []catalog.Question
	for _, q := range f.questions {
		if filter.CategoryID != 0 && q.CategoryID != filter.CategoryID {
			continue
		}
		if filter.Difficulty != "" && q.Difficulty != filter.Difficulty {
			continue
		}
		out = append(out, q)
	}
	return out, nil
}

func (f *fakeCatalog) InteractiveElements(context.Context, int64) ([]catalog.InteractiveElement, error) {
	return f.elements, nil
}

func (f *fakeCatalog) DailyChallenges(_ context.Context, from time.Time, days int, _ int64) ([]catalog.DailyChallenge, error) {
	if f.challengeErr != nil {
		return nil, f.challengeErr
	}
	to := timeutil.AddDays(from, days-1)
	var out []catalog.DailyChallenge
	for _, c := range f.challenges {
		if !c.Date.Before(from) && !c.Date.After(to) {
			out = append(out, c)
		}
	}
	return out, nil
}

type fakeUsers map[int64]*user.User

func (f fakeUsers) GetByID(_ context.Context, id int64) (*user.User, error) {
	u, ok := f[id]
	if !ok {
		return nil, shared.ErrUserNotFound
	}
	return u, nil
}

func (f fakeUsers) GetByUsername(context.Context, shared.Username) (*user.User, error) {
	return nil, shared.ErrUserNotFound
}

func (f fakeUsers) Create(context.Context, *user.User) error { return errors.New("not supported") }

func (f fakeUsers) SetPasswordHash(context.Context, int64, string) error {
	return errors.New("not supported")
}

type fakeProgress []progression.CategoryProgress

func (f fakeProgress) CategoryProgress(context.Context, int64) ([]progression.CategoryProgress, error) {
	return f, nil
}

type fakeRewards struct {
	catalog  []progression.Reward
	unlocked []progression.Reward
}

func (f fakeRewards) Catalog(context.Context) ([]progression.Reward, error) { return f.catalog, nil }

func (f fakeRewards) Unlocked(context.Context, int64) ([]progression.Reward, error) {
	return f.unlocked, nil
}

type fakeStreaks struct{ streak progression.Streak }

func (f fakeStreaks) Get(context.Context, int64) (*progression.Streak, error) {
	s := f.streak
	return &s, nil
}

type fakeActivity []progression.ActivityLogEntry

func (f fakeActivity) Recent(_ context.Context, _ int64, limit int) ([]progression.ActivityLogEntry, error) {
	if len(f) > limit {
		return f[:limit], nil
	}
	return f, nil
}

type fakePrefs map[int64]map[string]string

func (f fakePrefs) Save(context.Context, int64, map[string]string) error { return nil }

func (f fakePrefs) Get(_ context.Context, userID int64) (map[string]string, error) {
	return f[userID], nil
}

// memProfileCache keeps JSON, like the Redis cache does.
type memProfileCache struct {
	data    map[int64][]byte
	gets    int
	readErr error
}

func newMemProfileCache() *memProfileCache {
	return &memProfileCache{data: make(map[int64][]byte)}
}

func (c *memProfileCache) Get(_ context.Context, userID int64, dest interface{}) error {
	c.gets++
	if c.readErr != nil {
		return c.readErr
	}
	b, ok := c.data[userID]
	if !ok {
		return shared.ErrNotFound
	}
	return json.Unmarshal(b, dest)
}

func (c *memProfileCache) Set(_ context.Context, userID int64, profile interface{}) error {
	b, err := json.Marshal(profile)
	if err != nil {
		return err
	}
	c.data[userID] = b
	return nil
}

func (c *memProfileCache) Invalidate(_ context.Context, userID int64) error {
	delete(c.data, userID)
	return nil
}
