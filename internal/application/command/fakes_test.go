package command

import (
	"context"
	"sync"
	"time"

	progressapp "github.com/cyberguard/cyberguard-training/internal/application/progression"
	"github.com/cyberguard/cyberguard-training/internal/domain/progression"
	"github.com/cyberguard/cyberguard-training/internal/domain/shared"
	"github.com/cyberguard/cyberguard-training/internal/domain/user"
)

type fakeRecorder struct {
	requests []progressapp.Request
	outcome  *progressapp.Outcome
	err      error
}

func (r *fakeRecorder) Record(_ context.Context, req progressapp.Request) (*progressapp.Outcome, error) {
	r.requests = append(r.requests, req)
	if r.err != nil {
		return nil, r.err
	}
	out := *r.outcome
	out.Kind = req.Kind
	out.ItemID = req.ItemID
	return &out, nil
}

type fakeResolver map[int64]progression.ActivityItem

func (f fakeResolver) Resolve(_ context.Context, kind progression.ActivityKind, id int64) (progression.ActivityItem, error) {
	item, ok := f[id]
	if !ok || item.Kind != kind {
		return progression.ActivityItem{}, shared.ErrModuleNotFound
	}
	return item, nil
}

type fakeUsers struct {
	mu     sync.Mutex
	byName map[shared.Username]*user.User
	nextID int64

	// raceOnCreate makes the next Create lose to a concurrent registration.
	raceOnCreate bool
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{byName: make(map[shared.Username]*user.User), nextID: 1}
}

func (f *fakeUsers) add(name string, hash *string) *user.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := &user.User{ID: f.nextID, Username: shared.Username(name), PasswordHash: hash, Level: 1}
	f.nextID++
	f.byName[u.Username] = u
	return u
}

func (f *fakeUsers) GetByID(_ context.Context, id int64) (*user.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.byName {
		if u.ID == id {
			cp := *u
			return &cp, nil
		}
	}
	return nil, shared.ErrUserNotFound
}

func (f *fakeUsers) GetByUsername(_ context.Context, name shared.Username) (*user.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byName[name]
	if !ok {
		return nil, shared.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (f *fakeUsers) Create(_ context.Context, u *user.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.raceOnCreate {
		f.raceOnCreate = false
		f.byName[u.Username] = &user.User{ID: f.nextID, Username: u.Username, Level: shared.MinLevel}
		f.nextID++
	}
	if _, ok := f.byName[u.Username]; ok {
		return shared.WrapError("user", "Create", shared.ErrAlreadyExists, "Username already taken", nil)
	}
	u.ID = f.nextID
	f.nextID++
	u.Level = shared.MinLevel
	cp := *u
	f.byName[u.Username] = &cp
	return nil
}

func (f *fakeUsers) SetPasswordHash(_ context.Context, id int64, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.byName {
		if u.ID == id {
			if u.HasPassword() {
				return shared.ErrInvalidCredentials
			}
			u.PasswordHash = &hash
			return nil
		}
	}
	return shared.ErrUserNotFound
}

type fakeSessions struct {
	sessions map[string]user.Session
	ttls     map[string]time.Duration
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{sessions: make(map[string]user.Session), ttls: make(map[string]time.Duration)}
}

func (f *fakeSessions) Create(_ context.Context, s user.Session, ttl time.Duration) error {
	f.sessions[s.Token] = s
	f.ttls[s.Token] = ttl
	return nil
}

func (f *fakeSessions) Get(_ context.Context, token string) (*user.Session, error) {
	s, ok := f.sessions[token]
	if !ok {
		return nil, shared.ErrNotLoggedIn
	}
	return &s, nil
}

func (f *fakeSessions) Delete(_ context.Context, token string) error {
	delete(f.sessions, token)
	return nil
}

type fakePrefs struct {
	saved map[int64]map[string]string
	err   error
}

func (f *fakePrefs) Save(_ context.Context, userID int64, prefs map[string]string) error {
	if f.err != nil {
		return f.err
	}
	if f.saved == nil {
		f.saved = make(map[int64]map[string]string)
	}
	if f.saved[userID] == nil {
		f.saved[userID] = make(map[string]string)
	}
	for k, v := range prefs {
		f.saved[userID][k] = v
	}
	return nil
}

func (f *fakePrefs) Get(_ context.Context, userID int64) (map[string]string, error) {
	return f.saved[userID], nil
}

type fakePushSubs struct {
	saved []user.PushSubscription
}

func (f *fakePushSubs) Save(_ context.Context, sub *user.PushSubscription) error {
	f.saved = append(f.saved, *sub)
	return nil
}

type fakeQuizSessions struct {
	saved []user.QuizSession
}

func (f *fakeQuizSessions) Save(_ context.Context, s *user.QuizSession) error {
	s.ID = int64(len(f.saved) + 1)
	f.saved = append(f.saved, *s)
	return nil
}

type fakePublisher struct {
	events []shared.Event
}

func (p *fakePublisher) Publish(e shared.Event) error {
	p.events = append(p.events, e)
	return nil
}

func (p *fakePublisher) types() []shared.EventType {
	out := make([]shared.EventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.EventType())
	}
	return out
}
