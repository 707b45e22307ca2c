package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/cyberguard/cyberguard-training/internal/application/command"
	progressapp "github.com/cyberguard/cyberguard-training/internal/application/progression"
	"github.com/cyberguard/cyberguard-training/internal/application/query"
	"github.com/cyberguard/cyberguard-training/internal/domain/catalog"
	"github.com/cyberguard/cyberguard-training/internal/domain/progression"
	"github.com/cyberguard/cyberguard-training/internal/domain/shared"
	"github.com/cyberguard/cyberguard-training/internal/domain/user"
	"github.com/cyberguard/cyberguard-training/internal/infrastructure/persistence/memory"
	"github.com/cyberguard/cyberguard-training/internal/interface/http/handlers"
	"github.com/cyberguard/cyberguard-training/pkg/logger"
	"github.com/cyberguard/cyberguard-training/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// FAKES
// ══════════════════════════════════════════════════════════════════════════════

type memUsers struct {
	mu     sync.Mutex
	byName map[shared.Username]*user.User
	nextID int64
}

func (m *memUsers) GetByID(_ context.Context, id int64) (*user.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byName {
		if u.ID == id {
			cp := *u
			return &cp, nil
		}
	}
	return nil, shared.ErrUserNotFound
}

func (m *memUsers) GetByUsername(_ context.Context, name shared.Username) (*user.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byName[name]
	if !ok {
		return nil, shared.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memUsers) Create(_ context.Context, u *user.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	u.ID = m.nextID
	u.Level = shared.MinLevel
	cp := *u
	m.byName[u.Username] = &cp
	return nil
}

func (m *memUsers) SetPasswordHash(_ context.Context, id int64, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byName {
		if u.ID == id {
			u.PasswordHash = &hash
			return nil
		}
	}
	return shared.ErrUserNotFound
}

type stubRecorder struct {
	err  error
	reqs []progressapp.Request
}

func (r *stubRecorder) Record(_ context.Context, req progressapp.Request) (*progressapp.Outcome, error) {
	r.reqs = append(r.reqs, req)
	if r.err != nil {
		return nil, r.err
	}
	return &progressapp.Outcome{
		Kind:          req.Kind,
		ItemID:        req.ItemID,
		XPEarned:      25,
		TotalXP:       125,
		Level:         2,
		PreviousLevel: 1,
		LevelUp:       true,
	}, nil
}

type stubItems map[int64]progression.ActivityItem

func (s stubItems) Resolve(_ context.Context, kind progression.ActivityKind, id int64) (progression.ActivityItem, error) {
	item, ok := s[id]
	if !ok || item.Kind != kind {
		return progression.ActivityItem{}, shared.ErrModuleNotFound
	}
	return item, nil
}

type stubCatalog struct {
	categories []catalog.Category
	err        error
}

func (s stubCatalog) Categories(context.Context) ([]catalog.Category, error) {
	return s.categories, s.err
}
func (s stubCatalog) Modules(context.Context, int64, int64) ([]catalog.Module, error) {
	return nil, nil
}
func (s stubCatalog) Module(context.Context, int64) (*catalog.Module, error) {
	return nil, shared.ErrModuleNotFound
}
func (s stubCatalog) Scenario(context.Context, int64) (*catalog.Scenario, error) {
	return nil, shared.ErrScenarioNotFound
}
func (s stubCatalog) Questions(context.Context, catalog.QuestionFilter) ([]catalog.Question, error) {
	return nil, nil
}
func (s stubCatalog) InteractiveElements(context.Context, int64) ([]catalog.InteractiveElement, error) {
	return nil, nil
}
func (s stubCatalog) DailyChallenges(context.Context, time.Time, int, int64) ([]catalog.DailyChallenge, error) {
	return nil, nil
}

type memPrefs struct {
	mu    sync.Mutex
	prefs map[int64]map[string]string
}

func (m *memPrefs) Save(_ context.Context, userID int64, prefs map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.prefs[userID] == nil {
		m.prefs[userID] = map[string]string{}
	}
	for k, v := range prefs {
		m.prefs[userID][k] = v
	}
	return nil
}

func (m *memPrefs) Get(_ context.Context, userID int64) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.prefs[userID], nil
}

type nopPublisher struct{}

func (nopPublisher) Publish(shared.Event) error { return nil }

type flags struct{ daily, push bool }

func (f flags) DailyChallengesEnabled() bool   { return f.daily }
func (f flags) PushSubscriptionsEnabled() bool { return f.push }

type httpObserverSpy struct {
	mu     sync.Mutex
	routes []string
}

func (o *httpObserverSpy) ObserveHTTP(method, route string, status int, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.routes = append(o.routes, method+" "+route)
}

func (o *httpObserverSpy) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("# metrics\n"))
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// HARNESS
// ══════════════════════════════════════════════════════════════════════════════

type testEnv struct {
	server   *Server
	recorder *stubRecorder
	sessions *memory.SessionStore
	observer *httpObserverSpy
}

func newTestEnv(t *testing.T, features Features) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	clock := timeutil.NewSystemClock(time.UTC)
	users := &memUsers{byName: map[shared.Username]*user.User{}}
	sessions := memory.NewSessionStore(clock)
	prefs := &memPrefs{prefs: map[int64]map[string]string{}}
	rec := &stubRecorder{}
	items := stubItems{
		10: {Kind: progression.KindModule, ID: 10, CategoryID: 1, XPReward: 25},
	}
	observer := &httpObserverSpy{}

	health := handlers.NewCompositeHealthChecker("test")
	health.AddCheck("database", func(context.Context) error { return nil })

	cfg := DefaultConfig()
	cfg.RateLimitPerMinute = 0

	srv, err := NewServer(cfg, Dependencies{
		Login:           command.NewLoginHandler(users, sessions, nopPublisher{}, clock, logger.Nop(), command.LoginConfig{SessionTTL: time.Hour, BcryptCost: bcrypt.MinCost}),
		Logout:          command.NewLogoutHandler(sessions),
		Complete:        command.NewCompleteActivityHandler(rec, items),
		SavePreferences: command.NewSavePreferencesHandler(prefs, nopPublisher{}),
		Catalog:         query.NewCatalogQueryHandler(stubCatalog{categories: []catalog.Category{{ID: 1, Name: "Phishing"}}}, clock),
		Preferences:     query.NewGetPreferencesHandler(prefs),
		Sessions:        sessions,
		Health:          health,
		Features:        features,
		Metrics:         observer,
		Logger:          logger.Nop(),
	})
	require.NoError(t, err)

	return &testEnv{server: srv, recorder: rec, sessions: sessions, observer: observer}
}

func (e *testEnv) do(method, path, body, token string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, req)
	return w
}

func (e *testEnv) login(t *testing.T, username string) string {
	t.Helper()
	w := e.do(http.MethodPost, "/api/login", `{"username":"`+username+`","password":"secret"}`, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var res command.LoginResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.NotEmpty(t, res.Token)
	return res.Token
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

// ══════════════════════════════════════════════════════════════════════════════
// TESTS
// ══════════════════════════════════════════════════════════════════════════════

func TestLogin_SetsCookieAndSession(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(http.MethodPost, "/api/login", `{"username":"alice","password":"secret"}`, "")
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "alice", body["username"])
	assert.Equal(t, float64(1), body["level"])
	assert.Equal(t, true, body["registered"])

	cookie := w.Result().Cookies()
	require.Len(t, cookie, 1)
	assert.Equal(t, "cyberguard_session", cookie[0].Name)
	assert.True(t, cookie[0].HttpOnly)
	assert.Equal(t, 1, env.sessions.Len())
}

func TestLogin_WrongPassword(t *testing.T) {
	env := newTestEnv(t, nil)
	env.login(t, "alice")

	w := env.do(http.MethodPost, "/api/login", `{"username":"alice","password":"nope"}`, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Invalid username or password", decode(t, w)["error"])
}

func TestLogin_BadBodies(t *testing.T) {
	env := newTestEnv(t, nil)

	tests := []struct {
		name string
		body string
		want string
	}{
		{"malformed", `{"username":`, "Invalid JSON"},
		{"missing username", `{"password":"x"}`, "Missing username"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(http.MethodPost, "/api/login", tt.body, "")
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, tt.want, decode(t, w)["error"])
		})
	}
}

func TestAuth_RequiresSession(t *testing.T) {
	env := newTestEnv(t, nil)

	for _, token := range []string{"", "unknown-token"} {
		w := env.do(http.MethodGet, "/api/categories", "", token)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, "Not logged in", decode(t, w)["error"])
	}
}

func TestAuth_AcceptsCookie(t *testing.T) {
	env := newTestEnv(t, nil)
	token := env.login(t, "alice")

	req := httptest.NewRequest(http.MethodGet, "/api/categories", nil)
	req.AddCookie(&http.Cookie{Name: "cyberguard_session", Value: token})
	w := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Phishing")
}

func TestLogout_InvalidatesSession(t *testing.T) {
	env := newTestEnv(t, nil)
	token := env.login(t, "alice")

	w := env.do(http.MethodPost, "/api/logout", "", token)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(http.MethodGet, "/api/categories", "", token)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCompleteModule(t *testing.T) {
	env := newTestEnv(t, nil)
	token := env.login(t, "alice")

	t.Run("success", func(t *testing.T) {
		w := env.do(http.MethodPost, "/api/modules/complete", `{"module_id":10,"category_id":1}`, token)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		body := decode(t, w)
		assert.Equal(t, true, body["success"])
		assert.Equal(t, true, body["level_up"])
		assert.Equal(t, float64(2), body["new_level"])

		require.NotEmpty(t, env.recorder.reqs)
		assert.Equal(t, int64(1), env.recorder.reqs[0].UserID)
		assert.NotEmpty(t, env.recorder.reqs[0].CorrelationID)
	})

	t.Run("missing module id", func(t *testing.T) {
		w := env.do(http.MethodPost, "/api/modules/complete", `{"category_id":1}`, token)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "Missing module_id", decode(t, w)["error"])
	})

	t.Run("unknown module", func(t *testing.T) {
		w := env.do(http.MethodPost, "/api/modules/complete", `{"module_id":99,"category_id":1}`, token)
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, "Module not found", decode(t, w)["error"])
	})

	t.Run("engine failure", func(t *testing.T) {
		env.recorder.err = errors.New("connection reset")
		defer func() { env.recorder.err = nil }()

		w := env.do(http.MethodPost, "/api/modules/complete", `{"module_id":10}`, token)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Equal(t, "Internal server error", decode(t, w)["error"])
	})
}

func TestQuizProgress_AcceptsNumericAndBooleanAnswers(t *testing.T) {
	env := newTestEnv(t, nil)
	token := env.login(t, "alice")

	tests := []struct {
		name        string
		body        string
		wantCode    int
		wantCorrect bool
	}{
		{"numeric correct", `{"question_id":5,"is_correct":1}`, http.StatusOK, true},
		{"numeric incorrect", `{"question_id":5,"is_correct":0}`, http.StatusOK, false},
		{"boolean correct", `{"question_id":5,"is_correct":true}`, http.StatusOK, true},
		{"boolean incorrect", `{"question_id":5,"is_correct":false}`, http.StatusOK, false},
		{"omitted", `{"question_id":5}`, http.StatusOK, false},
		{"out of range", `{"question_id":5,"is_correct":2}`, http.StatusBadRequest, false},
		{"string", `{"question_id":5,"is_correct":"yes"}`, http.StatusBadRequest, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env.recorder.reqs = nil

			w := env.do(http.MethodPost, "/api/quiz/progress", tt.body, token)
			require.Equal(t, tt.wantCode, w.Code, w.Body.String())
			if tt.wantCode != http.StatusOK {
				assert.Empty(t, env.recorder.reqs)
				return
			}

			require.Len(t, env.recorder.reqs, 1)
			assert.Equal(t, progression.KindQuizQuestion, env.recorder.reqs[0].Kind)
			assert.Equal(t, int64(5), env.recorder.reqs[0].ItemID)
			assert.Equal(t, tt.wantCorrect, env.recorder.reqs[0].Correct)
		})
	}
}

func TestCompleteInteractive_MissingXPIsPassedAsUnclaimed(t *testing.T) {
	env := newTestEnv(t, nil)
	token := env.login(t, "alice")

	w := env.do(http.MethodPost, "/api/interactive/complete", `{"element_id":7,"completion_time":30}`, token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	require.Len(t, env.recorder.reqs, 1)
	assert.Equal(t, progression.KindInteractive, env.recorder.reqs[0].Kind)
	assert.Nil(t, env.recorder.reqs[0].ClaimedXP)
	assert.Equal(t, 30, env.recorder.reqs[0].CompletionTime)
}

func TestCatalogRoutes(t *testing.T) {
	env := newTestEnv(t, nil)
	token := env.login(t, "alice")

	tests := []struct {
		path string
		code int
	}{
		{"/api/modules", http.StatusBadRequest},
		{"/api/modules?category_id=abc", http.StatusBadRequest},
		{"/api/modules?category_id=1", http.StatusOK},
		{"/api/modules/5", http.StatusNotFound},
		{"/api/modules/abc", http.StatusBadRequest},
		{"/api/scenarios/5", http.StatusNotFound},
		{"/api/quiz/questions?difficulty=extreme", http.StatusBadRequest},
		{"/api/quiz/questions?category=1&difficulty=easy", http.StatusOK},
		{"/api/interactive", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := env.do(http.MethodGet, tt.path, "", token)
			assert.Equal(t, tt.code, w.Code, w.Body.String())
		})
	}
}

func TestPreferences_RoundTrip(t *testing.T) {
	env := newTestEnv(t, nil)
	token := env.login(t, "alice")

	w := env.do(http.MethodPost, "/api/preferences", `{"theme":"dark","sound":true,"volume":0.5}`, token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, float64(3), decode(t, w)["saved"])

	w = env.do(http.MethodGet, "/api/preferences", "", token)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "dark", body["theme"])
	assert.Equal(t, "true", body["sound"])
	assert.Equal(t, "0.5", body["volume"])

	w = env.do(http.MethodPost, "/api/preferences", `{"theme":{"nested":1}}`, token)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(http.MethodPost, "/api/preferences", `{"Bad-Key":"x"}`, token)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestFeatureFlags_DisableRoutes(t *testing.T) {
	env := newTestEnv(t, flags{daily: false, push: false})
	token := env.login(t, "alice")

	w := env.do(http.MethodGet, "/api/daily-challenges", "", token)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Feature disabled", decode(t, w)["error"])

	w = env.do(http.MethodPost, "/api/push-subscriptions", `{}`, token)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealthMetricsAndRequestID(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(http.MethodGet, "/health", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["healthy"])
	assert.NotEmpty(t, w.Header().Get(handlers.HeaderRequestID))

	req := httptest.NewRequest(http.MethodGet, "/live", nil)
	req.Header.Set(handlers.HeaderRequestID, "req-123")
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "req-123", rec.Header().Get(handlers.HeaderRequestID))

	w = env.do(http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do(http.MethodGet, "/nope", "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	assert.Contains(t, env.observer.routes, "GET /health")
	assert.Contains(t, env.observer.routes, "GET unmatched")
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{shared.Validation("x", "y", "bad"), http.StatusBadRequest},
		{shared.ErrModuleNotFound, http.StatusNotFound},
		{shared.ErrNotLoggedIn, http.StatusUnauthorized},
		{shared.ErrAlreadyExists, http.StatusConflict},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}
