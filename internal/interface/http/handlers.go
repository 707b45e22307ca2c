package http

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cyberguard/cyberguard-training/internal/application/command"
	"github.com/cyberguard/cyberguard-training/internal/application/query"
	"github.com/cyberguard/cyberguard-training/internal/domain/shared"
	"github.com/cyberguard/cyberguard-training/internal/interface/http/handlers"
	"github.com/cyberguard/cyberguard-training/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST BODIES
// Поля совпадают с JSON, который отправляет браузерный клиент.
// ══════════════════════════════════════════════════════════════════════════════

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type completeModuleRequest struct {
	ModuleID   int64 `json:"module_id"`
	CategoryID int64 `json:"category_id"`
}

type quizProgressRequest struct {
	QuestionID int64    `json:"question_id"`
	IsCorrect  flagBool `json:"is_correct"`
}

// flagBool принимает и true/false, и 0/1: квиз отправляет ответ числом.
type flagBool bool

// UnmarshalJSON implements json.Unmarshaler.
func (b *flagBool) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case "true", "1":
		*b = true
	case "false", "0", "null":
		*b = false
	default:
		return fmt.Errorf("invalid boolean value %s", data)
	}
	return nil
}

type completeScenarioRequest struct {
	ScenarioID int64 `json:"scenario_id"`
	Score      int   `json:"score"`
}

type completeInteractiveRequest struct {
	ElementID      int64 `json:"element_id"`
	XPEarned       *int  `json:"xp_earned"`
	Score          int   `json:"score"`
	CompletionTime int   `json:"completion_time"`
}

type quizSessionRequest struct {
	Correct    int    `json:"correct"`
	Incorrect  int    `json:"incorrect"`
	TotalXP    int    `json:"total_xp"`
	Category   string `json:"category"`
	Difficulty string `json:"difficulty"`
}

type pushSubscriptionRequest struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

// ══════════════════════════════════════════════════════════════════════════════
// SESSION
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleLogin(c *gin.Context) {
	var req loginRequest
	if !s.bind(c, &req) {
		return
	}

	result, err := s.deps.Login.Handle(c.Request.Context(), command.LoginCommand{
		Username: req.Username,
		Password: req.Password,
	})
	if err != nil {
		s.respondError(c, err)
		return
	}

	maxAge := int(time.Until(result.ExpiresAt).Seconds())
	if maxAge < 0 {
		maxAge = 0
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(s.config.SessionCookie, result.Token, maxAge, "/", "", s.config.SecureCookie, true)
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleLogout(c *gin.Context) {
	if err := s.deps.Logout.Handle(c.Request.Context(), command.LogoutCommand{Token: handlers.SessionToken(c)}); err != nil {
		s.respondError(c, err)
		return
	}

	c.SetCookie(s.config.SessionCookie, "", -1, "/", "", s.config.SecureCookie, true)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// ══════════════════════════════════════════════════════════════════════════════
// CATALOG
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleCategories(c *gin.Context) {
	categories, err := s.deps.Catalog.Categories(c.Request.Context())
	s.respond(c, categories, err)
}

func (s *Server) handleModules(c *gin.Context) {
	categoryID, ok := s.queryID(c, "category_id", "Missing category_id")
	if !ok {
		return
	}
	modules, err := s.deps.Catalog.Modules(c.Request.Context(), categoryID, handlers.CurrentUserID(c))
	s.respond(c, modules, err)
}

func (s *Server) handleModule(c *gin.Context) {
	id, ok := s.pathID(c)
	if !ok {
		return
	}
	module, err := s.deps.Catalog.Module(c.Request.Context(), id)
	s.respond(c, module, err)
}

func (s *Server) handleScenario(c *gin.Context) {
	id, ok := s.pathID(c)
	if !ok {
		return
	}
	scenario, err := s.deps.Catalog.Scenario(c.Request.Context(), id)
	s.respond(c, scenario, err)
}

func (s *Server) handleQuestions(c *gin.Context) {
	q := query.QuestionsQuery{Difficulty: c.Query("difficulty")}
	if raw := c.Query("category"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			s.abort(c, http.StatusBadRequest, "Invalid category")
			return
		}
		q.CategoryID = id
	}

	questions, err := s.deps.Catalog.Questions(c.Request.Context(), q)
	s.respond(c, questions, err)
}

func (s *Server) handleInteractive(c *gin.Context) {
	elements, err := s.deps.Catalog.InteractiveElements(c.Request.Context(), handlers.CurrentUserID(c))
	s.respond(c, elements, err)
}

func (s *Server) handleDailyChallenges(c *gin.Context) {
	challenges, err := s.deps.Catalog.DailyChallenges(c.Request.Context(), handlers.CurrentUserID(c))
	s.respond(c, challenges, err)
}

// ══════════════════════════════════════════════════════════════════════════════
// COMPLETIONS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleCompleteModule(c *gin.Context) {
	var req completeModuleRequest
	if !s.bind(c, &req) {
		return
	}
	result, err := s.deps.Complete.CompleteModule(c.Request.Context(), command.CompleteModuleCommand{
		UserID:        handlers.CurrentUserID(c),
		ModuleID:      req.ModuleID,
		CategoryID:    req.CategoryID,
		CorrelationID: handlers.RequestIDFrom(c),
	})
	s.respond(c, result, err)
}

func (s *Server) handleQuizProgress(c *gin.Context) {
	var req quizProgressRequest
	if !s.bind(c, &req) {
		return
	}
	result, err := s.deps.Complete.AnswerQuestion(c.Request.Context(), command.AnswerQuestionCommand{
		UserID:        handlers.CurrentUserID(c),
		QuestionID:    req.QuestionID,
		IsCorrect:     bool(req.IsCorrect),
		CorrelationID: handlers.RequestIDFrom(c),
	})
	s.respond(c, result, err)
}

func (s *Server) handleCompleteScenario(c *gin.Context) {
	var req completeScenarioRequest
	if !s.bind(c, &req) {
		return
	}
	result, err := s.deps.Complete.CompleteScenario(c.Request.Context(), command.CompleteScenarioCommand{
		UserID:        handlers.CurrentUserID(c),
		ScenarioID:    req.ScenarioID,
		Score:         req.Score,
		CorrelationID: handlers.RequestIDFrom(c),
	})
	s.respond(c, result, err)
}

func (s *Server) handleCompleteInteractive(c *gin.Context) {
	var req completeInteractiveRequest
	if !s.bind(c, &req) {
		return
	}
	result, err := s.deps.Complete.CompleteInteractive(c.Request.Context(), command.CompleteInteractiveCommand{
		UserID:         handlers.CurrentUserID(c),
		ElementID:      req.ElementID,
		XPEarned:       req.XPEarned,
		Score:          req.Score,
		CompletionTime: req.CompletionTime,
		CorrelationID:  handlers.RequestIDFrom(c),
	})
	s.respond(c, result, err)
}

func (s *Server) handleCompleteDailyChallenge(c *gin.Context) {
	id, ok := s.pathID(c)
	if !ok {
		return
	}
	result, err := s.deps.Complete.CompleteDailyChallenge(c.Request.Context(), command.CompleteDailyChallengeCommand{
		UserID:        handlers.CurrentUserID(c),
		ChallengeID:   id,
		CorrelationID: handlers.RequestIDFrom(c),
	})
	s.respond(c, result, err)
}

func (s *Server) handleSaveQuizSession(c *gin.Context) {
	var req quizSessionRequest
	if !s.bind(c, &req) {
		return
	}
	result, err := s.deps.SaveQuizSession.Handle(c.Request.Context(), command.SaveQuizSessionCommand{
		UserID:     handlers.CurrentUserID(c),
		Correct:    req.Correct,
		Incorrect:  req.Incorrect,
		TotalXP:    req.TotalXP,
		Category:   req.Category,
		Difficulty: req.Difficulty,
	})
	s.respond(c, result, err)
}

// ══════════════════════════════════════════════════════════════════════════════
// PROFILE & PREFERENCES
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleProfile(c *gin.Context) {
	profile, err := s.deps.Profile.Handle(c.Request.Context(), handlers.CurrentUserID(c))
	s.respond(c, profile, err)
}

func (s *Server) handleGetPreferences(c *gin.Context) {
	prefs, err := s.deps.Preferences.Handle(c.Request.Context(), handlers.CurrentUserID(c))
	s.respond(c, prefs, err)
}

func (s *Server) handleSavePreferences(c *gin.Context) {
	var raw map[string]interface{}
	if !s.bind(c, &raw) {
		return
	}

	prefs := make(map[string]string, len(raw))
	for k, v := range raw {
		str, ok := preferenceValue(v)
		if !ok {
			s.abort(c, http.StatusBadRequest, fmt.Sprintf("Invalid value for %s", k))
			return
		}
		prefs[k] = str
	}

	result, err := s.deps.SavePreferences.Handle(c.Request.Context(), command.SavePreferencesCommand{
		UserID:      handlers.CurrentUserID(c),
		Preferences: prefs,
	})
	s.respond(c, result, err)
}

// preferenceValue flattens a JSON scalar. Objects and arrays are rejected.
func preferenceValue(v interface{}) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case bool:
		return strconv.FormatBool(t), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case nil:
		return "", true
	default:
		return "", false
	}
}

func (s *Server) handleSavePushSubscription(c *gin.Context) {
	var req pushSubscriptionRequest
	if !s.bind(c, &req) {
		return
	}
	err := s.deps.SavePushSubscription.Handle(c.Request.Context(), command.SavePushSubscriptionCommand{
		UserID:   handlers.CurrentUserID(c),
		Endpoint: req.Endpoint,
		P256dh:   req.Keys.P256dh,
		Auth:     req.Keys.Auth,
	})
	s.respond(c, gin.H{"success": true}, err)
}

// ══════════════════════════════════════════════════════════════════════════════
// RESPONSE HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// bind decodes the JSON body. An empty or malformed body answers 400.
func (s *Server) bind(c *gin.Context, dest interface{}) bool {
	if err := c.ShouldBindJSON(dest); err != nil {
		msg := "Invalid JSON"
		if errors.Is(err, io.EOF) {
			msg = "Empty request body"
		}
		s.abort(c, http.StatusBadRequest, msg)
		return false
	}
	return true
}

func (s *Server) pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		s.abort(c, http.StatusBadRequest, "Invalid id")
		return 0, false
	}
	return id, true
}

func (s *Server) queryID(c *gin.Context, key, missing string) (int64, bool) {
	raw := c.Query(key)
	if raw == "" {
		s.abort(c, http.StatusBadRequest, missing)
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		s.abort(c, http.StatusBadRequest, "Invalid "+key)
		return 0, false
	}
	return id, true
}

func (s *Server) respond(c *gin.Context, payload interface{}, err error) {
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, payload)
}

// respondError maps domain errors to status codes. Messages of unexpected
// errors are logged, never returned.
func (s *Server) respondError(c *gin.Context, err error) {
	status := statusFor(err)
	msg := shared.PublicMessage(err, http.StatusText(status))

	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			logger.RequestID(handlers.RequestIDFrom(c)),
			logger.String("path", c.FullPath()),
			logger.Err(err),
		)
		msg = shared.PublicMessage(err, "Internal server error")
	}

	_ = c.Error(err)
	s.abort(c, status, msg)
}

func statusFor(err error) int {
	switch {
	case shared.IsValidation(err):
		return http.StatusBadRequest
	case shared.IsNotFound(err):
		return http.StatusNotFound
	case shared.IsUnauthorized(err):
		return http.StatusUnauthorized
	case shared.IsAlreadyExists(err):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) abort(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}
