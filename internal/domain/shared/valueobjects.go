package shared

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// ═══════════════════════════════════════════════════════════════════════════
// XP Value Object (Experience Points)
// ═══════════════════════════════════════════════════════════════════════════

// XPPerLevel is the fixed width of every level band.
const XPPerLevel = 100

// XP represents experience points. It is only ever added to.
type XP int

// IsValid reports whether the amount is a legal grant or total.
func (x XP) IsValid() bool {
	return x >= 0
}

// Int returns the underlying int value.
func (x XP) Int() int {
	return int(x)
}

// Level maps cumulative XP to a level: floor(xp / 100) + 1.
func (x XP) Level() Level {
	if x <= 0 {
		return MinLevel
	}
	return Level(int(x)/XPPerLevel + 1)
}

// ProgressToNextLevel returns XP earned inside the current band (0-99).
func (x XP) ProgressToNextLevel() int {
	if x <= 0 {
		return 0
	}
	return int(x) % XPPerLevel
}

// NewXP creates a new XP value with validation.
func NewXP(amount int) (XP, error) {
	if amount < 0 {
		return 0, NewDomainError("shared", "NewXP", ErrNegativeValue, "XP cannot be negative")
	}
	return XP(amount), nil
}

// ═══════════════════════════════════════════════════════════════════════════
// Level Value Object
// ═══════════════════════════════════════════════════════════════════════════

// Level is a derived tier. It never decreases.
type Level int

const MinLevel Level = 1

// IsValid checks if the level is within valid range.
func (l Level) IsValid() bool {
	return l >= MinLevel
}

// Int returns the underlying int value.
func (l Level) Int() int {
	return int(l)
}

// RequiredXP returns the cumulative XP at which this level starts.
func (l Level) RequiredXP() int {
	if l <= MinLevel {
		return 0
	}
	return (int(l) - 1) * XPPerLevel
}

// NextLevelXP returns the cumulative XP threshold for reaching level l+1.
// It is a total, not the remaining delta.
func (l Level) NextLevelXP() int {
	return int(l) * XPPerLevel
}

// Title returns a display rank for the level.
func (l Level) Title() string {
	switch {
	case l < 5:
		return "Recruit"
	case l < 10:
		return "Cyber Defender"
	case l < 15:
		return "Cyber Expert"
	case l < 20:
		return "Cyber Master"
	default:
		return "Cyber Legend"
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Username
// ═══════════════════════════════════════════════════════════════════════════

// Username identifies a learner. Login auto-registers unknown names.
type Username string

var usernamePattern = regexp.MustCompile(`^[\p{L}\p{N}_.\-]+$`)

// String returns the underlying value.
func (u Username) String() string {
	return string(u)
}

// NewUsername trims and validates a username (1-100 chars, letters, digits, _ . -).
func NewUsername(raw string) (Username, error) {
	name := strings.TrimSpace(raw)
	if name == "" {
		return "", NewDomainError("user", "NewUsername", ErrEmptyValue, "Username is required")
	}
	if utf8.RuneCountInString(name) > 100 {
		return "", NewDomainError("user", "NewUsername", ErrValueOutOfRange, "Username is too long")
	}
	if !usernamePattern.MatchString(name) {
		return "", NewDomainError("user", "NewUsername", ErrInvalidInput, "Username contains invalid characters")
	}
	return Username(name), nil
}

// ═══════════════════════════════════════════════════════════════════════════
// Difficulty
// ═══════════════════════════════════════════════════════════════════════════

// Difficulty grades quiz questions and scenarios.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
	// DifficultyMixed is only valid for quiz session summaries.
	DifficultyMixed Difficulty = "mixed"
)

// IsValid reports whether d grades a catalog item.
func (d Difficulty) IsValid() bool {
	switch d {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return true
	}
	return false
}

// ParseDifficulty accepts an empty string as "any".
func ParseDifficulty(s string) (Difficulty, error) {
	d := Difficulty(strings.ToLower(strings.TrimSpace(s)))
	if d == "" || d.IsValid() {
		return d, nil
	}
	return "", NewDomainError("catalog", "ParseDifficulty", ErrInvalidInput, "Invalid difficulty")
}
