package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyberguard/cyberguard-training/internal/domain/progression"
)

func TestLoadSeedCatalog(t *testing.T) {
	c, err := LoadSeedCatalog()
	require.NoError(t, err)

	assert.Len(t, c.Categories, 3)
	assert.Len(t, c.Rewards, 13)
	assert.Len(t, c.ChallengeTemplates, 6)
	assert.NotEmpty(t, c.Modules)
	assert.NotEmpty(t, c.Questions)
	assert.NotEmpty(t, c.InteractiveElements)

	byType := map[progression.RequirementType]int{}
	for _, r := range c.Rewards {
		byType[progression.RequirementType(r.RequirementType)]++
	}
	assert.Equal(t, 4, byType[progression.RequirementLevel])
	assert.Equal(t, 3, byType[progression.RequirementAchievement])
	assert.Equal(t, 3, byType[progression.RequirementStreak])
	assert.Equal(t, 3, byType[progression.RequirementXP])
}

func TestLoadSeedCatalog_ScenarioBranches(t *testing.T) {
	c, err := LoadSeedCatalog()
	require.NoError(t, err)

	var found bool
	for _, s := range c.Scenarios {
		if s.Title != "Suspicious Email from the Bank" {
			continue
		}
		found = true
		require.Len(t, s.Steps, 2)
		assert.Equal(t, 2, s.Steps[0].Choices[1].NextStep)
		assert.True(t, s.Steps[0].Choices[1].Correct)
	}
	assert.True(t, found)
}

func TestParseSeedCatalog_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{
			name: "unknown category",
			doc: `
categories:
  - name: Phishing
modules:
  - category: Ransomware
    title: Orphan
`,
		},
		{
			name: "bad difficulty",
			doc: `
categories:
  - name: Phishing
questions:
  - category: Phishing
    question: Q
    difficulty: extreme
`,
		},
		{
			name: "dangling next step",
			doc: `
categories:
  - name: Phishing
scenarios:
  - category: Phishing
    title: S
    steps:
      - number: 1
        choices:
          - text: go
            next_step: 9
`,
		},
		{
			name: "unknown requirement type",
			doc: `
rewards:
  - key: weird
    requirement_type: karma
    requirement_value: 1
`,
		},
		{
			name: "malformed yaml",
			doc:  "categories: [",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSeedCatalog([]byte(tt.doc))
			assert.Error(t, err)
		})
	}
}
