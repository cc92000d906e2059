package mentions

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/Korner-san/bevisible/pkg/models"
)

func TestCount(t *testing.T) {
	tests := []struct {
		name     string
		names    []string
		text     string
		expected int
	}{
		{
			name:     "single mention",
			names:    []string{"Acme"},
			text:     "Acme is a popular choice for monitoring.",
			expected: 1,
		},
		{
			name:     "case insensitive",
			names:    []string{"Acme"},
			text:     "ACME and acme and Acme",
			expected: 3,
		},
		{
			name:     "whole word only",
			names:    []string{"Acme"},
			text:     "Acmeify is unrelated, as is MegaAcme.",
			expected: 0,
		},
		{
			name:     "adjacent mentions both count",
			names:    []string{"Acme"},
			text:     "Acme Acme",
			expected: 2,
		},
		{
			name:     "aliases add up",
			names:    []string{"Acme Analytics", "Acme", "AcmeHQ"},
			text:     "Acme Analytics (known as AcmeHQ) beats plain Acme tooling.",
			expected: 4, // "Acme Analytics" also contains a bare "Acme"
		},
		{
			name:     "punctuation boundaries",
			names:    []string{"Acme"},
			text:     "Try Acme, Acme: or (Acme).",
			expected: 3,
		},
		{
			name:     "dotted name",
			names:    []string{"acme.io"},
			text:     "Visit acme.io today. acme.io rocks.",
			expected: 2,
		},
		{
			name:     "no mention",
			names:    []string{"Acme"},
			text:     "Plenty of other tools exist.",
			expected: 0,
		},
		{
			name:     "blank and duplicate names collapse",
			names:    []string{"Acme", "", "acme", "  "},
			text:     "Acme",
			expected: 1,
		},
		{
			name:     "mention inside markdown link anchor",
			names:    []string{"Acme"},
			text:     "See [Acme's review](https://reviews.example/acme) for details.",
			expected: 1,
		},
		{
			name:     "code spans are ignored",
			names:    []string{"Acme"},
			text:     "Run `pip install acme` to start.",
			expected: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCounter(tt.names)
			assert.Equal(t, tt.expected, c.Count(tt.text))
		})
	}
}

func TestMentioned(t *testing.T) {
	c := NewCounter([]string{"Acme"})
	assert.True(t, c.Mentioned("We like Acme."))
	assert.False(t, c.Mentioned("We like others."))
}

func TestPerName(t *testing.T) {
	c := NewCounter([]string{"Acme", "AcmeHQ"})
	got := c.PerName("Acme twice: Acme. AcmeHQ once.")
	assert.Equal(t, 2, got["Acme"])
	assert.Equal(t, 1, got["AcmeHQ"])
}

func TestForBrand_CachesCounter(t *testing.T) {
	brand := &models.Brand{ID: uuid.New(), Name: "Acme", Aliases: []string{"AcmeHQ"}}
	first := ForBrand(brand)
	second := ForBrand(brand)
	assert.Same(t, first, second)

	// Alias edits produce a fresh matcher.
	brand.Aliases = []string{"AcmeHQ", "Acme Cloud"}
	third := ForBrand(brand)
	assert.NotSame(t, first, third)
}

func TestNormalize(t *testing.T) {
	got := Normalize("See  [Acme](https://a.example)   and `code acme`  here")
	assert.Equal(t, "See Acme and here", got)
}
