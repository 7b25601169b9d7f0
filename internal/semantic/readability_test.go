package semantic

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReadability_BoundsAndOrdering(t *testing.T) {
	simple := "The cat sat. The dog ran. We like pets. They play all day."
	dense := "Notwithstanding organizational prioritization methodologies, " +
		"interdepartmental considerations necessitate comprehensive " +
		"reevaluation of infrastructural interdependencies."

	simpleScore := Readability(simple)
	denseScore := Readability(dense)

	assert.GreaterOrEqual(t, simpleScore, 0.0)
	assert.LessOrEqual(t, simpleScore, 1.0)
	assert.GreaterOrEqual(t, denseScore, 0.0)
	assert.LessOrEqual(t, denseScore, 1.0)
	assert.Greater(t, simpleScore, denseScore,
		"short common words must score easier than polysyllabic jargon")
}

func TestReadability_EmptyInput(t *testing.T) {
	assert.Equal(t, 0.0, Readability(""))
	assert.Equal(t, 0.0, Readability("   \n\t  "))
}

func TestReadability_Deterministic(t *testing.T) {
	content := "Vacation requests must be submitted two weeks in advance."
	assert.Equal(t, Readability(content), Readability(content))
}

func TestCountSyllables(t *testing.T) {
	tests := []struct {
		word string
		want int
	}{
		{"cat", 1},
		{"table", 2},
		{"vacation", 3},
		{"readability", 5},
		{"e", 1},
		{"", 1},
		{"rhythm", 1},
	}

	for _, tt := range tests {
		t.Run(tt.word, func(t *testing.T) {
			assert.Equal(t, tt.want, countSyllables(tt.word))
		})
	}
}
