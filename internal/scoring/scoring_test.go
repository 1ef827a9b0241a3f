package scoring

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/ballotd/internal/stance"
)

// card builds a stance card where every listed candidate takes the given
// alignment in order.
func card(id string, alignments ...stance.CandidateAlignment) stance.StanceCard {
	return stance.StanceCard{ID: id, Question: "q-" + id, Alignments: alignments}
}

func align(candidate string, a stance.Alignment) stance.CandidateAlignment {
	return stance.CandidateAlignment{Candidate: candidate, Alignment: a}
}

func TestScore_TwoStanceScenario(t *testing.T) {
	// Candidate A supports both stances, B opposes both. The user supports
	// the first and opposes the second: both candidates land at 1/1, ratio
	// 0.5, and the tie breaks by name.
	cards := []stance.StanceCard{
		card("s1",
			align("Alice", stance.AlignmentSupports),
			align("Bob", stance.AlignmentOpposes),
		),
		card("s2",
			align("Alice", stance.AlignmentSupports),
			align("Bob", stance.AlignmentOpposes),
		),
	}
	choices := map[string]stance.Choice{
		"s1": stance.ChoiceSupports,
		"s2": stance.ChoiceOpposes,
	}

	results := Score(cards, choices)
	require.Len(t, results, 2)

	assert.Equal(t, "Alice", results[0].Candidate)
	assert.Equal(t, 1, results[0].Agreements)
	assert.Equal(t, 1, results[0].Disagreements)
	assert.InDelta(t, 0.5, results[0].Affinity, 1e-9)

	assert.Equal(t, "Bob", results[1].Candidate)
	assert.Equal(t, 1, results[1].Agreements)
	assert.Equal(t, 1, results[1].Disagreements)
	assert.InDelta(t, 0.5, results[1].Affinity, 1e-9)
}

func TestScore_SkipsAndMissingChoices(t *testing.T) {
	cards := []stance.StanceCard{
		card("s1", align("Alice", stance.AlignmentSupports)),
		card("s2", align("Alice", stance.AlignmentSupports)),
		card("s3", align("Bob", stance.AlignmentOpposes)),
	}
	choices := map[string]stance.Choice{
		"s1": stance.ChoiceSupports,
		"s2": stance.ChoiceSkip,
		// s3 has no recorded choice.
	}

	results := Score(cards, choices)
	require.Len(t, results, 1)
	assert.Equal(t, "Alice", results[0].Candidate)
	assert.Equal(t, 1, results[0].Total, "skipped card must not count")
}

func TestScore_AllSkipped(t *testing.T) {
	cards := []stance.StanceCard{
		card("s1", align("Alice", stance.AlignmentSupports)),
	}
	choices := map[string]stance.Choice{"s1": stance.ChoiceSkip}

	results := Score(cards, choices)
	assert.Empty(t, results, "all-skip is a valid empty outcome")
}

func TestScore_NoZeroTotals(t *testing.T) {
	cards := []stance.StanceCard{
		card("s1", align("Alice", stance.AlignmentSupports)),
		card("s2", align("Bob", stance.AlignmentOpposes)),
	}
	choices := map[string]stance.Choice{"s1": stance.ChoiceSupports}

	for _, r := range Score(cards, choices) {
		assert.Greater(t, r.Total, 0)
	}
}

func TestScore_Idempotent(t *testing.T) {
	cards := []stance.StanceCard{
		card("s1",
			align("Alice", stance.AlignmentSupports),
			align("Bob", stance.AlignmentOpposes),
			align("Carol", stance.AlignmentSupports),
		),
		card("s2",
			align("Alice", stance.AlignmentOpposes),
			align("Bob", stance.AlignmentOpposes),
		),
	}
	choices := map[string]stance.Choice{
		"s1": stance.ChoiceSupports,
		"s2": stance.ChoiceOpposes,
	}

	first := Score(cards, choices)
	second := Score(cards, choices)
	assert.Equal(t, first, second)
}

func TestScore_MonotonicAgreement(t *testing.T) {
	// 3 candidates, 5 stances. Adding one more agreeing choice for Alice
	// moves her ratio toward 1, never down.
	var cards []stance.StanceCard
	for i := 1; i <= 5; i++ {
		cards = append(cards, card(fmt.Sprintf("s%d", i),
			align("Alice", stance.AlignmentSupports),
			align("Bob", stance.AlignmentOpposes),
			align("Carol", stance.AlignmentSupports),
		))
	}

	choices := map[string]stance.Choice{
		"s1": stance.ChoiceSupports,
		"s2": stance.ChoiceOpposes,
	}

	findAlice := func(results []MatchResult) MatchResult {
		for _, r := range results {
			if r.Candidate == "Alice" {
				return r
			}
		}
		t.Fatal("Alice missing from results")
		return MatchResult{}
	}

	before := findAlice(Score(cards, choices))

	choices["s3"] = stance.ChoiceSupports // agrees with Alice's alignment
	after := findAlice(Score(cards, choices))

	assert.Equal(t, before.Total+1, after.Total)
	assert.Equal(t, before.Agreements+1, after.Agreements)
	assert.GreaterOrEqual(t, after.Affinity, before.Affinity)
}

func TestScore_TieBreakByTotal(t *testing.T) {
	// Alice and Bob both at affinity 1.0, but Alice has more data points.
	cards := []stance.StanceCard{
		card("s1",
			align("Alice", stance.AlignmentSupports),
			align("Bob", stance.AlignmentSupports),
		),
		card("s2", align("Alice", stance.AlignmentSupports)),
	}
	choices := map[string]stance.Choice{
		"s1": stance.ChoiceSupports,
		"s2": stance.ChoiceSupports,
	}

	results := Score(cards, choices)
	require.Len(t, results, 2)
	assert.Equal(t, "Alice", results[0].Candidate)
	assert.Equal(t, 2, results[0].Total)
}

func TestAgrees(t *testing.T) {
	assert.True(t, Agrees(stance.AlignmentSupports, stance.ChoiceSupports))
	assert.True(t, Agrees(stance.AlignmentOpposes, stance.ChoiceOpposes))
	assert.False(t, Agrees(stance.AlignmentSupports, stance.ChoiceOpposes))
	assert.False(t, Agrees(stance.AlignmentOpposes, stance.ChoiceSupports))
	assert.False(t, Agrees(stance.AlignmentSupports, stance.ChoiceSkip))
}
