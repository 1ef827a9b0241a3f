package research

import (
	"strings"

	"github.com/fyrsmithlabs/ballotd/internal/results"
	"github.com/fyrsmithlabs/ballotd/internal/scoring"
	"github.com/fyrsmithlabs/ballotd/internal/stance"
)

// buildComparison splits stance cards into common ground and divergences
// for the compared subjects. Agreement between two candidates reuses the
// same test the scoring engine applies between a candidate and a voter.
// Cards covering fewer than two of the subjects say nothing about the
// comparison and are skipped.
func buildComparison(subjects []string, cards []stance.StanceCard) *results.Comparison {
	subjectSet := make(map[string]struct{}, len(subjects))
	for _, s := range subjects {
		subjectSet[strings.ToLower(s)] = struct{}{}
	}

	cmp := &results.Comparison{
		Subjects:     append([]string(nil), subjects...),
		CommonGround: []results.ComparisonPoint{},
		Divergences:  []results.ComparisonPoint{},
	}

	for _, card := range cards {
		positions := make(map[string]stance.Alignment)
		for _, a := range card.Alignments {
			if _, ok := subjectSet[strings.ToLower(a.Candidate)]; ok {
				positions[a.Candidate] = a.Alignment
			}
		}
		if len(positions) < 2 {
			continue
		}

		point := results.ComparisonPoint{
			CardID:     card.ID,
			Question:   card.Question,
			Alignments: positions,
		}
		if allAgree(positions) {
			cmp.CommonGround = append(cmp.CommonGround, point)
		} else {
			cmp.Divergences = append(cmp.Divergences, point)
		}
	}

	return cmp
}

func allAgree(positions map[string]stance.Alignment) bool {
	var first stance.Alignment
	for _, a := range positions {
		if first == "" {
			first = a
			continue
		}
		if !scoring.Agrees(a, stance.Choice(first)) {
			return false
		}
	}
	return true
}
