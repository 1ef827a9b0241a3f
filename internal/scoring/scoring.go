// Package scoring ranks candidates by affinity with a user's recorded
// choices. Scoring is pure and synchronous: identical inputs always produce
// identical ordered output, and nothing here performs I/O.
package scoring

import (
	"sort"

	"github.com/fyrsmithlabs/ballotd/internal/stance"
)

// MatchResult is a candidate's derived affinity against a choice map. It is
// recomputed on demand and never stored.
type MatchResult struct {
	Candidate     string  `json:"candidate"`
	Agreements    int     `json:"agreements"`
	Disagreements int     `json:"disagreements"`
	Total         int     `json:"total_compared"`
	Affinity      float64 `json:"affinity"`
}

// Agrees reports whether a candidate's alignment matches a user's choice.
// A skipped choice agrees with nothing. Shared by match scoring and
// comparison diffs.
func Agrees(alignment stance.Alignment, choice stance.Choice) bool {
	switch choice {
	case stance.ChoiceSupports:
		return alignment == stance.AlignmentSupports
	case stance.ChoiceOpposes:
		return alignment == stance.AlignmentOpposes
	}
	return false
}

// Score computes the ranked affinity list for the given stance cards and
// choice map (keyed by stance id).
//
// Cards without a recorded choice, and cards the user skipped, contribute
// nothing. Candidates with no overlapping stances are excluded entirely, so
// every returned result has Total > 0. If the user skipped everything the
// result is empty; callers must treat that as a valid outcome, not an error.
//
// Ordering: affinity descending, then total compared descending (more data
// points win), then candidate name ascending.
func Score(cards []stance.StanceCard, choices map[string]stance.Choice) []MatchResult {
	tallies := make(map[string]*MatchResult)

	for _, card := range cards {
		choice, ok := choices[card.ID]
		if !ok || choice == stance.ChoiceSkip {
			continue
		}
		for _, a := range card.Alignments {
			tally, ok := tallies[a.Candidate]
			if !ok {
				tally = &MatchResult{Candidate: a.Candidate}
				tallies[a.Candidate] = tally
			}
			tally.Total++
			if Agrees(a.Alignment, choice) {
				tally.Agreements++
			} else {
				tally.Disagreements++
			}
		}
	}

	results := make([]MatchResult, 0, len(tallies))
	for _, tally := range tallies {
		tally.Affinity = float64(tally.Agreements) / float64(tally.Total)
		results = append(results, *tally)
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Affinity != results[j].Affinity {
			return results[i].Affinity > results[j].Affinity
		}
		if results[i].Total != results[j].Total {
			return results[i].Total > results[j].Total
		}
		return results[i].Candidate < results[j].Candidate
	})

	return results
}
