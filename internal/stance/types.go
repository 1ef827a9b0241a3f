// Package stance defines the core data model for candidate policy research:
// candidates, stance cards, per-candidate alignments, sources, and the
// anonymous voting choices users record against cards.
package stance

import (
	"errors"
	"fmt"
)

// Alignment is a candidate's binary position on a stance question.
type Alignment string

const (
	AlignmentSupports Alignment = "supports"
	AlignmentOpposes  Alignment = "opposes"
)

// Valid reports whether the alignment is one of the two known values.
func (a Alignment) Valid() bool {
	return a == AlignmentSupports || a == AlignmentOpposes
}

// Choice is a user's ternary vote on a stance question. Choices are
// ephemeral and never persisted server-side.
type Choice string

const (
	ChoiceSupports Choice = "supports"
	ChoiceOpposes  Choice = "opposes"
	ChoiceSkip     Choice = "skip"
)

// Valid reports whether the choice is one of the three known values.
func (c Choice) Valid() bool {
	return c == ChoiceSupports || c == ChoiceOpposes || c == ChoiceSkip
}

// ErrUnknownIssue indicates an issue tag outside the fixed enumerated set.
var ErrUnknownIssue = errors.New("unknown issue tag")

// Issue tags form a fixed enumerated set; research requests referencing
// tags outside it are rejected at submission.
const (
	IssueHousing        = "housing"
	IssuePublicSafety   = "public_safety"
	IssueHomelessness   = "homelessness"
	IssueTransportation = "transportation"
	IssueEconomy        = "economy"
)

// Issues returns the full issue tag set in declaration order.
func Issues() []string {
	return []string{
		IssueHousing,
		IssuePublicSafety,
		IssueHomelessness,
		IssueTransportation,
		IssueEconomy,
	}
}

// ValidateIssues checks every tag against the enumerated set.
func ValidateIssues(tags []string) error {
	for _, tag := range tags {
		if !validIssue(tag) {
			return fmt.Errorf("%w: %q", ErrUnknownIssue, tag)
		}
	}
	return nil
}

func validIssue(tag string) bool {
	switch tag {
	case IssueHousing, IssuePublicSafety, IssueHomelessness, IssueTransportation, IssueEconomy:
		return true
	}
	return false
}

// Candidate is the immutable identity of a political candidate. The roster
// is loaded once at startup and never mutated.
type Candidate struct {
	Name  string `json:"name" koanf:"name"`
	Role  string `json:"current_role" koanf:"role"`
	Party string `json:"party_affiliation" koanf:"party"`
	// Gender is carried only for downstream voice selection.
	Gender    string   `json:"gender" koanf:"gender"`
	Bio       string   `json:"bio_summary" koanf:"bio"`
	KeyIssues []string `json:"key_issues" koanf:"key_issues"`
}

// CandidateAlignment is one candidate's position within a stance card.
type CandidateAlignment struct {
	Candidate string    `json:"candidate"`
	Alignment Alignment `json:"alignment"`
	SourceURL string    `json:"source_url,omitempty"`
	// Confidence is the provider's 0-1 confidence in the judgment, when
	// available.
	Confidence float64 `json:"confidence,omitempty"`
}

// minBalancedCandidates is the smallest number of distinct candidates a
// card must cover to support a meaningful comparison.
const minBalancedCandidates = 3

// StanceCard is a single policy question with per-candidate alignments.
// Cards are immutable once stored.
type StanceCard struct {
	ID         string               `json:"stance_id"`
	Question   string               `json:"question"`
	Context    string               `json:"context"`
	Analysis   string               `json:"analysis"`
	Alignments []CandidateAlignment `json:"alignments"`
}

// DistinctCandidates counts unique candidates across the card's alignments.
func (c StanceCard) DistinctCandidates() int {
	seen := make(map[string]struct{}, len(c.Alignments))
	for _, a := range c.Alignments {
		seen[a.Candidate] = struct{}{}
	}
	return len(seen)
}

// Balanced reports whether the card covers at least three distinct
// candidates with no candidate repeated. Only balanced cards are accepted
// into research results or the voting deck.
func (c StanceCard) Balanced() bool {
	distinct := c.DistinctCandidates()
	return distinct >= minBalancedCandidates && distinct == len(c.Alignments)
}

// Source is a research document discovered during a search pass.
type Source struct {
	Title       string  `json:"title"`
	URL         string  `json:"url"`
	Type        string  `json:"source_type,omitempty"`
	Summary     string  `json:"summary,omitempty"`
	Relevance   float64 `json:"relevance_score"`
	PublishedAt string  `json:"date_published,omitempty"`
}
