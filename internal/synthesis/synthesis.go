// Package synthesis defines the language-model capability that turns raw
// research sources into structured stance cards, and provides an
// OpenAI-compatible implementation via langchaingo.
//
// Provider output is validated at this boundary: anything that does not
// parse into the strict StanceCard shape is reported as a malformed
// response, and untyped provider data never reaches the core.
package synthesis

import (
	"context"
	"errors"

	"github.com/fyrsmithlabs/ballotd/internal/stance"
)

var (
	// ErrInvalidConfig indicates invalid synthesizer configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrMalformedResponse indicates provider output that does not match
	// the expected stance card shape. Callers treat this the same as a
	// transport failure.
	ErrMalformedResponse = errors.New("malformed provider response")
)

// Synthesizer converts accumulated source material into stance judgments
// for one issue.
type Synthesizer interface {
	Synthesize(ctx context.Context, req *Request) ([]stance.StanceCard, error)
}

// Request carries everything the provider needs to judge one issue.
type Request struct {
	// Subjects are the candidates under research. A single-candidate
	// research task lists one; comparisons list several.
	Subjects []string

	// Issue is the issue tag the cards should address.
	Issue string

	// Roster is the full candidate field, so the provider can produce
	// balanced cards covering candidates beyond the subjects.
	Roster []stance.Candidate

	// Sources is the deduplicated material accumulated so far.
	Sources []stance.Source
}
