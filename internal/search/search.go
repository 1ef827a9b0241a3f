// Package search defines the web-search capability used by research tasks
// and provides a Tavily-backed implementation.
//
// The orchestrator depends only on the Searcher interface; tests substitute
// stubs, and alternative providers can be added without touching task code.
package search

import "context"

// Searcher issues one bounded search query against an external provider.
type Searcher interface {
	Search(ctx context.Context, req *Request) (*Response, error)
}

// Request is a provider-neutral search request.
type Request struct {
	Query string
	// Topic is "news" or "general".
	Topic string
	// MaxResults bounds how many results the provider may return. The
	// implementation clamps it to its configured hard ceiling.
	MaxResults        int
	IncludeRawContent bool
}

// Response is a provider-neutral search response.
type Response struct {
	Results []Result
}

// Result is a single ranked search hit.
type Result struct {
	Title         string
	URL           string
	Content       string
	RawContent    string
	Score         float64
	PublishedDate string
}
