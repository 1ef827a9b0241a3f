package research

import (
	"fmt"
)

// searchQuery is one planned query with its provider topic.
type searchQuery struct {
	Text  string
	Topic string // news or general
}

// buildQueries derives the query plan for one task. Quick depth issues one
// position query per subject and issue; standard adds recent-statement
// lookups; deep adds historical context. Voting-record queries are added
// when requested or implied by deep depth. The plan is truncated to
// maxQueries, position queries first so every issue keeps coverage.
func buildQueries(subjects, issues []string, depth Depth, includeVotingRecords bool, maxQueries int) []searchQuery {
	var primary, secondary []searchQuery

	for _, subject := range subjects {
		for _, issue := range issues {
			primary = append(primary, searchQuery{
				Text:  fmt.Sprintf("%s %s policy position San Francisco", subject, issue),
				Topic: "news",
			})
			if depth == DepthStandard || depth == DepthDeep {
				secondary = append(secondary, searchQuery{
					Text:  fmt.Sprintf("%s recent statements %s", subject, issue),
					Topic: "news",
				})
			}
			if depth == DepthDeep {
				secondary = append(secondary, searchQuery{
					Text:  fmt.Sprintf("%s %s history San Francisco politics", subject, issue),
					Topic: "general",
				})
			}
		}
		if includeVotingRecords || depth == DepthDeep {
			secondary = append(secondary, searchQuery{
				Text:  fmt.Sprintf("%s voting record Board of Supervisors", subject),
				Topic: "general",
			})
		}
	}

	queries := append(primary, secondary...)
	if maxQueries > 0 && len(queries) > maxQueries {
		queries = queries[:maxQueries]
	}
	return queries
}
