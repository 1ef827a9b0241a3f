// Package research implements the asynchronous research engine: the task
// state machine, the query planner, and the orchestrator that runs tasks
// against the search and synthesis gateways under concurrency and time
// limits.
package research

import (
	"context"
	"sync"
	"time"

	"github.com/fyrsmithlabs/ballotd/internal/stance"
)

// Status is a task's lifecycle state. Transitions follow
// pending -> in_progress -> {completed | failed | cancelled}; there is no
// transition out of a terminal state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Active reports whether the status counts against the concurrency cap.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusInProgress
}

// Depth selects a coarse effort budget for a task.
type Depth string

const (
	DepthQuick    Depth = "quick"
	DepthStandard Depth = "standard"
	DepthDeep     Depth = "deep"
)

// Valid reports whether the depth is one of the three known levels.
func (d Depth) Valid() bool {
	return d == DepthQuick || d == DepthStandard || d == DepthDeep
}

// EstimatedSeconds returns the advertised duration estimate for the depth.
func (d Depth) EstimatedSeconds() int {
	switch d {
	case DepthQuick:
		return 30
	case DepthDeep:
		return 300
	default:
		return 120
	}
}

// task is one in-flight research or comparison job. All fields are guarded
// by the orchestrator's mutex; task goroutines never touch them directly.
type task struct {
	id       string
	subjects []string
	issues   []string
	depth    Depth

	includeVotingRecords bool
	maxSources           int
	comparison           bool
	generateCards        bool

	status   Status
	percent  int
	step     string
	seenURLs map[string]struct{}
	sources  []stance.Source
	cards    []stance.StanceCard

	errMsg      string
	recoverable bool

	createdAt time.Time
	startedAt time.Time
	deadline  time.Time

	// cancel aborts the task's context; cancellation is observed at the
	// next step boundary.
	cancel context.CancelFunc

	// pubMu serializes event publishes for this task. Terminal publishers
	// flip status before taking it; non-terminal publishers re-check
	// status while holding it, so nothing can follow the terminal event.
	pubMu sync.Mutex
}

// Snapshot is a read-only view of a task safe to hand to observers.
type Snapshot struct {
	TaskID       string    `json:"research_id"`
	Subjects     []string  `json:"subjects"`
	Issues       []string  `json:"issues"`
	Depth        Depth     `json:"depth"`
	Status       Status    `json:"status"`
	Percent      int       `json:"percent"`
	Step         string    `json:"current_step,omitempty"`
	SourcesFound int       `json:"sources_found"`
	Error        string    `json:"error,omitempty"`
	Recoverable  bool      `json:"recoverable"`
	CreatedAt    time.Time `json:"created_at"`
	Deadline     time.Time `json:"deadline,omitzero"`
}

// snapshot copies the observable fields. Caller holds the orchestrator lock.
func (t *task) snapshot() Snapshot {
	return Snapshot{
		TaskID:       t.id,
		Subjects:     append([]string(nil), t.subjects...),
		Issues:       append([]string(nil), t.issues...),
		Depth:        t.depth,
		Status:       t.status,
		Percent:      t.percent,
		Step:         t.step,
		SourcesFound: len(t.sources),
		Error:        t.errMsg,
		Recoverable:  t.recoverable,
		CreatedAt:    t.createdAt,
		Deadline:     t.deadline,
	}
}

// remainingSeconds estimates time left from the depth budget and elapsed
// wall clock. Never negative.
func (t *task) remainingSeconds(now time.Time) int {
	if t.startedAt.IsZero() {
		return t.depth.EstimatedSeconds()
	}
	remaining := t.depth.EstimatedSeconds() - int(now.Sub(t.startedAt).Seconds())
	if remaining < 0 {
		return 0
	}
	return remaining
}
