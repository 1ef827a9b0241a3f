package research

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ballotd/internal/events"
	"github.com/fyrsmithlabs/ballotd/internal/results"
	"github.com/fyrsmithlabs/ballotd/internal/search"
	"github.com/fyrsmithlabs/ballotd/internal/stance"
	"github.com/fyrsmithlabs/ballotd/internal/synthesis"
)

// Config holds orchestrator limits.
type Config struct {
	// MaxConcurrent caps tasks in pending or in_progress. Submissions over
	// the cap are rejected synchronously, never queued.
	MaxConcurrent int

	// TaskTimeout is the wall-clock budget per task, tracked from the
	// pending to in_progress transition.
	TaskTimeout time.Duration

	// MaxQueries caps planned search queries per task.
	MaxQueries int

	// MaxSources caps accumulated sources per task.
	MaxSources int

	// RetryBackoff is the pause before the single per-step retry.
	RetryBackoff time.Duration

	// Retention is how long terminal tasks stay visible in the active
	// table before eviction. Persisted results outlive eviction.
	Retention time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 5
	}
	if c.TaskTimeout <= 0 {
		c.TaskTimeout = 15 * time.Minute
	}
	if c.MaxQueries <= 0 {
		c.MaxQueries = 5
	}
	if c.MaxSources <= 0 {
		c.MaxSources = 10
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 2 * time.Second
	}
	if c.Retention <= 0 {
		c.Retention = time.Hour
	}
	return c
}

// Request is a single-candidate research submission.
type Request struct {
	Subject              string
	Issues               []string
	Depth                Depth
	IncludeVotingRecords bool
	MaxSources           int
}

// ComparisonRequest is a multi-candidate comparison submission.
type ComparisonRequest struct {
	Subjects []string
	Issue    string
	Depth    Depth
	// GenerateCards asks for the synthesized stance cards in the result
	// and folds them into the voting deck. When false the result carries
	// only the comparison diff.
	GenerateCards bool
}

// Orchestrator owns the active task table and runs each task's step
// sequence. The table is the only shared mutable structure; every mutation
// goes through the orchestrator's entry points so the concurrency cap stays
// authoritative.
type Orchestrator struct {
	cfg         Config
	stances     *stance.Store
	searcher    search.Searcher
	synthesizer synthesis.Synthesizer
	broadcaster *events.Broadcaster
	store       *results.Store
	logger      *zap.Logger

	mu        sync.Mutex
	tasks     map[string]*task
	completed int

	rootCtx    context.Context
	rootCancel context.CancelFunc
	wg         sync.WaitGroup
}

// NewOrchestrator creates an orchestrator with an empty task table.
func NewOrchestrator(
	cfg Config,
	stances *stance.Store,
	searcher search.Searcher,
	synthesizer synthesis.Synthesizer,
	broadcaster *events.Broadcaster,
	store *results.Store,
	logger *zap.Logger,
) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	rootCtx, rootCancel := context.WithCancel(context.Background())
	return &Orchestrator{
		cfg:         cfg.withDefaults(),
		stances:     stances,
		searcher:    searcher,
		synthesizer: synthesizer,
		broadcaster: broadcaster,
		store:       store,
		logger:      logger,
		tasks:       make(map[string]*task),
		rootCtx:     rootCtx,
		rootCancel:  rootCancel,
	}
}

// Submit validates a research request and schedules a task for it. It
// returns synchronously; the task runs in the background.
func (o *Orchestrator) Submit(req Request) (Snapshot, error) {
	if req.Subject == "" {
		return Snapshot{}, fmt.Errorf("%w: subject required", ErrValidation)
	}
	candidate, ok := o.stances.Lookup(req.Subject)
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: unknown candidate %q", ErrNotFound, req.Subject)
	}

	issues := req.Issues
	if len(issues) == 0 {
		issues = candidate.KeyIssues
	}
	if len(issues) == 0 {
		issues = stance.Issues()
	}
	if err := stance.ValidateIssues(issues); err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	depth, err := normalizeDepth(req.Depth)
	if err != nil {
		return Snapshot{}, err
	}

	maxSources := req.MaxSources
	if maxSources <= 0 || maxSources > o.cfg.MaxSources {
		maxSources = o.cfg.MaxSources
	}

	return o.schedule(&task{
		subjects:             []string{candidate.Name},
		issues:               issues,
		depth:                depth,
		includeVotingRecords: req.IncludeVotingRecords,
		maxSources:           maxSources,
	})
}

// SubmitComparison validates a comparison request and schedules a task
// researching every subject symmetrically.
func (o *Orchestrator) SubmitComparison(req ComparisonRequest) (Snapshot, error) {
	if len(req.Subjects) < 2 {
		return Snapshot{}, fmt.Errorf("%w: comparison requires at least 2 subjects", ErrValidation)
	}
	subjects := make([]string, 0, len(req.Subjects))
	for _, name := range req.Subjects {
		candidate, ok := o.stances.Lookup(name)
		if !ok {
			return Snapshot{}, fmt.Errorf("%w: unknown candidate %q", ErrNotFound, name)
		}
		subjects = append(subjects, candidate.Name)
	}
	if err := stance.ValidateIssues([]string{req.Issue}); err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	depth, err := normalizeDepth(req.Depth)
	if err != nil {
		return Snapshot{}, err
	}

	return o.schedule(&task{
		subjects:      subjects,
		issues:        []string{req.Issue},
		depth:         depth,
		maxSources:    o.cfg.MaxSources,
		comparison:    true,
		generateCards: req.GenerateCards,
	})
}

func normalizeDepth(d Depth) (Depth, error) {
	if d == "" {
		return DepthStandard, nil
	}
	if !d.Valid() {
		return "", fmt.Errorf("%w: unknown depth %q", ErrValidation, d)
	}
	return d, nil
}

// schedule admits the task under the concurrency cap and launches its
// goroutine.
func (o *Orchestrator) schedule(t *task) (Snapshot, error) {
	o.mu.Lock()

	active := 0
	for _, existing := range o.tasks {
		if existing.status.Active() {
			active++
		}
	}
	if active >= o.cfg.MaxConcurrent {
		o.mu.Unlock()
		return Snapshot{}, fmt.Errorf("%w: %d tasks already active", ErrCapacityExceeded, active)
	}

	ctx, cancel := context.WithCancel(o.rootCtx)
	t.id = uuid.NewString()
	t.status = StatusPending
	t.step = "queued"
	t.seenURLs = make(map[string]struct{})
	t.createdAt = time.Now().UTC()
	t.cancel = cancel
	o.tasks[t.id] = t

	snap := t.snapshot()
	o.mu.Unlock()

	o.wg.Add(1)
	go o.run(ctx, t)

	o.logger.Info("research task scheduled",
		zap.String("task_id", t.id),
		zap.Strings("subjects", t.subjects),
		zap.Strings("issues", t.issues),
		zap.String("depth", string(t.depth)))
	return snap, nil
}

// Status returns a snapshot of one task.
func (o *Orchestrator) Status(taskID string) (Snapshot, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	t, ok := o.tasks[taskID]
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: task %s", ErrNotFound, taskID)
	}
	return t.snapshot(), nil
}

// Result returns the persisted result of a completed task. Tasks still
// pending or in progress return ErrNotReady; unknown, failed, cancelled or
// expired tasks return ErrNotFound.
func (o *Orchestrator) Result(taskID string) (*results.Result, error) {
	o.mu.Lock()
	if t, ok := o.tasks[taskID]; ok && t.status.Active() {
		o.mu.Unlock()
		return nil, fmt.Errorf("%w: task %s is %s", ErrNotReady, taskID, t.status)
	}
	o.mu.Unlock()

	res, err := o.store.Load(taskID)
	if errors.Is(err, results.ErrNotFound) {
		return nil, fmt.Errorf("%w: no result for task %s", ErrNotFound, taskID)
	}
	return res, err
}

// ListActive returns snapshots of pending and in-progress tasks, oldest
// first.
func (o *Orchestrator) ListActive() []Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()

	snaps := make([]Snapshot, 0, len(o.tasks))
	for _, t := range o.tasks {
		if t.status.Active() {
			snaps = append(snaps, t.snapshot())
		}
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].CreatedAt.Before(snaps[j].CreatedAt) })
	return snaps
}

// CompletedCount reports how many tasks have completed successfully since
// the process started.
func (o *Orchestrator) CompletedCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.completed
}

// Cancel transitions a task to cancelled. Cancelling an already-terminal
// task is a no-op returning success; unknown ids return ErrNotFound. The
// running step is abandoned at its next boundary and no result is
// persisted.
func (o *Orchestrator) Cancel(taskID string) error {
	o.mu.Lock()
	t, ok := o.tasks[taskID]
	if !ok {
		o.mu.Unlock()
		return fmt.Errorf("%w: task %s", ErrNotFound, taskID)
	}
	if t.status.Terminal() {
		o.mu.Unlock()
		return nil
	}
	t.status = StatusCancelled
	t.step = "cancelled"
	cancel := t.cancel
	percent := t.percent
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	t.pubMu.Lock()
	o.broadcaster.Error(taskID, percent, "research cancelled", false)
	t.pubMu.Unlock()
	o.logger.Info("research task cancelled", zap.String("task_id", taskID))
	o.scheduleCleanup(taskID)
	return nil
}

// Shutdown cancels all running tasks and waits for their goroutines to
// drain, bounded by ctx.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.rootCancel()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("orchestrator shutdown timed out: %w", ctx.Err())
	}
}

// run executes one task's step sequence. Cancellation and the deadline are
// checked at step boundaries only; an external call already in flight is
// allowed to finish and its result discarded.
func (o *Orchestrator) run(ctx context.Context, t *task) {
	defer o.wg.Done()

	ctx, cancelTimeout := context.WithTimeout(ctx, o.cfg.TaskTimeout)
	defer cancelTimeout()

	o.mu.Lock()
	if t.status != StatusPending {
		o.mu.Unlock()
		return
	}
	now := time.Now().UTC()
	t.status = StatusInProgress
	t.startedAt = now
	t.deadline = now.Add(o.cfg.TaskTimeout)
	t.step = "planning queries"
	o.mu.Unlock()

	queries := buildQueries(t.subjects, t.issues, t.depth, t.includeVotingRecords, o.cfg.MaxQueries)
	totalSteps := len(queries) + len(t.issues)
	completed := 0

	for i, q := range queries {
		if o.stopAtBoundary(ctx, t) {
			return
		}
		resp, err := o.searchWithRetry(ctx, t, q)
		if err != nil {
			o.failTask(t, err)
			return
		}
		o.acceptSources(t, resp.Results)
		completed++
		o.advance(t, fmt.Sprintf("searched query %d of %d", i+1, len(queries)), completed, totalSteps)
	}

	for _, issue := range t.issues {
		if o.stopAtBoundary(ctx, t) {
			return
		}
		cards, err := o.synthesizeWithRetry(ctx, t, issue)
		if err != nil {
			o.failTask(t, err)
			return
		}

		// Unbalanced cards are dropped, not surfaced as errors; an issue
		// that cannot reach three distinct candidates simply contributes
		// nothing. Filter into a fresh slice; the provider may retain
		// ownership of the one it returned.
		balanced := make([]stance.StanceCard, 0, len(cards))
		for _, card := range cards {
			if card.Balanced() {
				balanced = append(balanced, card)
			}
		}

		o.mu.Lock()
		if !t.status.Terminal() {
			t.cards = append(t.cards, balanced...)
		}
		o.mu.Unlock()

		completed++
		o.advance(t, fmt.Sprintf("synthesized %s stances", issue), completed, totalSteps)
	}

	if o.stopAtBoundary(ctx, t) {
		return
	}
	o.completeTask(t)
}

// stopAtBoundary reports whether the task must stop at this step boundary,
// recording the timeout failure when the deadline forced the stop.
func (o *Orchestrator) stopAtBoundary(ctx context.Context, t *task) bool {
	if err := ctx.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			o.failTask(t, ErrTimeout)
		} else {
			o.cancelOnShutdown(t)
		}
		return true
	}
	o.mu.Lock()
	terminal := t.status.Terminal()
	o.mu.Unlock()
	return terminal
}

// cancelOnShutdown marks a task cancelled during process shutdown. A task
// already cancelled through Cancel keeps its original terminal event.
func (o *Orchestrator) cancelOnShutdown(t *task) {
	o.mu.Lock()
	if t.status.Terminal() {
		o.mu.Unlock()
		return
	}
	t.status = StatusCancelled
	t.step = "cancelled"
	percent := t.percent
	o.mu.Unlock()

	t.pubMu.Lock()
	o.broadcaster.Error(t.id, percent, "research cancelled", false)
	t.pubMu.Unlock()
	o.scheduleCleanup(t.id)
}

// publishNonTerminal runs publish under the task's publish mutex unless the
// task has already reached a terminal state. Terminal publishers flip the
// status before taking the same mutex, so once the terminal event is out no
// further events can be emitted for the task.
func (o *Orchestrator) publishNonTerminal(t *task, publish func()) {
	t.pubMu.Lock()
	defer t.pubMu.Unlock()

	o.mu.Lock()
	terminal := t.status.Terminal()
	o.mu.Unlock()
	if terminal {
		return
	}
	publish()
}

// retryOnce runs fn, and on failure retries exactly once after the backoff.
// Context expiry during the backoff aborts without a second attempt.
func (o *Orchestrator) retryOnce(ctx context.Context, t *task, label string, fn func(context.Context) error) error {
	err := fn(ctx)
	if err == nil || ctx.Err() != nil {
		return err
	}

	o.logger.Warn("research step failed, retrying",
		zap.String("task_id", t.id),
		zap.String("step", label),
		zap.Error(err))

	select {
	case <-time.After(o.cfg.RetryBackoff):
	case <-ctx.Done():
		return ctx.Err()
	}
	return fn(ctx)
}

func (o *Orchestrator) searchWithRetry(ctx context.Context, t *task, q searchQuery) (*search.Response, error) {
	var resp *search.Response
	err := o.retryOnce(ctx, t, "search", func(ctx context.Context) error {
		var err error
		resp, err = o.searcher.Search(ctx, &search.Request{
			Query:      q.Text,
			Topic:      q.Topic,
			MaxResults: t.maxSources,
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: search: %w", ErrTransport, err)
	}
	return resp, nil
}

func (o *Orchestrator) synthesizeWithRetry(ctx context.Context, t *task, issue string) ([]stance.StanceCard, error) {
	o.mu.Lock()
	sources := append([]stance.Source(nil), t.sources...)
	o.mu.Unlock()

	req := &synthesis.Request{
		Subjects: t.subjects,
		Issue:    issue,
		Roster:   o.stances.Candidates(),
		Sources:  sources,
	}

	var cards []stance.StanceCard
	err := o.retryOnce(ctx, t, "synthesis", func(ctx context.Context) error {
		var err error
		cards, err = o.synthesizer.Synthesize(ctx, req)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: synthesis: %w", ErrTransport, err)
	}
	return cards, nil
}

// acceptSources folds new results into the task, deduplicating by URL and
// honoring the source cap, then emits one source event per accepted hit.
func (o *Orchestrator) acceptSources(t *task, found []search.Result) {
	o.mu.Lock()
	if t.status.Terminal() {
		o.mu.Unlock()
		return
	}

	var accepted []stance.Source
	for _, r := range found {
		if len(t.sources) >= t.maxSources {
			break
		}
		if _, dup := t.seenURLs[r.URL]; dup {
			continue
		}
		t.seenURLs[r.URL] = struct{}{}

		src := stance.Source{
			Title:       r.Title,
			URL:         r.URL,
			Type:        "web",
			Summary:     truncate(r.Content, 500),
			Relevance:   r.Score,
			PublishedAt: r.PublishedDate,
		}
		t.sources = append(t.sources, src)
		accepted = append(accepted, src)
	}
	percent := t.percent
	o.mu.Unlock()

	o.publishNonTerminal(t, func() {
		for _, src := range accepted {
			o.broadcaster.Source(t.id, percent, src)
		}
	})
}

// advance records step completion and emits a progress event. Percent is
// clamped to be non-decreasing.
func (o *Orchestrator) advance(t *task, step string, completed, total int) {
	o.mu.Lock()
	if t.status.Terminal() {
		o.mu.Unlock()
		return
	}
	percent := 100
	if total > 0 {
		percent = completed * 100 / total
	}
	if percent < t.percent {
		percent = t.percent
	}
	t.percent = percent
	t.step = step
	sourcesFound := len(t.sources)
	remaining := t.remainingSeconds(time.Now())
	o.mu.Unlock()

	o.publishNonTerminal(t, func() {
		o.broadcaster.Progress(t.id, step, percent, sourcesFound, remaining)
	})
}

// completeTask persists the result and publishes the terminal complete
// event. A task with zero balanced cards still completes, with a warning
// note instead of a failure.
func (o *Orchestrator) completeTask(t *task) {
	o.mu.Lock()
	if t.status.Terminal() {
		o.mu.Unlock()
		return
	}
	cards := append([]stance.StanceCard(nil), t.cards...)
	sources := append([]stance.Source(nil), t.sources...)
	o.mu.Unlock()

	res := &results.Result{
		TaskID:      t.id,
		Subjects:    append([]string(nil), t.subjects...),
		Issues:      append([]string(nil), t.issues...),
		Depth:       string(t.depth),
		Cards:       cards,
		Sources:     sources,
		CompletedAt: time.Now().UTC(),
	}

	message := "research complete"
	if len(cards) == 0 {
		res.Warnings = append(res.Warnings, "no balanced stance cards could be produced from the available sources")
		message = "research complete with no usable stances"
	}
	includeCards := !t.comparison || t.generateCards
	if t.comparison {
		res.Comparison = buildComparison(t.subjects, cards)
	}
	if !includeCards {
		res.Cards = nil
	}

	if err := o.store.Save(res); err != nil {
		o.logger.Error("failed to persist research result",
			zap.String("task_id", t.id),
			zap.Error(err))
		o.failTask(t, fmt.Errorf("persist result: %w", err))
		return
	}

	o.mu.Lock()
	if t.status.Terminal() {
		// Cancelled while persisting; a cancelled task must not expose a
		// result.
		o.mu.Unlock()
		_ = o.store.Delete(t.id)
		return
	}
	t.status = StatusCompleted
	t.percent = 100
	t.step = "completed"
	o.completed++
	o.mu.Unlock()

	if includeCards {
		o.stances.AddCards(cards...)
	}
	t.pubMu.Lock()
	o.broadcaster.Complete(t.id, message, events.Summary{
		TotalSources:  len(sources),
		Stances:       len(cards),
		IssuesCovered: append([]string(nil), t.issues...),
	})
	t.pubMu.Unlock()
	o.logger.Info("research task completed",
		zap.String("task_id", t.id),
		zap.Int("sources", len(sources)),
		zap.Int("stances", len(cards)))
	o.scheduleCleanup(t.id)
}

// failTask transitions a task to failed with a sanitized message. The raw
// error goes to logs only.
func (o *Orchestrator) failTask(t *task, err error) {
	message := "external research provider failed"
	if errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		message = "research timed out"
	}

	o.mu.Lock()
	if t.status.Terminal() {
		o.mu.Unlock()
		return
	}
	t.status = StatusFailed
	t.errMsg = message
	t.recoverable = false
	percent := t.percent
	o.mu.Unlock()

	t.pubMu.Lock()
	o.broadcaster.Error(t.id, percent, message, false)
	t.pubMu.Unlock()
	o.logger.Warn("research task failed",
		zap.String("task_id", t.id),
		zap.Error(err))
	o.scheduleCleanup(t.id)
}

// scheduleCleanup evicts a terminal task from the active table after the
// retention window.
func (o *Orchestrator) scheduleCleanup(taskID string) {
	time.AfterFunc(o.cfg.Retention, func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		if t, ok := o.tasks[taskID]; ok && t.status.Terminal() {
			delete(o.tasks, taskID)
		}
	})
}

// truncate trims s to at most limit bytes without splitting a UTF-8
// sequence.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit]
}
