// Package events broadcasts research task lifecycle events over NATS.
//
// Each task publishes to its own subject tree, research.task.{id}.{type},
// so stream consumers subscribe to exactly one task with a single wildcard.
// Publishing is fire-and-forget: a broadcast failure is logged and never
// stalls the task that produced it.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ballotd/internal/stance"
)

// Type identifies the kind of lifecycle event.
type Type string

const (
	TypeProgress Type = "progress"
	TypeSource   Type = "source"
	TypeComplete Type = "complete"
	TypeError    Type = "error"
)

// Summary carries the completion counts attached to a complete event.
type Summary struct {
	TotalSources  int      `json:"total_sources"`
	Stances       int      `json:"stances"`
	IssuesCovered []string `json:"issues_covered"`
}

// Event is one lifecycle event for a research task. Progress events carry
// Percent, Step, SourcesFound and RemainingSeconds; source events carry
// Source; complete events carry Message and Summary; error events carry
// Error and Recoverable.
type Event struct {
	Type      Type      `json:"type"`
	TaskID    string    `json:"task_id"`
	Timestamp time.Time `json:"timestamp"`

	// Percent is completion in [0,100].
	Percent          int    `json:"percent"`
	Step             string `json:"step,omitempty"`
	SourcesFound     int    `json:"sources_found,omitempty"`
	RemainingSeconds int    `json:"remaining_seconds,omitempty"`

	Source *stance.Source `json:"source,omitempty"`

	Message string   `json:"message,omitempty"`
	Summary *Summary `json:"summary,omitempty"`

	Error       string `json:"error,omitempty"`
	Recoverable bool   `json:"recoverable"`
}

// Terminal reports whether the event ends the task's stream.
func (e Event) Terminal() bool {
	return e.Type == TypeComplete || e.Type == TypeError
}

// Subject returns the NATS subject for one task and event type.
func Subject(taskID string, t Type) string {
	return fmt.Sprintf("research.task.%s.%s", taskID, t)
}

// TaskSubjects returns the wildcard subject covering every event of one task.
func TaskSubjects(taskID string) string {
	return fmt.Sprintf("research.task.%s.>", taskID)
}

// Broadcaster publishes task events to NATS.
type Broadcaster struct {
	nc     *nats.Conn
	logger *zap.Logger
}

// NewBroadcaster creates a broadcaster on an established NATS connection.
func NewBroadcaster(nc *nats.Conn, logger *zap.Logger) *Broadcaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broadcaster{nc: nc, logger: logger}
}

// Publish broadcasts one event. Failures are logged, not returned; event
// delivery is best effort and must never block or fail the task.
func (b *Broadcaster) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(ev)
	if err != nil {
		b.logger.Warn("failed to marshal task event",
			zap.String("task_id", ev.TaskID),
			zap.String("type", string(ev.Type)),
			zap.Error(err))
		return
	}

	if err := b.nc.Publish(Subject(ev.TaskID, ev.Type), data); err != nil {
		b.logger.Warn("failed to publish task event",
			zap.String("task_id", ev.TaskID),
			zap.String("type", string(ev.Type)),
			zap.Error(err))
	}
}

// Progress publishes a progress event for one step.
func (b *Broadcaster) Progress(taskID, step string, percent, sourcesFound, remainingSeconds int) {
	b.Publish(Event{
		Type:             TypeProgress,
		TaskID:           taskID,
		Percent:          percent,
		Step:             step,
		SourcesFound:     sourcesFound,
		RemainingSeconds: remainingSeconds,
	})
}

// Source publishes a newly discovered source.
func (b *Broadcaster) Source(taskID string, percent int, src stance.Source) {
	b.Publish(Event{
		Type:    TypeSource,
		TaskID:  taskID,
		Percent: percent,
		Source:  &src,
	})
}

// Complete publishes the successful terminal event.
func (b *Broadcaster) Complete(taskID, message string, summary Summary) {
	b.Publish(Event{
		Type:    TypeComplete,
		TaskID:  taskID,
		Percent: 100,
		Message: message,
		Summary: &summary,
	})
}

// Error publishes the failure terminal event.
func (b *Broadcaster) Error(taskID string, percent int, errMsg string, recoverable bool) {
	b.Publish(Event{
		Type:        TypeError,
		TaskID:      taskID,
		Percent:     percent,
		Error:       errMsg,
		Recoverable: recoverable,
	})
}

// Subscribe opens a channel subscription covering every event of one task.
// The caller owns the subscription and must Unsubscribe when done.
func (b *Broadcaster) Subscribe(taskID string) (chan *nats.Msg, *nats.Subscription, error) {
	msgs := make(chan *nats.Msg, 64)
	sub, err := b.nc.ChanSubscribe(TaskSubjects(taskID), msgs)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to subscribe to task events: %w", err)
	}
	return msgs, sub, nil
}

// Parse decodes a raw NATS message payload into an Event.
func Parse(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("failed to parse task event: %w", err)
	}
	return ev, nil
}
