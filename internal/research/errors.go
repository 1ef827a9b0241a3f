package research

import "errors"

var (
	// ErrCapacityExceeded rejects a submission because the concurrent task
	// cap is reached. The caller should retry shortly; the orchestrator
	// never queues silently.
	ErrCapacityExceeded = errors.New("research capacity exceeded")

	// ErrValidation rejects a malformed request before a task is created.
	ErrValidation = errors.New("invalid research request")

	// ErrTransport marks an external provider failure after retries.
	ErrTransport = errors.New("research provider unavailable")

	// ErrTimeout marks a task that exceeded its wall-clock budget.
	ErrTimeout = errors.New("research deadline exceeded")

	// ErrNotFound indicates an unknown task id or candidate.
	ErrNotFound = errors.New("not found")

	// ErrNotReady indicates the task exists but has not completed.
	ErrNotReady = errors.New("research not finished")
)
