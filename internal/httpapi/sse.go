package httpapi

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
)

// sseHeartbeatInterval keeps proxies from dropping idle streams.
const sseHeartbeatInterval = 30 * time.Second

// handleResearchStream streams research task events via Server-Sent Events.
//
// The handler subscribes to the task's NATS subjects and forwards events
// until a terminal event arrives or the client disconnects. There is no
// replay: a client connecting mid-task should reconcile current state via
// the status endpoint.
//
// Example:
//
//	GET /api/v1/research/stream/{id}
//
//	event: progress
//	data: {"type":"progress","task_id":"...","percent":50,"step":"searched query 1 of 2"}
//
//	event: complete
//	data: {"type":"complete","task_id":"...","percent":100,"summary":{...}}
func (s *Server) handleResearchStream(c echo.Context) error {
	taskID := c.Param("id")

	// Validate the task exists before holding a stream open
	if _, err := s.orch.Status(taskID); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "unknown research task")
	}

	c.Response().Header().Set("Content-Type", "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("Connection", "keep-alive")
	c.Response().Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	msgs, sub, err := s.broadcaster.Subscribe(taskID)
	if err != nil {
		return err
	}
	defer func() {
		_ = sub.Unsubscribe()
	}()

	ticker := time.NewTicker(sseHeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case msg := <-msgs:
			// The event type is the last subject token
			parts := strings.Split(msg.Subject, ".")
			eventType := parts[len(parts)-1]

			fmt.Fprintf(c.Response(), "event: %s\n", eventType)
			fmt.Fprintf(c.Response(), "data: %s\n\n", string(msg.Data))
			c.Response().Flush()

			if eventType == "complete" || eventType == "error" {
				return nil
			}

		case <-ticker.C:
			fmt.Fprintf(c.Response(), ": heartbeat\n\n")
			c.Response().Flush()

		case <-c.Request().Context().Done():
			return nil
		}
	}
}
