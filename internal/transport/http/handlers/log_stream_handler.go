package handlers

import (
	"context"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/nightshift/backend/internal/core/services"
	"github.com/nightshift/backend/internal/infrastructure/logger"
)

// LogStreamHandler tails a task's log over a websocket until the task
// reaches a terminal state.
type LogStreamHandler struct {
	queue    *services.TaskQueueService
	logger   *logger.Logger
	interval time.Duration
}

func NewLogStreamHandler(queue *services.TaskQueueService, logger *logger.Logger) *LogStreamHandler {
	return &LogStreamHandler{queue: queue, logger: logger, interval: time.Second}
}

type streamEvent struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

func (h *LogStreamHandler) Handle(c *websocket.Conn) {
	defer c.Close()
	id := c.Params("id")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Reader goroutine only notices the client going away.
	go func() {
		defer cancel()
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if _, err := h.queue.GetTask(ctx, id); err != nil {
		c.WriteJSON(streamEvent{Type: "error", Payload: err.Error()})
		return
	}
	h.logger.Infow("log_stream_open", "task_id", id)

	var last uint
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		logs, err := h.queue.GetLogs(ctx, id, last)
		if err != nil {
			h.logger.Warnw("log_stream_read_failed", "task_id", id, "error", err)
			return
		}
		for _, l := range logs {
			if err := c.WriteJSON(streamEvent{Type: "log", Payload: l}); err != nil {
				return
			}
			last = l.ID
		}

		task, err := h.queue.GetTask(ctx, id)
		if err != nil {
			return
		}
		if task.Status.IsTerminal() {
			c.WriteJSON(streamEvent{Type: "status", Payload: task.Status})
			h.logger.Infow("log_stream_done", "task_id", id, "status", task.Status)
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
