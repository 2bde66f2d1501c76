package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
)

// WebhookHandler posts task payloads to a webhook.
type WebhookHandler struct {
	url    string
	client *http.Client
}

func NewWebhookHandler(url string, client *http.Client) *WebhookHandler {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &WebhookHandler{url: url, client: client}
}

// ProcessTask implements asynq.Handler
func (h *WebhookHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	taskID := ""
	if rw := t.ResultWriter(); rw != nil {
		taskID = rw.TaskID()
	}
	retry, _ := asynq.GetRetryCount(ctx)

	logCtx := logrus.WithFields(logrus.Fields{
		"component": "notify_worker",
		"task_id":   taskID,
		"task_type": t.Type(),
		"retry":     retry,
	})

	var payload Payload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		logCtx.WithError(err).Error("Failed to unmarshal task payload")
		return fmt.Errorf("failed to unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(t.Payload()))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %v: %w", err, asynq.SkipRetry)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		logCtx.WithField("status", resp.StatusCode).Warn("Webhook rejected notification")
		return fmt.Errorf("webhook returned %d: %w", resp.StatusCode, asynq.SkipRetry)
	}

	logCtx.WithField("room_id", payload.RoomID).Info("Notification delivered")
	return nil
}

// WorkerServer runs the asynq server that drains the notification queue.
type WorkerServer struct {
	server  *asynq.Server
	handler *WebhookHandler
	log     *logrus.Entry
}

func NewWorkerServer(redisOpt asynq.RedisConnOpt, handler *WebhookHandler) *WorkerServer {
	logEntry := logrus.WithField("component", "notify_worker")

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: 4,
			Queues: map[string]int{
				queueName: 1,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				retryCount, _ := asynq.GetRetryCount(ctx)
				maxRetry, _ := asynq.GetMaxRetry(ctx)
				logEntry.WithFields(logrus.Fields{
					"task_type": task.Type(),
					"retries":   retryCount,
					"max_retry": maxRetry,
				}).Errorf("Task failed: %v", err)
			}),
		},
	)

	return &WorkerServer{
		server:  server,
		handler: handler,
		log:     logEntry,
	}
}

// Start begins processing in the background. asynq's own signal handling
// is not used; the caller stops the worker with Shutdown.
func (ws *WorkerServer) Start() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeSongChanged, ws.handler.ProcessTask)
	mux.HandleFunc(TypePartyEnded, ws.handler.ProcessTask)

	if err := ws.server.Start(mux); err != nil {
		return fmt.Errorf("could not start worker server: %w", err)
	}
	ws.log.Info("Worker server started")
	return nil
}

func (ws *WorkerServer) Shutdown() {
	ws.log.Info("Shutting down worker server...")
	ws.server.Shutdown()
}
