// Package notify pushes party events of rooms that opted in to sharing to
// an external webhook through an asynq queue.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"gitlab.com/audioparty/backend/internal/rooms"
)

const (
	queueName   = "notifications"
	maxRetry    = 5
	taskTimeout = 15 * time.Second
)

// Enqueuer is the part of asynq.Client the notifier uses.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

type Notifier struct {
	client    Enqueuer
	publicURL string
	log       *logrus.Entry
}

func NewNotifier(client Enqueuer, publicURL string) *Notifier {
	return &Notifier{
		client:    client,
		publicURL: publicURL,
		log:       logrus.WithField("component", "notify"),
	}
}

func (n *Notifier) SongChanged(ctx context.Context, room rooms.Snapshot) error {
	return n.enqueue(ctx, NewPayload(TypeSongChanged, room, n.publicURL))
}

func (n *Notifier) PartyEnded(ctx context.Context, room rooms.Snapshot) error {
	return n.enqueue(ctx, NewPayload(TypePartyEnded, room, n.publicURL))
}

func (n *Notifier) enqueue(ctx context.Context, p Payload) error {
	task, err := NewTask(p)
	if err != nil {
		return fmt.Errorf("failed to build %s task: %w", p.Event, err)
	}

	info, err := n.client.EnqueueContext(ctx, task,
		asynq.Queue(queueName),
		asynq.MaxRetry(maxRetry),
		asynq.Timeout(taskTimeout),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue %s task: %w", p.Event, err)
	}

	n.log.WithFields(logrus.Fields{
		"task_id":   info.ID,
		"task_type": p.Event,
		"room_id":   p.RoomID,
	}).Debug("Notification enqueued")
	return nil
}
