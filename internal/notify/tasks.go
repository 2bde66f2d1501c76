package notify

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"gitlab.com/audioparty/backend/internal/rooms"
)

// Task types
const (
	TypeSongChanged = "party:song-changed"
	TypePartyEnded  = "party:ended"
)

// Payload is the JSON body delivered to the webhook.
type Payload struct {
	Event         string          `json:"event"`
	RoomID        string          `json:"roomId"`
	ShareURL      string          `json:"shareUrl,omitempty"`
	Song          json.RawMessage `json:"song,omitempty"`
	ListenerCount int             `json:"listenerCount"`
	Timestamp     time.Time       `json:"timestamp"`
}

// NewPayload describes room for the given task type.
func NewPayload(taskType string, room rooms.Snapshot, publicURL string) Payload {
	p := Payload{
		Event:         taskType,
		RoomID:        room.Code,
		Song:          room.CurrentSong,
		ListenerCount: len(room.Listeners()),
		Timestamp:     time.Now().UTC(),
	}
	if publicURL != "" && taskType != TypePartyEnded {
		p.ShareURL = ShareURL(publicURL, room.Code)
	}
	return p
}

// ShareURL is the link listeners open to join room code.
func ShareURL(publicURL, code string) string {
	return fmt.Sprintf("%s/%s", strings.TrimRight(publicURL, "/"), code)
}

// NewTask wraps a payload in an asynq task.
func NewTask(p Payload) (*asynq.Task, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(p.Event, data), nil
}

// RedisConnOpt accepts both "host:port" and redis:// URLs.
func RedisConnOpt(redisURL string) (asynq.RedisConnOpt, error) {
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		return asynq.ParseRedisURI(redisURL)
	}
	return asynq.RedisClientOpt{Addr: redisURL}, nil
}
