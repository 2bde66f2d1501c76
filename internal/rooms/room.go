package rooms

import (
	"encoding/json"
	"sync"
	"time"
)

// Room is an ephemeral listening party. Everything below mu is guarded by it.
type Room struct {
	Code      string
	HostID    string
	CreatedAt time.Time
	Capacity  int

	mu           sync.Mutex
	participants []string
	sharing      bool
	currentSong  json.RawMessage
	closed       bool
}

// Snapshot is a copy of a room's state taken under its lock.
type Snapshot struct {
	Code         string          `json:"roomId"`
	HostID       string          `json:"hostId"`
	Participants []string        `json:"participants"`
	CreatedAt    time.Time       `json:"createdAt"`
	Capacity     int             `json:"capacity"`
	Sharing      bool            `json:"discordSharing"`
	CurrentSong  json.RawMessage `json:"currentSong,omitempty"`
}

// Count returns the number of participants, host included.
func (s Snapshot) Count() int {
	return len(s.Participants)
}

// Listeners returns every participant except the host.
func (s Snapshot) Listeners() []string {
	out := make([]string, 0, len(s.Participants))
	for _, id := range s.Participants {
		if id != s.HostID {
			out = append(out, id)
		}
	}
	return out
}

// Has reports whether id is in the snapshot.
func (s Snapshot) Has(id string) bool {
	for _, p := range s.Participants {
		if p == id {
			return true
		}
	}
	return false
}

func newRoom(code, hostID string, capacity int, now time.Time) *Room {
	return &Room{
		Code:         code,
		HostID:       hostID,
		CreatedAt:    now,
		Capacity:     capacity,
		participants: []string{hostID},
	}
}

func (r *Room) snapshotLocked() Snapshot {
	participants := make([]string, len(r.participants))
	copy(participants, r.participants)
	var song json.RawMessage
	if r.currentSong != nil {
		song = append(json.RawMessage(nil), r.currentSong...)
	}
	return Snapshot{
		Code:         r.Code,
		HostID:       r.HostID,
		Participants: participants,
		CreatedAt:    r.CreatedAt,
		Capacity:     r.Capacity,
		Sharing:      r.sharing,
		CurrentSong:  song,
	}
}

func (r *Room) hasLocked(id string) bool {
	for _, p := range r.participants {
		if p == id {
			return true
		}
	}
	return false
}

func (r *Room) removeLocked(id string) bool {
	for i, p := range r.participants {
		if p == id {
			r.participants = append(r.participants[:i], r.participants[i+1:]...)
			return true
		}
	}
	return false
}
