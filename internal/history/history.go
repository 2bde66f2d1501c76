// Package history records parties in Postgres for the admin view.
package history

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sirupsen/logrus"
	"gitlab.com/audioparty/backend/internal/models"
	"gitlab.com/audioparty/backend/internal/rooms"
)

const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// Store writes one party_sessions row per room. A live room code is unique,
// so the open row for a code is the one with no ended_at.
type Store struct {
	db  *sql.DB
	log *logrus.Entry
}

func NewStore(db *sql.DB) *Store {
	return &Store{
		db:  db,
		log: logrus.WithField("component", "history"),
	}
}

// RoomCreated opens a session row
func (s *Store) RoomCreated(ctx context.Context, room rooms.Snapshot) error {
	if s == nil || s.db == nil {
		return nil
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO party_sessions (room_code, host_id, started_at, peak_participants)
		VALUES ($1, $2, $3, $4)
	`, room.Code, room.HostID, room.CreatedAt, room.Count())
	if err != nil {
		return fmt.Errorf("failed to record room %s: %w", room.Code, err)
	}

	s.log.WithField("room_id", room.Code).Debug("Recorded party start")
	return nil
}

// RoomUpdated raises the peak participant count
func (s *Store) RoomUpdated(ctx context.Context, room rooms.Snapshot) error {
	if s == nil || s.db == nil {
		return nil
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE party_sessions
		SET peak_participants = GREATEST(peak_participants, $2)
		WHERE room_code = $1 AND ended_at IS NULL
	`, room.Code, room.Count())
	if err != nil {
		return fmt.Errorf("failed to update room %s: %w", room.Code, err)
	}
	return nil
}

// RoomEnded closes the open session row
func (s *Store) RoomEnded(ctx context.Context, room rooms.Snapshot, reason string) error {
	if s == nil || s.db == nil {
		return nil
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE party_sessions
		SET ended_at = NOW(), end_reason = $2
		WHERE room_code = $1 AND ended_at IS NULL
	`, room.Code, reason)
	if err != nil {
		return fmt.Errorf("failed to close room %s: %w", room.Code, err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		s.log.WithField("room_id", room.Code).Warn("No open session to close")
	}
	return nil
}

// Recent returns the newest sessions first
func (s *Store) Recent(ctx context.Context, limit int) ([]models.PartySession, error) {
	if s == nil || s.db == nil {
		return []models.PartySession{}, nil
	}
	limit = ClampLimit(limit)

	rows, err := s.db.QueryContext(ctx, `
		SELECT room_code, host_id, started_at, ended_at, peak_participants, end_reason
		FROM party_sessions
		ORDER BY started_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	sessions := []models.PartySession{}
	for rows.Next() {
		var ps models.PartySession
		var endedAt sql.NullTime
		var endReason sql.NullString

		if err := rows.Scan(&ps.RoomCode, &ps.HostID, &ps.StartedAt, &endedAt, &ps.PeakParticipants, &endReason); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		if endedAt.Valid {
			ps.EndedAt = &endedAt.Time
		}
		if endReason.Valid {
			ps.EndReason = &endReason.String
		}
		sessions = append(sessions, ps)
	}

	return sessions, rows.Err()
}

// ClampLimit maps a requested page size into [1, MaxLimit], defaulting
// non-positive values.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}
