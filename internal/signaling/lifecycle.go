package signaling

import (
	"context"

	"github.com/sirupsen/logrus"
	"gitlab.com/audioparty/backend/internal/models"
	"gitlab.com/audioparty/backend/internal/rooms"
)

// Disconnect runs the departure state machine for client. The transport may
// report a close more than once; only the first call has any effect.
func (s *Service) Disconnect(client *Client) {
	client.gone.Do(func() {
		s.clientsMu.Lock()
		if s.clients[client.ID] == client {
			delete(s.clients, client.ID)
		}
		s.clientsMu.Unlock()

		client.shutdown()

		s.log.WithField("conn_id", client.ID).Info("Client disconnected")
		s.depart(client.ID, EndReasonHostDisconnected)
	})
}

// EndRoom closes a room as if its host had disconnected.
func (s *Service) EndRoom(code string) bool {
	room, ok := s.registry.DeleteRoom(rooms.NormalizeCode(code))
	if !ok {
		return false
	}
	s.log.WithField("room_id", room.Code).Info("Room ended by admin")
	s.finishRoom(room, EndReasonAdmin, "")
	return true
}

// depart removes connID from its room, if any, and notifies the rest.
func (s *Service) depart(connID, hostReason string) {
	dep, ok := s.registry.Depart(connID)
	if !ok {
		return
	}
	room := dep.Room
	logCtx := s.log.WithFields(logrus.Fields{
		"room_id": room.Code,
		"conn_id": connID,
	})

	if dep.WasHost {
		logCtx.WithField("listeners", room.Count()).Info("Room closed - host left")
		s.finishRoom(room, hostReason, connID)
		return
	}

	count := room.Count()
	logCtx.WithField("participants", count).Info("Listener left room")

	s.sendTo(room.HostID, models.WSMessage{
		Type:    models.EventListenerLeft,
		RoomID:  room.Code,
		Content: models.ListenerEvent{ListenerID: connID, ParticipantCount: count},
	})
	s.broadcastCount(room)

	if dep.Deleted {
		s.record(func(ctx context.Context, r Recorder) error { return r.RoomEnded(ctx, room, EndReasonEmpty) })
	}
}

// finishRoom tells every remaining participant the party is over.
func (s *Service) finishRoom(room rooms.Snapshot, reason, exclude string) {
	s.broadcastToRoom(room, models.WSMessage{
		Type:   models.EventHostDisconnected,
		RoomID: room.Code,
	}, exclude)

	if room.Sharing {
		s.notify(func(ctx context.Context, n Notifier) error { return n.PartyEnded(ctx, room) })
	}
	s.record(func(ctx context.Context, r Recorder) error { return r.RoomEnded(ctx, room, reason) })
}
