// Package signaling is the coordination layer between browsers: it turns
// websocket events into room registry operations, fans out membership
// notifications and relays opaque WebRTC handshake payloads.
package signaling

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gitlab.com/audioparty/backend/internal/models"
	"gitlab.com/audioparty/backend/internal/rooms"
)

// RateLimiter gates room creation and join attempts per remote address.
type RateLimiter interface {
	Allow(ctx context.Context, action, key string) error
}

// Notifier is told about song changes and party ends of rooms that opted in
// to external sharing.
type Notifier interface {
	SongChanged(ctx context.Context, room rooms.Snapshot) error
	PartyEnded(ctx context.Context, room rooms.Snapshot) error
}

// Recorder keeps a history of parties.
type Recorder interface {
	RoomCreated(ctx context.Context, room rooms.Snapshot) error
	RoomUpdated(ctx context.Context, room rooms.Snapshot) error
	RoomEnded(ctx context.Context, room rooms.Snapshot, reason string) error
}

// Rate limited actions
const (
	ActionCreateRoom = "create"
	ActionJoinRoom   = "join"
)

// End reasons passed to Recorder.RoomEnded
const (
	EndReasonHostDisconnected = "host-disconnected"
	EndReasonEmpty            = "empty"
	EndReasonAdmin            = "admin"
	EndReasonReplaced         = "host-created-new-room"
)

const (
	backgroundTimeout = 10 * time.Second

	// historyQueueSize bounds pending Recorder calls. A full queue blocks the caller.
	historyQueueSize = 1024
)

type Service struct {
	registry *rooms.Registry
	limiter  RateLimiter
	notifier Notifier
	recorder Recorder

	clients   map[string]*Client
	clientsMu sync.RWMutex

	background sync.WaitGroup
	history    chan func(ctx context.Context)
	quit       chan struct{}
	closeOnce  sync.Once
	log        *logrus.Entry
}

type Option func(*Service)

func WithRateLimiter(l RateLimiter) Option {
	return func(s *Service) { s.limiter = l }
}

func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

func WithRecorder(r Recorder) Option {
	return func(s *Service) { s.recorder = r }
}

func NewService(registry *rooms.Registry, opts ...Option) *Service {
	s := &Service{
		registry: registry,
		clients:  make(map[string]*Client),
		quit:     make(chan struct{}),
		log:      logrus.WithField("component", "signaling"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.recorder != nil {
		s.history = make(chan func(ctx context.Context), historyQueueSize)
		go s.runHistory()
	}
	return s
}

// Registry exposes the room registry to HTTP handlers.
func (s *Service) Registry() *rooms.Registry {
	return s.registry
}

// Register makes the client addressable and tells it its identity.
func (s *Service) Register(client *Client) {
	s.clientsMu.Lock()
	s.clients[client.ID] = client
	s.clientsMu.Unlock()

	s.log.WithFields(logrus.Fields{
		"conn_id":   client.ID,
		"remote_ip": client.RemoteIP,
	}).Info("Client connected")

	s.sendMessage(client, models.WSMessage{
		Type:    models.EventConnected,
		Content: models.Connected{ID: client.ID},
	})
}

// ClientCount returns the number of connected clients.
func (s *Service) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// HandleMessage processes one inbound frame from client.
func (s *Service) HandleMessage(client *Client, message []byte) {
	var msg models.InboundMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		s.log.WithError(err).WithField("conn_id", client.ID).Warn("Failed to unmarshal message")
		s.sendError(client, "Malformed message")
		return
	}

	s.log.WithFields(logrus.Fields{
		"conn_id": shortID(client.ID),
		"type":    msg.Type,
	}).Debug("Received message")

	switch msg.Type {
	case models.EventCreateRoom:
		s.handleCreateRoom(client)

	case models.EventJoinRoom:
		s.handleJoinRoom(client, msg)

	case models.EventOffer:
		s.handleOffer(client, msg)

	case models.EventAnswer:
		s.handleAnswer(client, msg)

	case models.EventICECandidate:
		s.handleICECandidate(client, msg)

	case models.EventSongDetected:
		s.handleSongDetected(client, msg)

	case models.EventSetSharing:
		s.handleSetSharing(client, msg)

	default:
		s.log.WithField("type", msg.Type).Warn("Unknown message type")
		s.sendError(client, "Unknown message type: "+msg.Type)
	}
}

func (s *Service) handleCreateRoom(client *Client) {
	if err := s.allow(ActionCreateRoom, client); err != nil {
		s.sendMessage(client, models.WSMessage{
			Type:    models.EventCreateRoomResponse,
			Content: models.CreateRoomResponse{Success: false, Error: rateLimitedReason},
		})
		return
	}

	// membership is exclusive, so an existing room is left first
	if _, ok := s.registry.GetRoomByParticipant(client.ID); ok {
		s.depart(client.ID, EndReasonReplaced)
	}

	room := s.registry.CreateRoom(client.ID)
	s.record(func(ctx context.Context, r Recorder) error { return r.RoomCreated(ctx, room) })

	s.sendMessage(client, models.WSMessage{
		Type:    models.EventCreateRoomResponse,
		RoomID:  room.Code,
		Content: models.CreateRoomResponse{Success: true, RoomID: room.Code},
	})
}

func (s *Service) handleJoinRoom(client *Client, msg models.InboundMessage) {
	var code string
	if err := json.Unmarshal(msg.Content, &code); err != nil || code == "" {
		code = msg.RoomID
	}
	code = rooms.NormalizeCode(code)

	logCtx := s.log.WithFields(logrus.Fields{
		"conn_id": client.ID,
		"room_id": code,
	})

	if err := s.allow(ActionJoinRoom, client); err != nil {
		logCtx.Info("Join rejected: rate limited")
		s.sendJoinFailure(client, rateLimitedReason)
		return
	}

	room, err := s.registry.Join(code, client.ID)
	if err != nil {
		reason := rooms.JoinFailureReason(err, s.registry.Capacity())
		logCtx.WithError(err).Info("Join rejected")
		s.sendJoinFailure(client, reason)
		return
	}

	count := room.Count()
	logCtx.WithField("participants", count).Info("Listener joined room")

	s.sendTo(room.HostID, models.WSMessage{
		Type:    models.EventListenerJoined,
		RoomID:  room.Code,
		Content: models.ListenerEvent{ListenerID: client.ID, ParticipantCount: count},
	})
	s.broadcastCount(room)

	s.sendMessage(client, models.WSMessage{
		Type:   models.EventJoinRoomResponse,
		RoomID: room.Code,
		Content: models.JoinRoomResponse{
			Success:          true,
			RoomID:           room.Code,
			HostID:           room.HostID,
			ParticipantCount: count,
		},
	})

	if len(room.CurrentSong) > 0 {
		s.sendMessage(client, models.WSMessage{
			Type:    models.EventSongUpdate,
			RoomID:  room.Code,
			Content: models.SongUpdate{Song: room.CurrentSong},
		})
	}

	s.record(func(ctx context.Context, r Recorder) error { return r.RoomUpdated(ctx, room) })
}

func (s *Service) handleSongDetected(client *Client, msg models.InboundMessage) {
	var content models.SongDetected
	if err := json.Unmarshal(msg.Content, &content); err != nil || len(content.Song) == 0 {
		s.sendError(client, "Invalid song-detected content")
		return
	}
	code := rooms.NormalizeCode(content.RoomID)

	room, err := s.registry.SetCurrentSong(code, client.ID, content.Song)
	if err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{
			"conn_id": client.ID,
			"room_id": code,
		}).Warn("Dropped song update")
		return
	}

	s.broadcastToRoom(room, models.WSMessage{
		Type:    models.EventSongUpdate,
		RoomID:  room.Code,
		Content: models.SongUpdate{Song: room.CurrentSong},
	}, "")

	if room.Sharing {
		s.notify(func(ctx context.Context, n Notifier) error { return n.SongChanged(ctx, room) })
	}
}

func (s *Service) handleSetSharing(client *Client, msg models.InboundMessage) {
	var content models.SharingRequest
	if err := json.Unmarshal(msg.Content, &content); err != nil {
		s.sendError(client, "Invalid set-sharing content")
		return
	}

	current, ok := s.registry.GetRoomByParticipant(client.ID)
	if !ok {
		s.sendError(client, "You must create a room first")
		return
	}

	room, err := s.registry.SetSharing(current.Code, client.ID, content.Enabled)
	if err != nil {
		s.sendError(client, "Only the host can change sharing")
		return
	}

	s.log.WithFields(logrus.Fields{
		"room_id": room.Code,
		"enabled": room.Sharing,
	}).Info("Room sharing updated")

	s.sendMessage(client, models.WSMessage{
		Type:    models.EventSharingUpdated,
		RoomID:  room.Code,
		Content: models.SharingRequest{Enabled: room.Sharing},
	})

	if room.Sharing && len(room.CurrentSong) > 0 {
		s.notify(func(ctx context.Context, n Notifier) error { return n.SongChanged(ctx, room) })
	}
}

// Helper functions

const rateLimitedReason = "Too many requests, slow down"

func (s *Service) allow(action string, client *Client) error {
	if s.limiter == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	key := client.RemoteIP
	if key == "" {
		key = client.ID
	}
	return s.limiter.Allow(ctx, action, key)
}

func (s *Service) sendJoinFailure(client *Client, reason string) {
	s.sendMessage(client, models.WSMessage{
		Type:    models.EventJoinRoomResponse,
		Content: models.JoinRoomResponse{Success: false, Error: reason},
	})
}

func (s *Service) sendError(client *Client, reason string) {
	s.sendMessage(client, models.WSMessage{
		Type:    models.EventError,
		Content: models.ErrorContent{Error: reason},
	})
}

func (s *Service) sendMessage(client *Client, msg models.WSMessage) bool {
	data, err := json.Marshal(msg)
	if err != nil {
		s.log.WithError(err).Error("Failed to marshal message")
		return false
	}
	if !client.enqueue(data) {
		s.log.WithFields(logrus.Fields{
			"conn_id": shortID(client.ID),
			"type":    msg.Type,
		}).Warn("Client send channel full or closed, message dropped")
		return false
	}
	return true
}

// sendTo delivers to a connection identity. Unknown identities are dropped.
func (s *Service) sendTo(id string, msg models.WSMessage) bool {
	client := s.lookupClient(id)
	if client == nil {
		s.log.WithFields(logrus.Fields{
			"conn_id": shortID(id),
			"type":    msg.Type,
		}).Debug("Recipient not connected, message dropped")
		return false
	}
	return s.sendMessage(client, msg)
}

func (s *Service) broadcastToRoom(room rooms.Snapshot, msg models.WSMessage, exclude string) {
	for _, id := range room.Participants {
		if id == exclude {
			continue
		}
		s.sendTo(id, msg)
	}
}

func (s *Service) broadcastCount(room rooms.Snapshot) {
	s.broadcastToRoom(room, models.WSMessage{
		Type:    models.EventParticipantCountUpdated,
		RoomID:  room.Code,
		Content: models.ParticipantCount{ParticipantCount: room.Count()},
	}, "")
}

func (s *Service) lookupClient(id string) *Client {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return s.clients[id]
}

func (s *Service) notify(fn func(context.Context, Notifier) error) {
	if s.notifier == nil {
		return
	}
	s.goBackground(func(ctx context.Context) {
		if err := fn(ctx, s.notifier); err != nil {
			s.log.WithError(err).Warn("Notification failed")
		}
	})
}

// record queues a history write. Writes run one at a time in the order they
// were queued, so a party's start, peak and end reach the store in sequence.
func (s *Service) record(fn func(context.Context, Recorder) error) {
	if s.history == nil {
		return
	}
	select {
	case <-s.quit:
		s.log.Warn("Service closed, party history dropped")
		return
	default:
	}

	s.background.Add(1)
	job := func(ctx context.Context) {
		if err := fn(ctx, s.recorder); err != nil {
			s.log.WithError(err).Warn("Failed to record party history")
		}
	}
	select {
	case s.history <- job:
	case <-s.quit:
		s.background.Done()
		s.log.Warn("Service closed, party history dropped")
	}
}

func (s *Service) runHistory() {
	for {
		select {
		case job := <-s.history:
			ctx, cancel := context.WithTimeout(context.Background(), backgroundTimeout)
			job(ctx)
			cancel()
			s.background.Done()
		case <-s.quit:
			return
		}
	}
}

// goBackground runs collaborator calls off the event path so a slow
// backend never stalls signaling.
func (s *Service) goBackground(fn func(ctx context.Context)) {
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		ctx, cancel := context.WithTimeout(context.Background(), backgroundTimeout)
		defer cancel()
		fn(ctx)
	}()
}

// Close disconnects every client, waits for background work and stops the
// history writer. It is safe to call more than once.
func (s *Service) Close() {
	s.clientsMu.RLock()
	clients := make([]*Client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.clientsMu.RUnlock()

	for _, c := range clients {
		s.Disconnect(c)
	}
	s.background.Wait()
	s.closeOnce.Do(func() { close(s.quit) })
}

// Wait blocks until background collaborator calls and queued history writes
// have finished.
func (s *Service) Wait() {
	s.background.Wait()
}
