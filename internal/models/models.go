package models

import (
	"encoding/json"
	"time"
)

// Client -> server event types
const (
	EventCreateRoom   = "create-room"
	EventJoinRoom     = "join-room"
	EventOffer        = "offer"
	EventAnswer       = "answer"
	EventICECandidate = "ice-candidate"
	EventSongDetected = "song-detected"
	EventSetSharing   = "set-sharing"
)

// Server -> client event types
const (
	EventConnected               = "connected"
	EventCreateRoomResponse      = "create-room-response"
	EventJoinRoomResponse        = "join-room-response"
	EventListenerJoined          = "listener-joined"
	EventListenerLeft            = "listener-left"
	EventParticipantCountUpdated = "participant-count-updated"
	EventHostDisconnected        = "host-disconnected"
	EventSongUpdate              = "song-update"
	EventSharingUpdated          = "sharing-updated"
	EventError                   = "error"
)

// WebSocket message envelope
type WSMessage struct {
	Type    string      `json:"type"`
	RoomID  string      `json:"room_id,omitempty"`
	Content interface{} `json:"content,omitempty"`
}

// InboundMessage is a WSMessage whose content is decoded lazily per type
type InboundMessage struct {
	Type    string          `json:"type"`
	RoomID  string          `json:"room_id,omitempty"`
	Content json.RawMessage `json:"content,omitempty"`
}

type Connected struct {
	ID string `json:"id"`
}

type CreateRoomResponse struct {
	Success bool   `json:"success"`
	RoomID  string `json:"roomId,omitempty"`
	Error   string `json:"error,omitempty"`
}

type JoinRoomResponse struct {
	Success          bool   `json:"success"`
	RoomID           string `json:"roomId,omitempty"`
	HostID           string `json:"hostId,omitempty"`
	ParticipantCount int    `json:"participantCount,omitempty"`
	Error            string `json:"error,omitempty"`
}

// ListenerEvent is sent to the host on listener-joined and listener-left
type ListenerEvent struct {
	ListenerID       string `json:"listenerId"`
	ParticipantCount int    `json:"participantCount"`
}

type ParticipantCount struct {
	ParticipantCount int `json:"participantCount"`
}

// Signaling message types (WebRTC). Payloads stay opaque.
type OfferRequest struct {
	Target string          `json:"target"`
	Offer  json.RawMessage `json:"offer"`
}

type AnswerRequest struct {
	Target string          `json:"target"`
	Answer json.RawMessage `json:"answer"`
}

type CandidateRequest struct {
	Target    string          `json:"target"`
	Candidate json.RawMessage `json:"candidate"`
}

type RelayedOffer struct {
	Offer  json.RawMessage `json:"offer"`
	Sender string          `json:"sender"`
}

type RelayedAnswer struct {
	Answer json.RawMessage `json:"answer"`
	Sender string          `json:"sender"`
}

type RelayedCandidate struct {
	Candidate json.RawMessage `json:"candidate"`
	Sender    string          `json:"sender"`
}

type SongDetected struct {
	RoomID string          `json:"roomId"`
	Song   json.RawMessage `json:"song"`
}

type SongUpdate struct {
	Song json.RawMessage `json:"song"`
}

type SharingRequest struct {
	Enabled bool `json:"enabled"`
}

type ErrorContent struct {
	Error string `json:"error"`
}

// SessionInfo is one row of the admin sessions view
type SessionInfo struct {
	RoomID           string          `json:"roomId"`
	HostID           string          `json:"hostId"`
	ParticipantCount int             `json:"participantCount"`
	CreatedAt        int64           `json:"createdAt"` // unix millis
	CurrentSong      json.RawMessage `json:"currentSong"`
	DiscordSharing   bool            `json:"discordSharing"`
}

// RoomStatus answers share-link lookups
type RoomStatus struct {
	RoomID           string `json:"roomId"`
	Exists           bool   `json:"exists"`
	ParticipantCount int    `json:"participantCount"`
	Capacity         int    `json:"capacity"`
	Full             bool   `json:"full"`
}

// PartySession is a finished or running party as recorded in history
type PartySession struct {
	RoomCode         string     `json:"room_code"`
	HostID           string     `json:"host_id"`
	StartedAt        time.Time  `json:"started_at"`
	EndedAt          *time.Time `json:"ended_at,omitempty"`
	PeakParticipants int        `json:"peak_participants"`
	EndReason        *string    `json:"end_reason,omitempty"`
}

// IdentifyRequest carries a base64 audio sample from the host page
type IdentifyRequest struct {
	AudioData string `json:"audioData"`
	RoomID    string `json:"roomId,omitempty"`
}

// ICEServer is the generic ICE server shape browsers expect
type ICEServer struct {
	URLs       interface{} `json:"urls"`
	Username   string      `json:"username,omitempty"`
	Credential string      `json:"credential,omitempty"`
}
