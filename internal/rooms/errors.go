package rooms

import (
	"errors"
	"fmt"
)

var (
	// ErrRoomNotFound is returned when a code does not resolve to an active room
	ErrRoomNotFound = errors.New("room not found")

	// ErrRoomFull is returned when the room already holds its capacity
	ErrRoomFull = errors.New("room is full")

	// ErrAlreadyJoined is returned when the connection is already a member of the room
	ErrAlreadyJoined = errors.New("already joined")

	// ErrAlreadyInRoom is returned when the connection belongs to a different room
	ErrAlreadyInRoom = errors.New("already in another room")

	// ErrNotMember is returned when a non-member writes room side-channel state
	ErrNotMember = errors.New("not a member of this room")

	// ErrNotHost is returned when a listener tries a host-only operation
	ErrNotHost = errors.New("only the host can do this")
)

// JoinFailureReason maps a join error to the message shown to the requester.
func JoinFailureReason(err error, capacity int) string {
	switch {
	case errors.Is(err, ErrRoomNotFound):
		return "Room not found"
	case errors.Is(err, ErrRoomFull):
		return fmt.Sprintf("Room is full (max %d participants)", capacity)
	case errors.Is(err, ErrAlreadyJoined):
		return "Already in this room"
	case errors.Is(err, ErrAlreadyInRoom):
		return "Already in another room"
	default:
		return "Unable to join room"
	}
}
