package rooms

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sequenceCodes(codes ...string) func() string {
	var i int32 = -1
	return func() string {
		n := atomic.AddInt32(&i, 1)
		if int(n) >= len(codes) {
			return fmt.Sprintf("Z%05d", n)
		}
		return codes[n]
	}
}

func TestGenerateCode_ShapeAndAlphabet(t *testing.T) {
	for i := 0; i < 500; i++ {
		code := GenerateCode()
		require.Len(t, code, CodeLength)
		assert.True(t, ValidCode(code), "code %q should only use the unambiguous alphabet", code)
		assert.NotContains(t, code, "0")
		assert.NotContains(t, code, "O")
		assert.NotContains(t, code, "1")
		assert.NotContains(t, code, "I")
	}
}

func TestNormalizeAndValidCode(t *testing.T) {
	assert.Equal(t, "AB3K9Q", NormalizeCode("  ab3k9q "))
	assert.True(t, ValidCode("AB3K9Q"))
	assert.False(t, ValidCode("AB3K9"))
	assert.False(t, ValidCode("AB3K9O"))
	assert.False(t, ValidCode("ab3k9q"))
}

func TestCreateRoom_RetriesOnCollision(t *testing.T) {
	reg := NewRegistry(5, WithCodeGenerator(sequenceCodes("AB3K9Q", "AB3K9Q", "AB3K9Q", "XY7M2N")))

	first := reg.CreateRoom("host-1")
	second := reg.CreateRoom("host-2")

	assert.Equal(t, "AB3K9Q", first.Code)
	assert.Equal(t, "XY7M2N", second.Code)
	assert.Equal(t, []string{"host-1"}, first.Participants)
	assert.Equal(t, "host-1", first.HostID)
	assert.Equal(t, 2, reg.Len())
}

func TestJoin_ScenarioFromHostToFullRoom(t *testing.T) {
	reg := NewRegistry(5, WithCodeGenerator(sequenceCodes("AB3K9Q")))
	room := reg.CreateRoom("host")
	require.Equal(t, "AB3K9Q", room.Code)

	snap, err := reg.Join("AB3K9Q", "l1")
	require.NoError(t, err)
	assert.Equal(t, "host", snap.HostID)
	assert.Equal(t, 2, snap.Count())

	for _, id := range []string{"l2", "l3", "l4"} {
		_, err := reg.Join("AB3K9Q", id)
		require.NoError(t, err)
	}

	_, err = reg.Join("AB3K9Q", "l5")
	assert.ErrorIs(t, err, ErrRoomFull)
	assert.Equal(t, "Room is full (max 5 participants)", JoinFailureReason(err, reg.Capacity()))

	after, ok := reg.GetRoom("AB3K9Q")
	require.True(t, ok)
	assert.Equal(t, 5, after.Count())
	assert.False(t, after.Has("l5"))
}

func TestJoin_Failures(t *testing.T) {
	reg := NewRegistry(5, WithCodeGenerator(sequenceCodes("AAAAAA", "BBBBBB")))
	reg.CreateRoom("host-a")
	reg.CreateRoom("host-b")

	_, err := reg.Join("NOPE22", "x")
	assert.ErrorIs(t, err, ErrRoomNotFound)

	_, err = reg.Join("AAAAAA", "l1")
	require.NoError(t, err)

	_, err = reg.Join("AAAAAA", "l1")
	assert.ErrorIs(t, err, ErrAlreadyJoined)

	_, err = reg.Join("AAAAAA", "host-a")
	assert.ErrorIs(t, err, ErrAlreadyJoined)

	_, err = reg.Join("BBBBBB", "l1")
	assert.ErrorIs(t, err, ErrAlreadyInRoom)

	snap, _ := reg.GetRoom("AAAAAA")
	assert.Equal(t, []string{"host-a", "l1"}, snap.Participants)
}

func TestJoin_ConcurrentLastSlot(t *testing.T) {
	for round := 0; round < 50; round++ {
		reg := NewRegistry(3)
		room := reg.CreateRoom("host")
		_, err := reg.Join(room.Code, "l1")
		require.NoError(t, err)

		var (
			wg        sync.WaitGroup
			successes int32
			full      int32
		)
		start := make(chan struct{})
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				<-start
				_, err := reg.Join(room.Code, id)
				switch err {
				case nil:
					atomic.AddInt32(&successes, 1)
				case ErrRoomFull:
					atomic.AddInt32(&full, 1)
				}
			}(fmt.Sprintf("c%d", i))
		}
		close(start)
		wg.Wait()

		assert.Equal(t, int32(1), successes)
		assert.Equal(t, int32(7), full)
		snap, _ := reg.GetRoom(room.Code)
		assert.Equal(t, 3, snap.Count())
	}
}

func TestGetRoomByParticipant(t *testing.T) {
	reg := NewRegistry(5)
	room := reg.CreateRoom("host")
	_, err := reg.Join(room.Code, "l1")
	require.NoError(t, err)

	got, ok := reg.GetRoomByParticipant("l1")
	require.True(t, ok)
	assert.Equal(t, room.Code, got.Code)

	got, ok = reg.GetRoomByParticipant("host")
	require.True(t, ok)
	assert.Equal(t, room.Code, got.Code)

	_, ok = reg.GetRoomByParticipant("stranger")
	assert.False(t, ok)
}

func TestDepart_HostClosesRoom(t *testing.T) {
	reg := NewRegistry(5)
	room := reg.CreateRoom("host")
	_, _ = reg.Join(room.Code, "l1")
	_, _ = reg.Join(room.Code, "l2")

	dep, ok := reg.Depart("host")
	require.True(t, ok)
	assert.True(t, dep.WasHost)
	assert.True(t, dep.Deleted)
	assert.ElementsMatch(t, []string{"l1", "l2"}, dep.Room.Participants)
	assert.Equal(t, "host", dep.Room.HostID)

	_, exists := reg.GetRoom(room.Code)
	assert.False(t, exists)
	_, ok = reg.GetRoomByParticipant("l1")
	assert.False(t, ok, "listeners of a closed room must be unlinked")

	_, ok = reg.Depart("l1")
	assert.False(t, ok)
	_, ok = reg.Depart("host")
	assert.False(t, ok)
}

func TestDepart_ListenerShrinksRoom(t *testing.T) {
	reg := NewRegistry(5)
	room := reg.CreateRoom("host")
	_, _ = reg.Join(room.Code, "l1")
	_, _ = reg.Join(room.Code, "l2")

	dep, ok := reg.Depart("l1")
	require.True(t, ok)
	assert.False(t, dep.WasHost)
	assert.False(t, dep.Deleted)
	assert.Equal(t, 2, dep.Room.Count())
	assert.Equal(t, []string{"host", "l2"}, dep.Room.Participants)

	_, again := reg.Depart("l1")
	assert.False(t, again, "second departure must be a no-op")

	snap, ok := reg.GetRoom(room.Code)
	require.True(t, ok)
	assert.Equal(t, 2, snap.Count())

	// l1 is free to join elsewhere now
	other := reg.CreateRoom("host-2")
	_, err := reg.Join(other.Code, "l1")
	assert.NoError(t, err)
}

func TestLeave_DeletesEmptyRoom(t *testing.T) {
	reg := NewRegistry(5)
	room := reg.CreateRoom("host")
	_, _ = reg.Join(room.Code, "l1")

	_, removed := reg.Leave(room.Code, "host")
	require.True(t, removed)

	snap, removed := reg.Leave(room.Code, "l1")
	require.True(t, removed)
	assert.Equal(t, 0, snap.Count())

	_, exists := reg.GetRoom(room.Code)
	assert.False(t, exists)

	_, removed = reg.Leave(room.Code, "l1")
	assert.False(t, removed)
}

func TestDepart_ListenerAfterHostLeftDeletesRoom(t *testing.T) {
	reg := NewRegistry(5)
	room := reg.CreateRoom("host")
	_, _ = reg.Join(room.Code, "l1")

	// simulates a host removal that bypassed the host branch
	_, removed := reg.Leave(room.Code, "host")
	require.True(t, removed)

	dep, ok := reg.Depart("l1")
	require.True(t, ok)
	assert.True(t, dep.Deleted)
	assert.Equal(t, 0, reg.Len())
}

func TestDeleteRoom_Idempotent(t *testing.T) {
	reg := NewRegistry(5)
	room := reg.CreateRoom("host")
	_, _ = reg.Join(room.Code, "l1")

	snap, ok := reg.DeleteRoom(room.Code)
	require.True(t, ok)
	assert.Equal(t, 2, snap.Count())

	_, ok = reg.DeleteRoom(room.Code)
	assert.False(t, ok)
	_, ok = reg.GetRoomByParticipant("host")
	assert.False(t, ok)
}

func TestSideChannel(t *testing.T) {
	reg := NewRegistry(5)
	room := reg.CreateRoom("host")
	_, _ = reg.Join(room.Code, "l1")

	song := json.RawMessage(`{"title":"Song","artist":"Band"}`)
	snap, err := reg.SetCurrentSong(room.Code, "l1", song)
	require.NoError(t, err)
	assert.JSONEq(t, string(song), string(snap.CurrentSong))

	_, err = reg.SetCurrentSong(room.Code, "stranger", song)
	assert.ErrorIs(t, err, ErrNotMember)

	_, err = reg.SetSharing(room.Code, "l1", true)
	assert.ErrorIs(t, err, ErrNotHost)

	snap, err = reg.SetSharing(room.Code, "host", true)
	require.NoError(t, err)
	assert.True(t, snap.Sharing)

	_, err = reg.SetSharing("NOPE22", "host", true)
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestList_OrderedAndCapacityInvariant(t *testing.T) {
	reg := NewRegistry(2, WithCodeGenerator(sequenceCodes("AAAAAA", "BBBBBB")))
	reg.CreateRoom("h1")
	reg.CreateRoom("h2")
	_, _ = reg.Join("AAAAAA", "l1")
	_, err := reg.Join("AAAAAA", "l2")
	assert.ErrorIs(t, err, ErrRoomFull)

	list := reg.List()
	require.Len(t, list, 2)
	for _, snap := range list {
		assert.LessOrEqual(t, snap.Count(), snap.Capacity)
		assert.Equal(t, snap.Participants[0], snap.HostID)
	}
}

func TestNewRegistry_CapacityFloor(t *testing.T) {
	assert.Equal(t, DefaultCapacity, NewRegistry(1).Capacity())
	assert.Equal(t, 10, NewRegistry(10).Capacity())
}

func TestLeave_ReleasesMembership(t *testing.T) {
	reg := NewRegistry(5)
	room := reg.CreateRoom("host")
	_, _ = reg.Join(room.Code, "l1")

	snap, removed := reg.Leave(room.Code, "l1")
	require.True(t, removed)
	assert.Equal(t, []string{"host"}, snap.Participants)

	_, ok := reg.GetRoomByParticipant("l1")
	assert.False(t, ok)

	other := reg.CreateRoom("host-2")
	_, err := reg.Join(other.Code, "l1")
	assert.NoError(t, err)
}
