package presence

import (
	"slices"
	"sync"

	"github.com/npezzotti/gochat-sync/internal/types"
)

// RoomList holds the full room listing, the user's own rooms and the
// online-user count. Every update is keyed by room id.
type RoomList struct {
	mu      sync.RWMutex
	rooms   []types.Room
	myRooms []types.Room
	online  int
}

func NewRoomList() *RoomList {
	return &RoomList{}
}

func (rl *RoomList) SetRooms(rooms []types.Room) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.rooms = dedup(rooms)
}

func (rl *RoomList) SetMyRooms(rooms []types.Room) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.myRooms = dedup(rooms)
}

// AddRoom inserts room into the full list unless its id is already present.
func (rl *RoomList) AddRoom(room types.Room) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if indexOf(rl.rooms, room.Id) >= 0 {
		return false
	}
	rl.rooms = append(rl.rooms, room)
	return true
}

// AddMyRoom records that the user is a member of room.
func (rl *RoomList) AddMyRoom(room types.Room) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if i := indexOf(rl.myRooms, room.Id); i >= 0 {
		rl.myRooms[i] = room
		return
	}
	rl.myRooms = append(rl.myRooms, room)
}

// RemoveRoom drops roomId from both lists.
func (rl *RoomList) RemoveRoom(roomId int) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.rooms = remove(rl.rooms, roomId)
	rl.myRooms = remove(rl.myRooms, roomId)
}

// RemoveMyRoom drops roomId from the user's rooms only.
func (rl *RoomList) RemoveMyRoom(roomId int) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.myRooms = remove(rl.myRooms, roomId)
}

func (rl *RoomList) SetMemberCount(roomId, count int) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if i := indexOf(rl.rooms, roomId); i >= 0 {
		rl.rooms[i].MemberCount = count
	}
	if i := indexOf(rl.myRooms, roomId); i >= 0 {
		rl.myRooms[i].MemberCount = count
	}
}

func (rl *RoomList) SetOnlineCount(n int) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.online = n
}

func (rl *RoomList) Rooms() []types.Room {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return slices.Clone(rl.rooms)
}

func (rl *RoomList) MyRooms() []types.Room {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return slices.Clone(rl.myRooms)
}

func (rl *RoomList) OnlineCount() int {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return rl.online
}

func (rl *RoomList) Room(roomId int) (types.Room, bool) {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	if i := indexOf(rl.myRooms, roomId); i >= 0 {
		return rl.myRooms[i], true
	}
	if i := indexOf(rl.rooms, roomId); i >= 0 {
		return rl.rooms[i], true
	}
	return types.Room{}, false
}

func (rl *RoomList) Reset() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.rooms = nil
	rl.myRooms = nil
	rl.online = 0
}

func indexOf(rooms []types.Room, id int) int {
	return slices.IndexFunc(rooms, func(r types.Room) bool { return r.Id == id })
}

func remove(rooms []types.Room, id int) []types.Room {
	return slices.DeleteFunc(rooms, func(r types.Room) bool { return r.Id == id })
}

func dedup(rooms []types.Room) []types.Room {
	out := make([]types.Room, 0, len(rooms))
	seen := make(map[int]struct{}, len(rooms))
	for _, r := range rooms {
		if _, ok := seen[r.Id]; ok {
			continue
		}
		seen[r.Id] = struct{}{}
		out = append(out, r)
	}
	return out
}
