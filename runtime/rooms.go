package runtime

import "sync"

type memberSet map[string]struct{}

// RoomDirectory maps room ids to their member connection ids. Rooms are
// created lazily on first join and deleted eagerly when the last member
// leaves, so an existing entry always has at least one member. There is
// no capacity limit and no authorization check: any registered
// connection may join any room name.
type RoomDirectory struct {
	mu    sync.RWMutex
	rooms map[string]memberSet
}

func NewRoomDirectory() *RoomDirectory {
	return &RoomDirectory{rooms: make(map[string]memberSet)}
}

// Join adds a connection to a room, creating the room if absent.
// Idempotent: joining twice contributes a single membership.
func (d *RoomDirectory) Join(roomID, connectionID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.rooms[roomID]; !ok {
		d.rooms[roomID] = make(memberSet)
	}
	d.rooms[roomID][connectionID] = struct{}{}
}

// Leave removes a connection from a room, deleting the room once its
// member set empties.
func (d *RoomDirectory) Leave(roomID, connectionID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.leaveLocked(roomID, connectionID)
}

// LeaveAll removes a connection from every room it belongs to, used on
// disconnect. Returns the ids of the rooms that were left.
func (d *RoomDirectory) LeaveAll(connectionID string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	var left []string
	for roomID, members := range d.rooms {
		if _, ok := members[connectionID]; ok {
			left = append(left, roomID)
			d.leaveLocked(roomID, connectionID)
		}
	}
	return left
}

// Members returns the member connection ids of a room. An absent room
// yields an empty slice, not an error.
func (d *RoomDirectory) Members(roomID string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	members := d.rooms[roomID]
	out := make([]string, 0, len(members))
	for id := range members {
		out = append(out, id)
	}
	return out
}

// Count reports the number of active rooms.
func (d *RoomDirectory) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.rooms)
}

func (d *RoomDirectory) leaveLocked(roomID, connectionID string) {
	members, ok := d.rooms[roomID]
	if !ok {
		return
	}
	delete(members, connectionID)
	if len(members) == 0 {
		delete(d.rooms, roomID)
	}
}
