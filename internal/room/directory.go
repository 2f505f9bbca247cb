package room

import "sort"

// Info is a point-in-time view of one room, as served by /api/rooms.
type Info struct {
	RoomID    string   `json:"roomId"`
	UserCount int      `json:"userCount"`
	Users     []string `json:"users"`
}

// Directory maps room IDs to member sets. Rooms are created lazily on first
// join and deleted the instant their member set becomes empty, so a room is
// present exactly when it has at least one member.
//
// Like the Registry it carries no lock; the Router serializes access.
type Directory struct {
	rooms map[string]map[string]struct{}
}

func NewDirectory() *Directory {
	return &Directory{rooms: make(map[string]map[string]struct{})}
}

// Join adds connID to roomID, creating the room if needed. Joining a room the
// connection is already in is a no-op.
func (d *Directory) Join(roomID, connID string) {
	members := d.rooms[roomID]
	if members == nil {
		members = make(map[string]struct{})
		d.rooms[roomID] = members
	}
	members[connID] = struct{}{}
}

// Leave removes connID from roomID and deletes the room if it is now empty.
// Absent rooms or members are a no-op.
func (d *Directory) Leave(roomID, connID string) {
	members := d.rooms[roomID]
	if members == nil {
		return
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(d.rooms, roomID)
	}
}

// Members returns the member IDs of roomID; empty (never an error) when the
// room does not exist. The slice is a copy.
func (d *Directory) Members(roomID string) []string {
	members := d.rooms[roomID]
	out := make([]string, 0, len(members))
	for id := range members {
		out = append(out, id)
	}
	return out
}

// Len reports the number of live rooms.
func (d *Directory) Len() int {
	return len(d.rooms)
}

// Snapshot recomputes the introspection view from live state. Rooms are
// sorted by ID so the output is stable.
func (d *Directory) Snapshot() []Info {
	out := make([]Info, 0, len(d.rooms))
	for roomID := range d.rooms {
		users := d.Members(roomID)
		sort.Strings(users)
		out = append(out, Info{RoomID: roomID, UserCount: len(users), Users: users})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RoomID < out[j].RoomID })
	return out
}
