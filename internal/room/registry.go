package room

// Record is what the Registry knows about one live connection.
type Record struct {
	RoomID   string
	Username string
}

// Registry maps connection IDs to their current room and display name.
//
// It is plain bookkeeping with no locking of its own; the Router serializes
// access.
type Registry struct {
	records map[string]Record
}

func NewRegistry() *Registry {
	return &Registry{records: make(map[string]Record)}
}

// Set upserts the record for connID. It never fails.
func (r *Registry) Set(connID string, rec Record) {
	r.records[connID] = rec
}

// Get returns the record for connID. Absence is a normal state (the
// connection has not joined a room, or was already removed), not a fault.
func (r *Registry) Get(connID string) (Record, bool) {
	rec, ok := r.records[connID]
	return rec, ok
}

// Remove deletes the record for connID; removing an absent record is a no-op.
func (r *Registry) Remove(connID string) {
	delete(r.records, connID)
}

func (r *Registry) Len() int {
	return len(r.records)
}
