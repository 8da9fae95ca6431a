package telemetry

// statusRing keeps the most recent status entries in arrival order.
// When full, the oldest entry is evicted first.
type statusRing struct {
	entries  []StatusEntry
	capacity int
}

func newStatusRing(capacity int) *statusRing {
	return &statusRing{capacity: capacity}
}

func (r *statusRing) push(e StatusEntry) {
	if len(r.entries) == r.capacity {
		// Shift instead of a head index; the ring is small and copies
		// are taken on every snapshot anyway.
		copy(r.entries, r.entries[1:])
		r.entries[len(r.entries)-1] = e
		return
	}
	r.entries = append(r.entries, e)
}

// list returns a copy of the entries, oldest first.
func (r *statusRing) list() []StatusEntry {
	if len(r.entries) == 0 {
		return nil
	}
	out := make([]StatusEntry, len(r.entries))
	copy(out, r.entries)
	return out
}
