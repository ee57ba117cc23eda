package lobby

// Queue is the FIFO of connections waiting for a one-on-one partner.
// A connection appears in it at most once.
type Queue struct {
	entries []ConnID
	members map[ConnID]struct{}
}

// NewQueue creates an empty Queue.
func NewQueue() *Queue {
	return &Queue{members: make(map[ConnID]struct{})}
}

// Enqueue appends id to the tail.
//
// Postcondition: Returns false and leaves the queue unchanged if id is already queued.
func (q *Queue) Enqueue(id ConnID) bool {
	if _, ok := q.members[id]; ok {
		return false
	}
	q.entries = append(q.entries, id)
	q.members[id] = struct{}{}
	return true
}

// DequeuePair pops the two oldest entries. The first one returned is the
// initiator of the pair.
//
// Postcondition: Returns ok=false and leaves the queue unchanged when fewer than two entries are waiting.
func (q *Queue) DequeuePair() (first, second ConnID, ok bool) {
	if len(q.entries) < 2 {
		return "", "", false
	}
	first, second = q.entries[0], q.entries[1]
	q.entries[0], q.entries[1] = "", ""
	q.entries = q.entries[2:]
	delete(q.members, first)
	delete(q.members, second)
	return first, second, true
}

// PushFront puts id back at the head of the queue, keeping its seniority.
// It is a no-op if id is already queued.
func (q *Queue) PushFront(id ConnID) {
	if _, ok := q.members[id]; ok {
		return
	}
	q.entries = append([]ConnID{id}, q.entries...)
	q.members[id] = struct{}{}
}

// Remove deletes id from the queue if present.
func (q *Queue) Remove(id ConnID) bool {
	if _, ok := q.members[id]; !ok {
		return false
	}
	delete(q.members, id)
	for i, e := range q.entries {
		if e == id {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			break
		}
	}
	return true
}

// Contains reports whether id is waiting.
func (q *Queue) Contains(id ConnID) bool {
	_, ok := q.members[id]
	return ok
}

// Len returns the number of waiting connections.
func (q *Queue) Len() int {
	return len(q.entries)
}

// Snapshot returns the waiting ids from oldest to newest.
func (q *Queue) Snapshot() []ConnID {
	out := make([]ConnID, len(q.entries))
	copy(out, q.entries)
	return out
}
