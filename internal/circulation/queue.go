package circulation

import "github.com/google/uuid"

// Queue is a FIFO ordered set of patron ids. Position is priority.
type Queue []uuid.UUID

func (q Queue) Len() int { return len(q) }

// Head returns the first patron in line.
func (q Queue) Head() (uuid.UUID, bool) {
	if len(q) == 0 {
		return uuid.Nil, false
	}
	return q[0], true
}

// Position returns the zero-based place of p, or -1.
func (q Queue) Position(p uuid.UUID) int {
	for i, id := range q {
		if id == p {
			return i
		}
	}
	return -1
}

func (q Queue) Contains(p uuid.UUID) bool { return q.Position(p) >= 0 }

// Push appends p unless it is already queued.
func (q *Queue) Push(p uuid.UUID) bool {
	if q.Contains(p) {
		return false
	}
	*q = append(*q, p)
	return true
}

// Remove drops p, keeping the order of everybody else.
func (q *Queue) Remove(p uuid.UUID) bool {
	i := q.Position(p)
	if i < 0 {
		return false
	}
	*q = append((*q)[:i:i], (*q)[i+1:]...)
	return true
}

func (q Queue) clone() Queue {
	if q == nil {
		return nil
	}
	return append(Queue(nil), q...)
}
