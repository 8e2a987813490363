package types

import "time"

// Entity carries the bookkeeping timestamps embedded in persisted records.
type Entity struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewEntity creates a new Entity with current timestamps.
func NewEntity() Entity {
	return NewEntityAt(time.Now())
}

// NewEntityAt creates an Entity stamped with the given instant (UTC).
func NewEntityAt(t time.Time) Entity {
	t = t.UTC()
	return Entity{
		CreatedAt: t,
		UpdatedAt: t,
	}
}

// TouchAt sets UpdatedAt to the given instant (UTC).
func (e *Entity) TouchAt(t time.Time) {
	e.UpdatedAt = t.UTC()
}
