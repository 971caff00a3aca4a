package models

type PositionKind string

const (
	KindEvent      PositionKind = "event"
	KindPrice      PositionKind = "price"
	KindPrediction PositionKind = "prediction"
)

type Direction string

const (
	DirectionYes   Direction = "yes"
	DirectionNo    Direction = "no"
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
)

// Sign returns +1 for long exposure and -1 for short exposure.
func (d Direction) Sign() int64 {
	if d == DirectionShort {
		return -1
	}
	return 1
}

// Status is the position lifecycle state. A position is created as pending,
// promoted to open once the placement is durable, and leaves open/pending
// exactly once into one of the terminal states.
type Status string

const (
	StatusPending   Status = "pending"
	StatusOpen      Status = "open"
	StatusWon       Status = "won"
	StatusLost      Status = "lost"
	StatusClosed    Status = "closed"
	StatusCancelled Status = "cancelled"
)

func (s Status) IsTerminal() bool {
	switch s {
	case StatusWon, StatusLost, StatusClosed, StatusCancelled:
		return true
	}
	return false
}

// Settleable reports whether the position may still be settled or cancelled.
func (s Status) Settleable() bool {
	return s == StatusPending || s == StatusOpen
}

// CanTransitionTo reports whether moving from s to next is a legal lifecycle step.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusOpen || next.IsTerminal()
	case StatusOpen:
		return next.IsTerminal()
	}
	return false
}

// Position is the common view over the position kinds, used by the
// settlement guard and metrics labels.
type Position interface {
	Kind() PositionKind
	CurrentStatus() Status
}
