package query

import "time"

// Clock is the time source used for staleness checks and completion stamps.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }
