package capture

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// Clock is the time source of a sampling loop. Deadlines are checked against
// Now on every iteration and After paces the loop between samples.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// RealClock is the wall clock.
func RealClock() Clock {
	return clockwork.NewRealClock()
}
