package throttle

import "time"

// Clock abstracts wall-clock time so day boundaries and cooldowns can be
// simulated deterministically in tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns a Clock backed by time.Now.
func SystemClock() Clock { return systemClock{} }
