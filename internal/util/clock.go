package util

import "time"

// Clock provides the current time. The engine derives decisions from sample
// timestamps; a Clock is consulted only as the fallback when a sample carries
// no parseable time.
type Clock interface {
	Now() time.Time
}

// WallClock is the real time Clock.
var WallClock Clock = wallClock{}

type wallClock struct{}

func (wallClock) Now() time.Time {
	return time.Now()
}
