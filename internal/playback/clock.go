package playback

import "time"

// WallClock is a Clock backed by the monotonic system clock, measured from
// its creation.
type WallClock struct {
	start time.Time
}

// NewWallClock creates a WallClock whose timeline starts at zero now.
func NewWallClock() *WallClock {
	return &WallClock{start: time.Now()}
}

// Now returns the elapsed time since the clock was created.
func (c *WallClock) Now() time.Duration {
	return time.Since(c.start)
}
