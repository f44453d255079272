package domain

import "time"

// Clock provides the current time. Credential pairs are stamped with it and
// refresh latency is measured with it, so tests can inject a fake.
type Clock interface {
	Now() time.Time
}

// RealClock implements Clock using the system clock.
type RealClock struct{}

// Now returns time.Now().
func (RealClock) Now() time.Time {
	return time.Now()
}

// Since returns the time elapsed since t according to c.
func Since(c Clock, t time.Time) time.Duration {
	return c.Now().Sub(t)
}

var _ Clock = RealClock{}
