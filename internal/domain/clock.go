package domain

import "time"

// Clock provides the current time. Token minting in tests and expiry hints
// in the CLI take a Clock so time can be controlled.
type Clock interface {
	Now() time.Time
}

// RealClock implements Clock using the system clock.
type RealClock struct{}

// Now returns time.Now().
func (RealClock) Now() time.Time {
	return time.Now()
}

// Expired reports whether exp is set and not after the clock's current time.
// A zero exp means the token carries no expiry claim.
func Expired(c Clock, exp time.Time) bool {
	if exp.IsZero() {
		return false
	}
	return !c.Now().Before(exp)
}

var _ Clock = RealClock{}
