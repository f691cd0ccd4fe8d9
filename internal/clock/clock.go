// Package clock abstracts wall-clock reads so schedule calculations and
// firing decisions can be pinned in tests.
package clock

import "time"

type Clock interface {
	Now() time.Time
}

// System reads the real wall clock.
func System() Clock { return systemClock{} }

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Fixed always returns t. Test helper.
func Fixed(t time.Time) Clock { return fixedClock{t} }

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }
