// Package clock provides the wall clock used outside of tests.
package clock

import "time"

// System reads the current UTC time.
type System struct{}

// Now returns time.Now in UTC.
func (System) Now() time.Time {
	return time.Now().UTC()
}
