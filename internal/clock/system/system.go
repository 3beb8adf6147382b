// Package system provides the wall clock used to stamp page records.
package system

import "time"

// Clock implements crawler.Clock using time.Now.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current UTC time truncated to whole seconds, the
// resolution of record timestamps.
func (Clock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}
