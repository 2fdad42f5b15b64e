// Package system is the wall-clock implementation of queue.Clock.
// Everything that stamps scrape_updated or measures batch throughput
// takes a queue.Clock so tests can freeze time; the commands inject
// this one.
package system

import "time"

// Clock reads the system clock in UTC, matching the timezone the queue
// tables store.
type Clock struct{}

// New returns a Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current UTC time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
