package jitter

import (
	"sync/atomic"
	"time"
)

// TimeDiff stores the published alignment offset of one consumer.
// Zero microseconds means unset, so a true zero offset is stored as 1µs.
type TimeDiff struct {
	us atomic.Int64
}

// Set stores the offset between the sender timeline and the local clock.
func (d *TimeDiff) Set(diff time.Duration) {
	us := diff.Microseconds()
	if us == 0 {
		us = 1
	}
	d.us.Store(us)
}

// Get returns the offset and false when no offset is available.
func (d *TimeDiff) Get() (time.Duration, bool) {
	us := d.us.Load()
	if us == 0 {
		return 0, false
	}
	return time.Duration(us) * time.Microsecond, true
}

// Reset marks the offset as unavailable.
func (d *TimeDiff) Reset() {
	d.us.Store(0)
}
