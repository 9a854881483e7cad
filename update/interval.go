// Package update defines the panel polling intervals and the cancellable
// task that drives them.
package update

import (
	"fmt"
	"time"
)

// Interval is a named polling period used by the client.
type Interval int

const (
	Tick     Interval = iota + 1 // queue evaluation (300ms)
	Sequence                     // sequence vector diff round (5500ms)
	Timeout                      // request deadline (5000ms)
)

// Duration returns the interval as a time.Duration. Panics on invalid value.
func (i Interval) Duration() time.Duration {
	switch i {
	case Tick:
		return 300 * time.Millisecond
	case Sequence:
		return 5500 * time.Millisecond
	case Timeout:
		return 5000 * time.Millisecond
	default:
		panic(fmt.Sprintf("invalid update.Interval: %d (must be Tick/Sequence/Timeout)", i))
	}
}

// String returns string representation.
func (i Interval) String() string {
	switch i {
	case Tick:
		return "Tick(300ms)"
	case Sequence:
		return "Sequence(5500ms)"
	case Timeout:
		return "Timeout(5000ms)"
	default:
		return fmt.Sprintf("Invalid(%d)", i)
	}
}
