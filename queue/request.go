package queue

import (
	"fmt"
	"net/http"
	"time"

	"github.com/st-keller/ultrasync/transport"
	"github.com/st-keller/ultrasync/xmlvalue"
)

// Request is one queued exchange with the panel. It owns its exchange
// exclusively; the exchange is released when the request completes.
type Request struct {
	ID       string
	URL      string
	Payload  string
	Handler  Handler
	Repeat   bool
	IssuedAt time.Time

	exchange transport.Exchange
}

// Disposition is the result of evaluating a request on a tick.
type Disposition int

const (
	Pending Disposition = iota
	Success
	SoftAuthFailure // status 200 with the login page as body
	HardAuthFailure // status in the reserved set
	TimedOut
)

// String returns string representation.
func (d Disposition) String() string {
	switch d {
	case Pending:
		return "pending"
	case Success:
		return "success"
	case SoftAuthFailure:
		return "soft-auth-failure"
	case HardAuthFailure:
		return "hard-auth-failure"
	case TimedOut:
		return "timeout"
	default:
		return fmt.Sprintf("Disposition(%d)", int(d))
	}
}

// authFailureStatus is the reserved set of statuses the panel uses when the
// session is not valid.
var authFailureStatus = map[int]bool{
	http.StatusForbidden: true,
	http.StatusFound:     true,
	http.StatusNotFound:  true,
}

// Classify decides what to do with an exchange issued at issuedAt, as of now.
// A finished exchange with any other status stays pending until the deadline.
func Classify(ex transport.Exchange, issuedAt, now time.Time, timeout time.Duration) Disposition {
	if ex.Done() {
		status := ex.Status()
		if status == http.StatusOK {
			if xmlvalue.IsSentinel(ex.Body()) {
				return SoftAuthFailure
			}
			return Success
		}
		if authFailureStatus[status] {
			return HardAuthFailure
		}
	}
	if now.Sub(issuedAt) > timeout {
		return TimedOut
	}
	return Pending
}

// release aborts and drops the exchange.
func (r *Request) release() {
	if r.exchange != nil {
		r.exchange.Abort()
		r.exchange = nil
	}
}
