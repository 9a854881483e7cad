// Package queue implements the panel request queue: fire-and-forget
// submissions evaluated by a periodic tick that drives delivery, timeout
// alerts and resubmission of repeating requests.
package queue

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/st-keller/ultrasync/standard"
	"github.com/st-keller/ultrasync/transport"
	"github.com/st-keller/ultrasync/update"
)

// ConnectionLostMessage is the alert raised when a non-callback request times out.
const ConnectionLostMessage = "Command failed.\nConnection to Panel was lost."

// Options configures a Scheduler. BaseURL and Session are required.
type Options struct {
	BaseURL      string        // e.g. "http://zerowire"; request URLs are paths under it
	Session      func() string // current session token, read on every submission
	Surface      Surface
	Renderer     Renderer
	Logs         *standard.RecentLogs
	Connectivity *standard.ConnectivityTracker
	Timeout      time.Duration    // default update.Timeout
	TickInterval time.Duration    // default update.Tick
	Now          func() time.Time // default time.Now
}

// Scheduler owns the set of in-flight requests. Submit may be called from
// any goroutine, including from handlers running inside Tick.
type Scheduler struct {
	transport    transport.Transport
	baseURL      string
	session      func() string
	surface      Surface
	renderer     Renderer
	logs         *standard.RecentLogs
	connectivity *standard.ConnectivityTracker
	timeout      time.Duration
	now          func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	task   *update.Task

	mu      sync.Mutex
	queue   []*Request
	stopped bool
}

// New creates a stopped Scheduler.
func New(tr transport.Transport, opts Options) (*Scheduler, error) {
	if tr == nil {
		return nil, fmt.Errorf("transport required")
	}
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("BaseURL required")
	}
	if opts.Session == nil {
		return nil, fmt.Errorf("Session required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = update.Timeout.Duration()
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = update.Tick.Duration()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logs == nil {
		opts.Logs = standard.NewRecentLogs(100, nil)
	}
	if opts.Connectivity == nil {
		opts.Connectivity = standard.NewConnectivityTracker()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		transport:    tr,
		baseURL:      strings.TrimRight(opts.BaseURL, "/"),
		session:      opts.Session,
		surface:      opts.Surface,
		renderer:     opts.Renderer,
		logs:         opts.Logs,
		connectivity: opts.Connectivity,
		timeout:      opts.Timeout,
		now:          opts.Now,
		ctx:          ctx,
		cancel:       cancel,
	}
	s.task = update.NewTask(opts.TickInterval, func() {
		s.Tick()
		s.task.Rearm()
	})
	return s, nil
}

// Start begins ticking. The first tick runs one interval from now.
func (s *Scheduler) Start() {
	s.task.Start()
}

// Stop halts ticking, aborts every in-flight exchange and empties the queue.
// Submissions after Stop are dropped.
func (s *Scheduler) Stop() {
	s.task.Stop()

	s.mu.Lock()
	pending := s.queue
	s.queue = nil
	s.stopped = true
	s.mu.Unlock()

	for _, req := range pending {
		req.release()
	}
	s.cancel()
}

// Done is closed once the scheduler has been stopped.
func (s *Scheduler) Done() <-chan struct{} {
	return s.task.Done()
}

// Submit sends a request and queues it for evaluation. It never blocks on the
// network. The session credential is always sent as the first body field.
// It returns the request ID, or "" if the scheduler is stopped.
func (s *Scheduler) Submit(url string, h Handler, repeat bool, payload string) string {
	body := "sess=" + s.session()
	if payload != "" {
		body += "&" + payload
	}

	req := &Request{
		ID:      uuid.Must(uuid.NewV7()).String(),
		URL:     url,
		Payload: payload,
		Handler: h,
		Repeat:  repeat,
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ""
	}
	req.exchange = s.transport.Open(s.ctx, "", s.baseURL+url, body)
	req.IssuedAt = s.now()
	s.queue = append(s.queue, req)
	s.mu.Unlock()

	s.logs.Debug("request submitted", map[string]interface{}{
		"id":      req.ID,
		"url":     url,
		"handler": h.Kind().String(),
		"repeat":  repeat,
	})
	return req.ID
}

// Len returns the number of queued requests.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// URLs returns the URLs of the queued requests in queue order.
func (s *Scheduler) URLs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.queue))
	for i, req := range s.queue {
		out[i] = req.URL
	}
	return out
}

// Tick evaluates every request present when it starts, exactly once, front to
// back, against a single snapshot of the clock. Requests submitted or
// requeued during the tick join the tail and wait for the next tick.
func (s *Scheduler) Tick() {
	now := s.now()

	s.mu.Lock()
	count := len(s.queue)
	s.mu.Unlock()

	for ; count > 0; count-- {
		req := s.popFront()
		if req == nil {
			return
		}

		switch d := Classify(req.exchange, req.IssuedAt, now, s.timeout); d {
		case Success:
			body := req.exchange.Body()
			s.track(req, standard.OutcomeSuccess, now, "")
			req.release()
			s.deliver(req, body)
			s.resubmit(req)

		case SoftAuthFailure, HardAuthFailure:
			status := req.exchange.Status()
			s.track(req, standard.OutcomeAuth, now, fmt.Sprintf("status %d (%s)", status, d))
			req.release()
			s.logs.Warn("panel session rejected request", map[string]interface{}{
				"id":          req.ID,
				"url":         req.URL,
				"status":      status,
				"disposition": d.String(),
			})
			if s.surface != nil {
				s.surface.RedirectToLogin(d.String())
			}

		case TimedOut:
			s.track(req, standard.OutcomeTimeout, now, fmt.Sprintf("no response after %s", s.timeout))
			req.release()
			s.expire(req)
			s.resubmit(req)

		default:
			s.pushBack(req)
		}
	}
}

func (s *Scheduler) popFront() *Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return nil
	}
	req := s.queue[0]
	s.queue[0] = nil
	s.queue = s.queue[1:]
	return req
}

func (s *Scheduler) pushBack(req *Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		req.release()
		return
	}
	s.queue = append(s.queue, req)
}

func (s *Scheduler) resubmit(req *Request) {
	if req.Repeat {
		s.Submit(req.URL, req.Handler, req.Repeat, req.Payload)
	}
}

// deliver hands a successful body to the request's handler.
func (s *Scheduler) deliver(req *Request, body string) {
	switch req.Handler.Kind() {
	case KindCallback:
		s.invoke(req, body, true)
	case KindRender:
		if s.renderer != nil {
			s.renderer.Render(req.Handler.Target(), body)
		}
	}
}

// expire reports a timeout: callbacks get the absent value, everything else
// alerts the user and returns to the login page.
func (s *Scheduler) expire(req *Request) {
	if req.Handler.Kind() == KindCallback {
		s.invoke(req, "", false)
		return
	}
	s.logs.Warn("panel request timed out", map[string]interface{}{
		"id":  req.ID,
		"url": req.URL,
	})
	if s.surface != nil {
		s.surface.Alert(ConnectionLostMessage)
		s.surface.RedirectToLogin("timeout")
	}
}

// invoke calls a callback handler. A panicking handler is logged and the
// tick carries on with the rest of the queue.
func (s *Scheduler) invoke(req *Request, body string, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logs.ErrorNoTrigger("response handler failed", map[string]interface{}{
				"id":    req.ID,
				"url":   req.URL,
				"panic": fmt.Sprint(r),
			})
		}
	}()
	req.Handler.Call(body, ok)
}

// track records the exchange's latency. Finished exchanges that know their
// finish time are measured to it; otherwise the tick time is used.
func (s *Scheduler) track(req *Request, outcome standard.Outcome, now time.Time, detail string) {
	end := now
	if outcome != standard.OutcomeTimeout {
		if t, ok := req.exchange.(transport.Timed); ok {
			if at := t.FinishedAt(); !at.IsZero() {
				end = at
			}
		}
	}
	latency := end.Sub(req.IssuedAt)
	if latency < 0 {
		latency = 0
	}
	s.connectivity.Track(req.URL, outcome, latency, detail)
}
