package update

import (
	"sync"
	"time"
)

// Task runs fn after interval, once per Rearm. The next run is only
// scheduled when the owner calls Rearm, so a slow round can never overlap
// the following one.
type Task struct {
	interval time.Duration
	fn       func()

	mu      sync.Mutex
	timer   *time.Timer
	started bool
	stopped bool
	runs    int
	done    chan struct{}
}

// NewTask creates a stopped task. interval must be > 0.
func NewTask(interval time.Duration, fn func()) *Task {
	if interval <= 0 {
		panic("update.NewTask: interval must be > 0")
	}
	if fn == nil {
		panic("update.NewTask: fn required")
	}
	return &Task{
		interval: interval,
		fn:       fn,
		done:     make(chan struct{}),
	}
}

// Start schedules the first run after one interval. Calling Start twice is a no-op.
func (t *Task) Start() {
	t.start(t.interval)
}

// StartNow schedules the first run immediately.
func (t *Task) StartNow() {
	t.start(0)
}

func (t *Task) start(delay time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.started || t.stopped {
		return
	}
	t.started = true
	t.timer = time.AfterFunc(delay, t.fire)
}

// Rearm schedules the next run one interval from now.
// It is a no-op once the task has been stopped.
func (t *Task) Rearm() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped || !t.started {
		return
	}
	if t.timer == nil {
		t.timer = time.AfterFunc(t.interval, t.fire)
		return
	}
	t.timer.Reset(t.interval)
}

// fire is called from the timer goroutine.
func (t *Task) fire() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.runs++
	t.mu.Unlock()

	t.fn()
}

// Stop cancels any pending run. A run already in progress completes,
// but its Rearm will not schedule another one.
func (t *Task) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped {
		return
	}
	t.stopped = true
	if t.timer != nil {
		t.timer.Stop()
	}
	close(t.done)
}

// Done is closed when the task is stopped.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Runs returns how many times fn has been started.
func (t *Task) Runs() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.runs
}
