// Package seqsync keeps the registry in step with the panel by diffing
// sequence vectors: each loop fetches /user/seq.xml, and only banks whose
// sequence number moved are fetched in full.
package seqsync

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/st-keller/ultrasync/queue"
	"github.com/st-keller/ultrasync/registry"
	"github.com/st-keller/ultrasync/standard"
	"github.com/st-keller/ultrasync/update"
	"github.com/st-keller/ultrasync/xmlvalue"
)

// Panel endpoints used by the loops.
const (
	SequencePath  = "/user/seq.xml"
	AreaStatePath = "/user/status.xml"
	ZoneStatePath = "/user/zstate.xml"
)

// Submitter queues a panel request. *queue.Scheduler implements it.
type Submitter interface {
	Submit(url string, h queue.Handler, repeat bool, payload string) string
}

// Options configures a Controller.
type Options struct {
	Interval time.Duration // default update.Sequence
	Logs     *standard.RecentLogs
}

// Controller runs the area and zone loops.
type Controller struct {
	areas *Loop
	zones *Loop
}

// New creates a stopped Controller for both kinds.
func New(sub Submitter, reg *registry.Registry, opts Options) *Controller {
	return &Controller{
		areas: NewLoop(registry.Areas, sub, reg, opts),
		zones: NewLoop(registry.Zones, sub, reg, opts),
	}
}

// Start begins both loops with an immediate round.
func (c *Controller) Start() {
	c.areas.Start()
	c.zones.Start()
}

// Stop halts both loops.
func (c *Controller) Stop() {
	c.areas.Stop()
	c.zones.Stop()
}

// Restart abandons any round in flight and starts both loops afresh.
func (c *Controller) Restart() {
	c.areas.Restart()
	c.zones.Restart()
}

// CheckNow runs an extra sequence check for kind without touching the schedule.
func (c *Controller) CheckNow(kind registry.Kind) {
	c.Loop(kind).CheckNow()
}

// Loop returns the loop for kind.
func (c *Controller) Loop(kind registry.Kind) *Loop {
	if kind == registry.Zones {
		return c.zones
	}
	return c.areas
}

// Loop is one sequence diff loop. A round is one seq.xml request; the next
// round is scheduled one interval after the previous one is answered or
// timed out.
type Loop struct {
	kind     registry.Kind
	sub      Submitter
	reg      *registry.Registry
	logs     *standard.RecentLogs
	interval time.Duration

	mu         sync.Mutex
	task       *update.Task
	generation uint64
	rounds     int
}

// NewLoop creates a stopped loop for kind.
func NewLoop(kind registry.Kind, sub Submitter, reg *registry.Registry, opts Options) *Loop {
	if opts.Interval <= 0 {
		opts.Interval = update.Sequence.Duration()
	}
	if opts.Logs == nil {
		opts.Logs = standard.NewRecentLogs(100, nil)
	}
	return &Loop{
		kind:     kind,
		sub:      sub,
		reg:      reg,
		logs:     opts.Logs,
		interval: opts.Interval,
	}
}

// Start runs the first round immediately. No-op if already running.
func (l *Loop) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.task != nil {
		return
	}
	l.startLocked()
}

// Stop halts the loop. A round in flight completes but does not reschedule.
func (l *Loop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.task == nil {
		return
	}
	l.task.Stop()
	l.task = nil
	l.generation++
}

// Restart stops the loop and starts a new generation. Rounds of earlier
// generations no longer reschedule.
func (l *Loop) Restart() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.task != nil {
		l.task.Stop()
	}
	l.generation++
	l.startLocked()
}

func (l *Loop) startLocked() {
	gen := l.generation
	l.task = update.NewTask(l.interval, func() { l.round(gen) })
	l.task.StartNow()
}

// Rounds returns how many rounds have been started.
func (l *Loop) Rounds() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rounds
}

// CheckNow submits one sequence request outside the schedule.
func (l *Loop) CheckNow() {
	l.sub.Submit(SequencePath, queue.Callback(func(body string, ok bool) {
		if ok {
			l.Diff(body)
		}
	}), false, "")
}

func (l *Loop) round(gen uint64) {
	l.mu.Lock()
	if gen != l.generation {
		l.mu.Unlock()
		return
	}
	l.rounds++
	l.mu.Unlock()

	l.sub.Submit(SequencePath, queue.Callback(func(body string, ok bool) {
		if ok {
			l.Diff(body)
		}
		l.rearm(gen)
	}), false, "")
}

func (l *Loop) rearm(gen uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if gen != l.generation || l.task == nil {
		return
	}
	l.task.Rearm()
}

// Diff compares the sequence vector in body with the registry and submits
// a full-state request for every bank that moved. It returns those banks.
func (l *Loop) Diff(body string) []int {
	var stale []int
	for bank, field := range xmlvalue.List(body, l.kind.String(), ",") {
		if bank >= registry.MaxBanks {
			break
		}
		remote, err := strconv.Atoi(strings.TrimSpace(field))
		if err != nil {
			continue
		}
		if !l.reg.Stale(l.kind, bank, remote) {
			continue
		}
		stale = append(stale, bank)
		l.fetch(bank)
	}
	if len(stale) > 0 {
		l.logs.Debug("sequence moved", map[string]interface{}{
			"kind":  l.kind.String(),
			"banks": stale,
		})
	}
	return stale
}

func (l *Loop) fetch(bank int) {
	switch l.kind {
	case registry.Areas:
		l.sub.Submit(AreaStatePath, queue.Callback(l.applyArea), false, "arsel="+strconv.Itoa(bank))
	case registry.Zones:
		l.sub.Submit(ZoneStatePath, queue.Callback(l.applyZone), false, "state="+strconv.Itoa(bank))
	}
}

func (l *Loop) applyArea(body string, ok bool) {
	if !ok {
		return
	}
	if _, err := ApplyArea(l.reg, body); err != nil {
		l.logs.Warn("discarding area state", map[string]interface{}{"error": err.Error()})
	}
}

func (l *Loop) applyZone(body string, ok bool) {
	if !ok {
		return
	}
	if _, err := ApplyZone(l.reg, body); err != nil {
		l.logs.Warn("discarding zone state", map[string]interface{}{"error": err.Error()})
	}
}

// ApplyArea stores an area full-state response (status.xml or a
// keyfunction.cgi reply) and returns its bank.
func ApplyArea(reg *registry.Registry, body string) (int, error) {
	bank, err := strconv.Atoi(xmlvalue.Extract(body, "abank"))
	if err != nil {
		return 0, fmt.Errorf("invalid abank: %w", err)
	}
	seq, err := strconv.Atoi(xmlvalue.Extract(body, "aseq"))
	if err != nil {
		return 0, fmt.Errorf("invalid aseq for bank %d: %w", bank, err)
	}

	values := make([]string, registry.AreaBankWidth)
	for i := range values {
		values[i] = xmlvalue.Extract(body, "stat"+strconv.Itoa(i))
	}
	if err := reg.PutArea(bank, seq, values); err != nil {
		return 0, err
	}
	reg.SetSystemFaults(xmlvalue.List(body, "sysflt", "\r\n"))
	return bank, nil
}

// ApplyZone stores a zone full-state response (zstate.xml or a
// zonefunction.cgi reply) and returns its bank.
func ApplyZone(reg *registry.Registry, body string) (int, error) {
	bank, err := strconv.Atoi(xmlvalue.Extract(body, "zstate"))
	if err != nil {
		return 0, fmt.Errorf("invalid zstate: %w", err)
	}
	seq, err := strconv.Atoi(xmlvalue.Extract(body, "zseq"))
	if err != nil {
		return 0, fmt.Errorf("invalid zseq for bank %d: %w", bank, err)
	}
	if err := reg.PutZone(bank, seq, xmlvalue.List(body, "zdat", ",")); err != nil {
		return 0, err
	}
	return bank, nil
}
