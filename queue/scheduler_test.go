package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/st-keller/ultrasync/standard"
	"github.com/st-keller/ultrasync/transport"
)

type fakeExchange struct {
	mu      sync.Mutex
	url     string
	body    string
	done    bool
	status  int
	resp    string
	aborted bool
}

func (e *fakeExchange) Done() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.done
}

func (e *fakeExchange) Status() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

func (e *fakeExchange) Body() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.resp
}

func (e *fakeExchange) Abort() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.aborted = true
}

func (e *fakeExchange) finish(status int, body string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.done = true
	e.status = status
	e.resp = body
}

type fakeTransport struct {
	mu     sync.Mutex
	opened []*fakeExchange
}

func (t *fakeTransport) Open(_ context.Context, _, url, body string) transport.Exchange {
	t.mu.Lock()
	defer t.mu.Unlock()
	ex := &fakeExchange{url: url, body: body}
	t.opened = append(t.opened, ex)
	return ex
}

func (t *fakeTransport) exchange(i int) *fakeExchange {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.opened[i]
}

func (t *fakeTransport) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.opened)
}

type fakeSurface struct {
	mu        sync.Mutex
	alerts    []string
	redirects []string
}

func (s *fakeSurface) Alert(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, message)
}

func (s *fakeSurface) RedirectToLogin(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.redirects = append(s.redirects, reason)
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	sched    *Scheduler
	tr       *fakeTransport
	surface  *fakeSurface
	clock    *clock
	rendered map[string]string
	logs     *standard.RecentLogs
	conn     *standard.ConnectivityTracker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		tr:       &fakeTransport{},
		surface:  &fakeSurface{},
		clock:    &clock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)},
		rendered: map[string]string{},
		logs:     standard.NewRecentLogs(50, nil),
		conn:     standard.NewConnectivityTracker(),
	}
	sched, err := New(f.tr, Options{
		BaseURL:      "http://panel/",
		Session:      func() string { return "ABC" },
		Surface:      f.surface,
		Renderer:     RendererFunc(func(target, body string) { f.rendered[target] = body }),
		Logs:         f.logs,
		Connectivity: f.conn,
		Now:          f.clock.Now,
	})
	require.NoError(t, err)
	f.sched = sched
	return f
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, Options{BaseURL: "http://x", Session: func() string { return "" }})
	assert.Error(t, err)

	_, err = New(&fakeTransport{}, Options{Session: func() string { return "" }})
	assert.Error(t, err)

	_, err = New(&fakeTransport{}, Options{BaseURL: "http://x"})
	assert.Error(t, err)
}

func TestSubmit_BodyCarriesSession(t *testing.T) {
	f := newFixture(t)

	id := f.sched.Submit("/user/seq.xml", Discard(), false, "")
	f.sched.Submit("/user/status.xml", Discard(), false, "arsel=0")

	assert.NotEmpty(t, id)
	require.Equal(t, 2, f.tr.count())
	assert.Equal(t, "http://panel/user/seq.xml", f.tr.exchange(0).url)
	assert.Equal(t, "sess=ABC", f.tr.exchange(0).body)
	assert.Equal(t, "sess=ABC&arsel=0", f.tr.exchange(1).body)
	assert.Equal(t, []string{"/user/seq.xml", "/user/status.xml"}, f.sched.URLs())
}

func TestTick_SuccessDeliversToCallback(t *testing.T) {
	f := newFixture(t)

	var got string
	var gotOK bool
	f.sched.Submit("/user/seq.xml", Callback(func(body string, ok bool) {
		got, gotOK = body, ok
	}), false, "")
	f.tr.exchange(0).finish(200, "<areas>1,2</areas>")

	f.sched.Tick()

	assert.Equal(t, "<areas>1,2</areas>", got)
	assert.True(t, gotOK)
	assert.Equal(t, 0, f.sched.Len())
	assert.True(t, f.tr.exchange(0).aborted, "exchange released")
}

func TestHandlerKinds(t *testing.T) {
	h := RenderTarget("main")
	assert.Equal(t, KindRender, h.Kind())
	assert.Equal(t, "main", h.Target())

	assert.Equal(t, KindDiscard, Callback(nil).Kind())
	assert.Equal(t, "", Discard().Target())
	assert.Equal(t, KindDiscard, Handler{}.Kind())
}

func TestTick_SuccessRendersTarget(t *testing.T) {
	f := newFixture(t)

	f.sched.Submit("/user/areas.htm", RenderTarget("main"), false, "")
	f.tr.exchange(0).finish(200, "<table/>")

	f.sched.Tick()

	assert.Equal(t, "<table/>", f.rendered["main"])
}

func TestTick_SoftAuthFailureRedirectsWithoutHandler(t *testing.T) {
	f := newFixture(t)

	called := false
	f.sched.Submit("/user/seq.xml", Callback(func(string, bool) { called = true }), true, "")
	f.tr.exchange(0).finish(200, "<!doctype html><html>login</html>")

	f.sched.Tick()

	assert.False(t, called)
	assert.Equal(t, []string{"soft-auth-failure"}, f.surface.redirects)
	assert.Equal(t, 0, f.sched.Len(), "auth failures are not resubmitted")
	assert.Equal(t, 1, f.tr.count())
}

func TestTick_HardAuthFailureStatuses(t *testing.T) {
	for _, status := range []int{403, 302, 404} {
		f := newFixture(t)
		called := false
		f.sched.Submit("/user/seq.xml", Callback(func(string, bool) { called = true }), true, "")
		f.tr.exchange(0).finish(status, "")

		f.sched.Tick()

		assert.False(t, called, "status %d", status)
		assert.Equal(t, []string{"hard-auth-failure"}, f.surface.redirects, "status %d", status)
		assert.Equal(t, 0, f.sched.Len(), "status %d", status)
	}
}

func TestTick_OtherStatusStaysPendingUntilTimeout(t *testing.T) {
	f := newFixture(t)

	var calls []bool
	f.sched.Submit("/user/seq.xml", Callback(func(_ string, ok bool) { calls = append(calls, ok) }), false, "")
	f.tr.exchange(0).finish(500, "oops")

	f.sched.Tick()
	assert.Empty(t, calls)
	assert.Equal(t, 1, f.sched.Len())

	f.clock.Advance(5001 * time.Millisecond)
	f.sched.Tick()
	assert.Equal(t, []bool{false}, calls)
	assert.Equal(t, 0, f.sched.Len())
}

func TestTick_TimeoutBoundaryIsExclusive(t *testing.T) {
	f := newFixture(t)

	f.sched.Submit("/user/seq.xml", Discard(), false, "")
	f.clock.Advance(5000 * time.Millisecond)
	f.sched.Tick()
	assert.Equal(t, 1, f.sched.Len())
	assert.Empty(t, f.surface.alerts)

	f.clock.Advance(time.Millisecond)
	f.sched.Tick()
	assert.Equal(t, 0, f.sched.Len())
}

func TestTick_TimeoutWithoutCallbackAlerts(t *testing.T) {
	f := newFixture(t)

	f.sched.Submit("/user/keyfunction.cgi", Discard(), false, "comm=80")
	f.clock.Advance(6 * time.Second)
	f.sched.Tick()

	assert.Equal(t, []string{ConnectionLostMessage}, f.surface.alerts)
	assert.Equal(t, []string{"timeout"}, f.surface.redirects)
	assert.True(t, f.tr.exchange(0).aborted)
}

func TestTick_TimeoutWithCallbackDeliversAbsent(t *testing.T) {
	f := newFixture(t)

	var gotBody = "unset"
	var gotOK = true
	f.sched.Submit("/user/seq.xml", Callback(func(body string, ok bool) { gotBody, gotOK = body, ok }), false, "")
	f.clock.Advance(6 * time.Second)
	f.sched.Tick()

	assert.Equal(t, "", gotBody)
	assert.False(t, gotOK)
	assert.Empty(t, f.surface.alerts)
}

func TestTick_RepeatResubmitsWithPayload(t *testing.T) {
	f := newFixture(t)

	f.sched.Submit("/user/status.xml", Discard(), true, "arsel=1")
	f.tr.exchange(0).finish(200, "<abank>1</abank>")

	f.sched.Tick()

	require.Equal(t, 2, f.tr.count())
	assert.Equal(t, "sess=ABC&arsel=1", f.tr.exchange(1).body)
	assert.Equal(t, 1, f.sched.Len())

	f.clock.Advance(6 * time.Second)
	f.sched.Tick()
	assert.Equal(t, 3, f.tr.count(), "timed-out repeating request is resubmitted")
}

func TestTick_DrainsOriginalCountOnly(t *testing.T) {
	f := newFixture(t)

	// Each completion submits a follow-up; the follow-ups wait for the next tick.
	evaluated := 0
	var handler Handler
	handler = Callback(func(string, bool) {
		evaluated++
		f.sched.Submit("/user/status.xml", handler, false, "")
	})
	f.sched.Submit("/user/seq.xml", handler, false, "")
	f.sched.Submit("/user/seq.xml", handler, false, "")
	f.sched.Submit("/user/seq.xml", Discard(), false, "")
	f.tr.exchange(0).finish(200, "a")
	f.tr.exchange(1).finish(200, "b")

	f.sched.Tick()

	assert.Equal(t, 2, evaluated)
	assert.Equal(t, []string{"/user/status.xml", "/user/status.xml", "/user/seq.xml"}, f.sched.URLs())
}

func TestTick_PendingKeepsRelativeOrder(t *testing.T) {
	f := newFixture(t)

	f.sched.Submit("/a", Discard(), false, "")
	f.sched.Submit("/b", Discard(), false, "")
	f.sched.Submit("/c", Discard(), false, "")
	f.tr.exchange(1).finish(200, "")

	f.sched.Tick()

	assert.Equal(t, []string{"/a", "/c"}, f.sched.URLs())
}

func TestTick_SingleClockSnapshot(t *testing.T) {
	f := newFixture(t)

	f.sched.Submit("/a", Callback(func(string, bool) {
		// Time moving during the tick must not time out later requests.
		f.clock.Advance(10 * time.Second)
	}), false, "")
	f.sched.Submit("/b", Discard(), false, "")
	f.tr.exchange(0).finish(200, "")

	f.sched.Tick()

	assert.Equal(t, []string{"/b"}, f.sched.URLs())
	assert.Empty(t, f.surface.alerts)
}

func TestTick_PanickingHandlerIsContained(t *testing.T) {
	f := newFixture(t)

	f.sched.Submit("/a", Callback(func(string, bool) { panic("boom") }), false, "")
	second := false
	f.sched.Submit("/b", Callback(func(string, bool) { second = true }), false, "")
	f.tr.exchange(0).finish(200, "")
	f.tr.exchange(1).finish(200, "")

	assert.NotPanics(t, f.sched.Tick)
	assert.True(t, second)

	var found bool
	for _, e := range f.logs.Entries() {
		if e.Message == "response handler failed" {
			found = true
			assert.Equal(t, "boom", e.Context["panic"])
		}
	}
	assert.True(t, found)
}

func TestTick_TracksConnectivity(t *testing.T) {
	f := newFixture(t)

	f.sched.Submit("/user/seq.xml", Discard(), false, "")
	f.sched.Submit("/user/seq.xml", Discard(), false, "")
	f.tr.exchange(0).finish(200, "")
	f.tr.exchange(1).finish(403, "")

	f.sched.Tick()

	stats := f.conn.Stats()
	require.Len(t, stats, 1)
	assert.Equal(t, 2, stats[0].Total)
	assert.Equal(t, 1, stats[0].AuthErrors)
}

type timedTransport struct {
	fakeTransport
	finishAfter time.Duration
	clock       *clock
}

type timedExchange struct {
	*fakeExchange
	at time.Time
}

func (e timedExchange) FinishedAt() time.Time { return e.at }

func (t *timedTransport) Open(ctx context.Context, method, url, body string) transport.Exchange {
	ex := t.fakeTransport.Open(ctx, method, url, body).(*fakeExchange)
	return timedExchange{fakeExchange: ex, at: t.clock.Now().Add(t.finishAfter)}
}

func TestTick_LatencyUsesFinishTime(t *testing.T) {
	clk := &clock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	tr := &timedTransport{finishAfter: 42 * time.Millisecond, clock: clk}
	conn := standard.NewConnectivityTracker()
	sched, err := New(tr, Options{
		BaseURL:      "http://panel",
		Session:      func() string { return "S" },
		Connectivity: conn,
		Now:          clk.Now,
	})
	require.NoError(t, err)

	sched.Submit("/user/seq.xml", Discard(), false, "")
	tr.exchange(0).finish(200, "")
	clk.Advance(300 * time.Millisecond)
	sched.Tick()

	stats := conn.Stats()
	require.Len(t, stats, 1)
	assert.Equal(t, 42, stats[0].LatencyMS["p50"])
}

func TestStop_AbortsAndDropsSubmissions(t *testing.T) {
	f := newFixture(t)

	f.sched.Submit("/a", Discard(), true, "")
	f.sched.Start()
	f.sched.Stop()

	assert.True(t, f.tr.exchange(0).aborted)
	assert.Equal(t, 0, f.sched.Len())
	assert.Equal(t, "", f.sched.Submit("/b", Discard(), false, ""))
	assert.Equal(t, 1, f.tr.count())

	select {
	case <-f.sched.Done():
	default:
		t.Fatal("Done not closed after Stop")
	}
}

func TestStart_TicksPeriodically(t *testing.T) {
	tr := &fakeTransport{}
	var mu sync.Mutex
	delivered := 0
	sched, err := New(tr, Options{
		BaseURL:      "http://panel",
		Session:      func() string { return "S" },
		TickInterval: 5 * time.Millisecond,
	})
	require.NoError(t, err)
	defer sched.Stop()

	sched.Submit("/user/seq.xml", Callback(func(string, bool) {
		mu.Lock()
		delivered++
		mu.Unlock()
	}), true, "")
	sched.Start()

	// Complete whatever exchange is newest; the repeating request keeps resubmitting.
	assert.Eventually(t, func() bool {
		tr.exchange(tr.count()-1).finish(200, "x")
		mu.Lock()
		defer mu.Unlock()
		return delivered >= 3
	}, 2*time.Second, 2*time.Millisecond)
}
