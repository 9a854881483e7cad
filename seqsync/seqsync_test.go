package seqsync

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/st-keller/ultrasync/queue"
	"github.com/st-keller/ultrasync/registry"
)

type submission struct {
	url     string
	handler queue.Handler
	payload string
}

type recorder struct {
	mu   sync.Mutex
	subs []submission
}

func (r *recorder) Submit(url string, h queue.Handler, _ bool, payload string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs = append(r.subs, submission{url: url, handler: h, payload: payload})
	return fmt.Sprint(len(r.subs))
}

func (r *recorder) all() []submission {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]submission(nil), r.subs...)
}

func (r *recorder) payloads(url string) []string {
	var out []string
	for _, s := range r.all() {
		if s.url == url {
			out = append(out, s.payload)
		}
	}
	return out
}

func areaState(bank, seq int, value string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<response><abank>%d</abank><aseq>%d</aseq>", bank, seq)
	for i := 0; i < registry.AreaBankWidth; i++ {
		fmt.Fprintf(&b, "<stat%d>%s</stat%d>", i, value, i)
	}
	b.WriteString("<sysflt>AC Fail\r\nLow Battery</sysflt></response>")
	return b.String()
}

func TestDiff_FetchesOnlyMovedBanks(t *testing.T) {
	rec := &recorder{}
	reg := registry.New()
	reg.SeedAreas([]int{1, 1, 2}, nil)
	loop := NewLoop(registry.Areas, rec, reg, Options{})

	stale := loop.Diff("<response><areas>1,2,2</areas><zones>0</zones></response>")

	assert.Equal(t, []int{1}, stale)
	assert.Equal(t, []string{"arsel=1"}, rec.payloads(AreaStatePath))
}

func TestDiff_ZonesUseZstate(t *testing.T) {
	rec := &recorder{}
	reg := registry.New()
	reg.SeedZones([]int{5, 5}, nil)
	loop := NewLoop(registry.Zones, rec, reg, Options{})

	loop.Diff("<areas>9</areas><zones>5,6,1</zones>")

	assert.Equal(t, []string{"state=1", "state=2"}, rec.payloads(ZoneStatePath))
	assert.Empty(t, rec.payloads(AreaStatePath))
}

func TestDiff_EmptyVectorProducesNoTraffic(t *testing.T) {
	rec := &recorder{}
	loop := NewLoop(registry.Areas, rec, registry.New(), Options{})

	assert.Empty(t, loop.Diff("<areas></areas>"))
	assert.Empty(t, loop.Diff("<zones>1,2</zones>"))
	assert.Empty(t, loop.Diff(""))
	assert.Empty(t, rec.all())
}

func TestDiff_SkipsNonIntegerEntries(t *testing.T) {
	rec := &recorder{}
	reg := registry.New()
	reg.SeedAreas([]int{0, 0, 0}, nil)
	loop := NewLoop(registry.Areas, rec, reg, Options{})

	loop.Diff("<areas>x,,3</areas>")

	assert.Equal(t, []string{"arsel=2"}, rec.payloads(AreaStatePath))
}

func TestFullStateResponseUpdatesRegistry(t *testing.T) {
	rec := &recorder{}
	reg := registry.New()
	reg.SeedAreas([]int{1, 1}, make([]string, 2*registry.AreaBankWidth))
	loop := NewLoop(registry.Areas, rec, reg, Options{})

	loop.Diff("<areas>1,4</areas>")
	subs := rec.all()
	require.Len(t, subs, 1)

	subs[0].handler.Call(areaState(1, 4, "3"), true)

	assert.Equal(t, []int{1, 4}, reg.Sequences(registry.Areas))
	status := reg.AreaStatus()
	assert.Equal(t, "", status[16])
	assert.Equal(t, "3", status[17])
	assert.Equal(t, "3", status[33])
	assert.Equal(t, []string{"AC Fail", "Low Battery"}, reg.SystemFaults())
}

func TestFullStateTimeoutLeavesRegistry(t *testing.T) {
	rec := &recorder{}
	reg := registry.New()
	reg.SeedAreas([]int{1}, nil)
	loop := NewLoop(registry.Areas, rec, reg, Options{})

	loop.Diff("<areas>2</areas>")
	rec.all()[0].handler.Call("", false)

	assert.Equal(t, []int{1}, reg.Sequences(registry.Areas))
}

func TestApplyZone(t *testing.T) {
	reg := registry.New()

	bank, err := ApplyZone(reg, "<zstate>3</zstate><zseq>12</zseq><zdat>1,0,4</zdat>")
	require.NoError(t, err)

	assert.Equal(t, 3, bank)
	assert.Equal(t, []string{"1", "0", "4"}, reg.ZoneStatus()[3])
	seq, ok := reg.Sequence(registry.Zones, 3)
	assert.True(t, ok)
	assert.Equal(t, 12, seq)
}

func TestApplyRejectsMalformed(t *testing.T) {
	reg := registry.New()

	_, err := ApplyArea(reg, "<aseq>1</aseq>")
	assert.Error(t, err)
	_, err = ApplyArea(reg, "<abank>0</abank>")
	assert.Error(t, err)
	_, err = ApplyZone(reg, "<zstate>a</zstate>")
	assert.Error(t, err)

	assert.Empty(t, reg.AreaStatus())
}

func TestApplyRejectsOutOfRangeBanks(t *testing.T) {
	reg := registry.New()

	_, err := ApplyArea(reg, areaState(5000000, 1, "1"))
	assert.Error(t, err)
	_, err = ApplyZone(reg, "<zstate>9223372036854775807</zstate><zseq>1</zseq><zdat>1</zdat>")
	assert.Error(t, err)

	assert.Empty(t, reg.AreaStatus())
	assert.Empty(t, reg.ZoneStatus())
	assert.Empty(t, reg.SystemFaults())
}

func TestDiff_IgnoresBanksPastLimit(t *testing.T) {
	rec := &recorder{}
	loop := NewLoop(registry.Zones, rec, registry.New(), Options{})

	vector := make([]string, registry.MaxBanks+10)
	for i := range vector {
		vector[i] = "1"
	}
	stale := loop.Diff("<zones>" + strings.Join(vector, ",") + "</zones>")

	assert.Len(t, stale, registry.MaxBanks)
	assert.Len(t, rec.payloads(ZoneStatePath), registry.MaxBanks)
}

func TestLoop_RoundReschedulesAfterAnswer(t *testing.T) {
	rec := &recorder{}
	loop := NewLoop(registry.Areas, rec, registry.New(), Options{Interval: 5 * time.Millisecond})
	defer loop.Stop()

	loop.Start()
	require.Eventually(t, func() bool { return len(rec.all()) == 1 }, time.Second, time.Millisecond)

	// Unanswered: no second round.
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, loop.Rounds())

	rec.all()[0].handler.Call("<areas></areas>", true)
	require.Eventually(t, func() bool { return loop.Rounds() == 2 }, time.Second, time.Millisecond)
}

func TestLoop_TimedOutRoundStillReschedules(t *testing.T) {
	rec := &recorder{}
	loop := NewLoop(registry.Zones, rec, registry.New(), Options{Interval: 5 * time.Millisecond})
	defer loop.Stop()

	loop.Start()
	require.Eventually(t, func() bool { return len(rec.all()) == 1 }, time.Second, time.Millisecond)

	rec.all()[0].handler.Call("", false)
	require.Eventually(t, func() bool { return loop.Rounds() == 2 }, time.Second, time.Millisecond)
}

func TestLoop_StaleRoundDoesNotRearmAfterRestart(t *testing.T) {
	rec := &recorder{}
	loop := NewLoop(registry.Areas, rec, registry.New(), Options{Interval: 5 * time.Millisecond})
	defer loop.Stop()

	loop.Start()
	require.Eventually(t, func() bool { return len(rec.all()) == 1 }, time.Second, time.Millisecond)
	stale := rec.all()[0].handler

	loop.Restart()
	require.Eventually(t, func() bool { return len(rec.all()) == 2 }, time.Second, time.Millisecond)

	stale.Call("<areas></areas>", true)
	time.Sleep(30 * time.Millisecond)
	assert.Len(t, rec.all(), 2)
}

func TestLoop_StopHaltsRounds(t *testing.T) {
	rec := &recorder{}
	loop := NewLoop(registry.Areas, rec, registry.New(), Options{Interval: 5 * time.Millisecond})

	loop.Start()
	require.Eventually(t, func() bool { return len(rec.all()) == 1 }, time.Second, time.Millisecond)
	loop.Stop()

	rec.all()[0].handler.Call("<areas></areas>", true)
	time.Sleep(30 * time.Millisecond)
	assert.Len(t, rec.all(), 1)
}

func TestController_CheckNow(t *testing.T) {
	rec := &recorder{}
	reg := registry.New()
	c := New(rec, reg, Options{})

	c.CheckNow(registry.Zones)
	subs := rec.all()
	require.Len(t, subs, 1)
	assert.Equal(t, SequencePath, subs[0].url)

	subs[0].handler.Call("<zones>7</zones>", true)
	assert.Equal(t, []string{"state=0"}, rec.payloads(ZoneStatePath))
	assert.Equal(t, 0, c.Loop(registry.Zones).Rounds())
}
