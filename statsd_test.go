package servermetrics

import (
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// captureBackend records messages instead of sending them.
type captureBackend struct {
	msgs []string
}

func (b *captureBackend) Send(msg string) error {
	b.msgs = append(b.msgs, msg)
	return nil
}

func (b *captureBackend) take() []string {
	out := b.msgs
	b.msgs = nil
	return out
}

func newTestExporter(r *Registry) (*StatsdExporter, *captureBackend) {
	b := &captureBackend{}
	e := NewStatsdExporter()
	e.Backend = b
	e.Registries = []*Registry{r}
	return e, b
}

func TestStatsdCounterDeltas(t *testing.T) {
	freezeClock(t, time.Unix(1000, 0))
	r := NewRegistry()
	c := NewCounter()
	require.NoError(t, r.Register("counter", c))
	e, b := newTestExporter(r)

	// First cycle emits the zero-valued counter and sets the baseline.
	e.emit()
	require.Equal(t, []string{"counter:0.0|c"}, b.take())

	advanceClock(30 * time.Second)
	c.Inc(1)
	advanceClock(30 * time.Second)
	e.emit()
	require.Equal(t, []string{"counter:1.0|c"}, b.take())

	// No change: suppressed by the recency filter.
	advanceClock(60 * time.Second)
	e.emit()
	require.Empty(t, b.take())

	advanceClock(10 * time.Second)
	c.Inc(2)
	advanceClock(50 * time.Second)
	e.emit()
	require.Equal(t, []string{"counter:2.0|c"}, b.take())
	require.Equal(t, 3.0, c.Cell().Value())
}

func TestStatsdGaugeAbsoluteValues(t *testing.T) {
	freezeClock(t, time.Unix(1000, 0))
	r := NewRegistry()
	g := NewGauge(1.0)
	require.NoError(t, r.Register("gg", g))
	e, b := newTestExporter(r)

	advanceClock(30 * time.Second)
	e.emit()
	require.Equal(t, []string{"gg:1.0|g"}, b.take())

	advanceClock(60 * time.Second)
	e.emit()
	require.Empty(t, b.take())

	advanceClock(30 * time.Second)
	g.Inc(2)
	advanceClock(30 * time.Second)
	e.emit()
	require.Equal(t, []string{"gg:3.0|g"}, b.take())

	advanceClock(30 * time.Second)
	g.Dec(0.5)
	advanceClock(30 * time.Second)
	e.emit()
	require.Equal(t, []string{"gg:2.5|g"}, b.take())
}

func TestStatsdTags(t *testing.T) {
	freezeClock(t, time.Unix(1000, 0))
	r := NewRegistry()
	c := NewGroupedCounter(LabelSchema{
		"action": LabelString,
		"code":   LabelInt64,
	})
	require.NoError(t, r.Register("requests", c))
	e, b := newTestExporter(r)

	c.Inc(1, String("action", "get"), Int("code", 404))
	e.emit()
	require.Equal(t, []string{"requests:1.0|c|#action:get,code:404"}, b.take())
}

func TestStatsdRecencyBoundary(t *testing.T) {
	// send_older_than window is 120s. A cell whose last change falls
	// strictly inside (now-120s, lastEmission) is skipped; on either
	// boundary it is emitted.
	freezeClock(t, time.Unix(1000, 0))
	r := NewRegistry()
	g := NewGauge(1.0) // cell stamped at t=1000
	require.NoError(t, r.Register("g", g))
	e, b := newTestExporter(r)

	advanceClock(30 * time.Second) // t=1030
	e.emit()                       // lastEmission = 1030
	require.Equal(t, []string{"g:1.0|g"}, b.take())

	// t=1090: window starts at 970 < 1000 < lastEmission 1030:
	// strictly inside, skipped.
	advanceClock(60 * time.Second)
	e.emit()
	require.Empty(t, b.take())

	// t=1120: window starts exactly at the cell's stamp (1000); the
	// strict inequality forces emission.
	advanceClock(30 * time.Second)
	e.emit()
	require.Equal(t, []string{"g:1.0|g"}, b.take())
}

func TestStatsdRecencyBoundaryAtLastEmission(t *testing.T) {
	freezeClock(t, time.Unix(1000, 0))
	r := NewRegistry()
	g := NewGauge(0)
	require.NoError(t, r.Register("g", g))
	e, b := newTestExporter(r)

	e.emit() // lastEmission = 1000
	b.take()

	// Change the gauge with the clock still at the emission instant:
	// lastChanged == lastEmission, not strictly below it, so the next
	// cycle emits.
	g.Set(5)
	advanceClock(60 * time.Second)
	e.emit()
	require.Equal(t, []string{"g:5.0|g"}, b.take())
}

func TestStatsdFirstCycleEmitsEverything(t *testing.T) {
	freezeClock(t, time.Unix(1000, 0))
	r := NewRegistry()
	c := NewCounter()
	g := NewGauge(2)
	require.NoError(t, r.Register("a_counter", c))
	require.NoError(t, r.Register("b_gauge", g))
	e, b := newTestExporter(r)

	// Even never-touched, zero-valued cells go out on the first cycle.
	e.emit()
	require.Equal(t, []string{"a_counter:0.0|c", "b_gauge:2.0|g"}, b.take())
}

func TestStatsdEmissionLagSelfMetric(t *testing.T) {
	freezeClock(t, time.Unix(1000, 0))
	r := NewRegistry()
	e, _ := newTestExporter(r)
	e.SendInterval = 60 * time.Second

	before := selfEmissionLag.Cell().Value()

	e.emit()
	// 90s between cycles against a 60s interval: 30000ms of lag.
	advanceClock(90 * time.Second)
	e.emit()

	require.Equal(t, before+30000, selfEmissionLag.Cell().Value())

	// On schedule: no lag recorded.
	advanceClock(60 * time.Second)
	e.emit()
	require.Equal(t, before+30000, selfEmissionLag.Cell().Value())
}

func TestStatsdPacketsSentSelfMetric(t *testing.T) {
	freezeClock(t, time.Unix(1000, 0))
	r := NewRegistry()
	require.NoError(t, r.Register("a", NewCounter()))
	require.NoError(t, r.Register("b", NewGauge(0)))
	e, b := newTestExporter(r)

	before := selfPacketsSent.Cell().Value()
	e.emit()
	require.Len(t, b.take(), 2)
	require.Equal(t, before+2, selfPacketsSent.Cell().Value())
}

func TestStatsdZeroIntervalDisables(t *testing.T) {
	Default().Clear()
	t.Cleanup(Default().Clear)

	e := NewStatsdExporter()
	e.SendInterval = 0

	require.NoError(t, e.Start())
	require.Nil(t, e.task)

	// Stopping an exporter that never started a task is a no-op.
	e.Stop()
}

func TestStatsdStartStop(t *testing.T) {
	r := NewRegistry()
	b := &captureBackend{}
	e := NewStatsdExporter()
	e.SendInterval = time.Hour // no cycle fires during the test
	e.Backend = b
	e.Registries = []*Registry{r}

	require.NoError(t, e.Start())
	require.Error(t, e.Start(), "double start must fail")
	e.Stop()
	e.Stop() // idempotent
}

func TestStatsdDeltaAccountingAcrossCycles(t *testing.T) {
	freezeClock(t, time.Unix(1000, 0))
	r := NewRegistry()
	c := NewCounter()
	require.NoError(t, r.Register("c", c))
	e, b := newTestExporter(r)

	var sum float64
	cycle := func(inc float64) {
		if inc > 0 {
			advanceClock(time.Second)
			c.Inc(inc)
		}
		advanceClock(60 * time.Second)
		e.emit()
		for _, msg := range b.take() {
			sum += parseDelta(t, msg)
		}
	}

	for _, inc := range []float64{0, 1, 0, 2, 5, 0, 0.5} {
		cycle(inc)
	}

	// The emitted deltas add up to the counter's absolute value.
	require.Equal(t, c.Cell().Value(), sum)
}

// parseDelta extracts the numeric delta from "c:<delta>|c".
func parseDelta(t *testing.T, msg string) float64 {
	t.Helper()
	rest, ok := strings.CutPrefix(msg, "c:")
	require.True(t, ok, "unexpected message %q", msg)
	num, ok := strings.CutSuffix(rest, "|c")
	require.True(t, ok, "unexpected message %q", msg)
	d, err := strconv.ParseFloat(num, 64)
	require.NoError(t, err)
	return d
}

func TestUDPBackend(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer pc.Close()

	b, err := NewUDPBackend(pc.LocalAddr().String())
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, b.Send("m:1.0|c"))

	buf := make([]byte, 64)
	require.NoError(t, pc.SetReadDeadline(time.Now().Add(5*time.Second)))
	n, _, err := pc.ReadFrom(buf)
	require.NoError(t, err)
	require.Equal(t, "m:1.0|c", string(buf[:n]))
}
