package servermetrics

import (
	"testing"
	"time"

	"github.com/prometheus/statsd_exporter/pkg/clock"
)

// freezeClock pins the library clock to at and restores the real clock
// when the test ends.
func freezeClock(t *testing.T, at time.Time) {
	t.Helper()
	clock.ClockInstance = &clock.Clock{Instant: at}
	t.Cleanup(func() { clock.ClockInstance = nil })
}

// advanceClock steps the frozen clock forward.
func advanceClock(d time.Duration) {
	clock.ClockInstance.Instant = clock.ClockInstance.Instant.Add(d)
}
