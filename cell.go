package servermetrics

import (
	"github.com/prometheus/statsd_exporter/pkg/clock"
	"go.uber.org/atomic"
)

// nowSeconds reads the wall clock as floating-point seconds since the
// Unix epoch. All timestamps in the library go through the swappable
// clock so tests can freeze time.
func nowSeconds() float64 {
	return float64(clock.Now().UnixNano()) / 1e9
}

// Cell is a single atomically updated numeric value inside a metric,
// identified by its label assignment (or by the metric itself for
// scalars).
//
// The value and the last-changed timestamp are two independent atomics,
// never a compound: readers may observe a new value with a stale
// timestamp and vice versa. Coupling them would put a lock on the hot
// path for a sub-second skew that downstream monitoring tolerates.
type Cell struct {
	value       atomic.Float64
	lastChanged atomic.Float64
	name        atomic.String
	labels      LabelSet
	key         string
	dummy       bool
}

func newCell(name string, labels LabelSet, initial float64) *Cell {
	c := &Cell{labels: labels, key: labels.key()}
	c.name.Store(name)
	c.value.Store(initial)
	c.lastChanged.Store(nowSeconds())
	return c
}

// newDummyCell builds the sentinel returned for invalid label accesses.
// It keeps the offending labels as provided, for diagnostics.
func newDummyCell(name string, labels []Label) *Cell {
	c := &Cell{dummy: true, labels: LabelSet(labels)}
	c.name.Store(name)
	return c
}

// Value returns the current value.
func (c *Cell) Value() float64 { return c.value.Load() }

// LastChanged returns the wall-clock seconds at which the value was
// most recently modified.
func (c *Cell) LastChanged() float64 { return c.lastChanged.Load() }

// Name returns the name of the metric the cell belongs to, or "" until
// the metric is first registered. The name stays after unregistration.
func (c *Cell) Name() string { return c.name.Load() }

// Labels returns a copy of the cell's label assignment in canonical
// order.
func (c *Cell) Labels() []Label {
	out := make([]Label, len(c.labels))
	copy(out, c.labels)
	return out
}

func (c *Cell) touch() {
	c.lastChanged.Store(nowSeconds())
}

func (c *Cell) add(delta float64) {
	c.value.Add(delta)
	c.touch()
}

func (c *Cell) store(v float64) {
	c.value.Store(v)
	c.touch()
}

// storeMax raises the value to v if it strictly exceeds the current
// value, and only then updates the timestamp.
func (c *Cell) storeMax(v float64) {
	for {
		old := c.value.Load()
		if v <= old {
			return
		}
		if c.value.CompareAndSwap(old, v) {
			c.touch()
			return
		}
	}
}
