package servermetrics

import (
	"github.com/go-kit/log/level"
)

// Counter is a metric whose cells only ever grow. Negative increments
// are logged and dropped rather than applied.
type Counter struct {
	metric

	// lastEmitted tracks, per cell key, the value most recently pushed
	// by the statsd exporter, so deltas can be computed. It is owned by
	// a single exporter task and accessed without a lock; wiring two
	// push exporters to the same counter is unsupported.
	lastEmitted map[string]float64
}

// NewCounter creates an unlabeled counter starting at zero. It is
// detached until registered.
func NewCounter() *Counter {
	c := &Counter{}
	initMetric(&c.metric, KindCounter, 0, nil)
	return c
}

// NewGroupedCounter creates a counter dimensioned by the given label
// schema. Cells start at zero and are created lazily per label
// assignment. An empty schema yields a plain scalar counter.
func NewGroupedCounter(schema LabelSchema) *Counter {
	c := &Counter{}
	initMetric(&c.metric, KindCounter, 0, schema)
	return c
}

// Inc adds a non-negative delta to the cell selected by labels. A
// negative delta is logged at warning severity and dropped.
func (c *Counter) Inc(delta float64, labels ...Label) {
	cell, ok := c.writeCell(labels)
	if !ok {
		c.badAccess("inc", labels)
		return
	}
	if delta < 0 {
		level.Warn(pkgLogger()).Log(
			"msg", "negative counter increment dropped",
			"metric", c.Name(),
			"delta", delta,
		)
		return
	}
	cell.add(delta)
}

// SetIfGreater records an externally tracked monotonic counter: the
// cell is raised to v if v strictly exceeds the current value, and the
// last-changed timestamp moves only on an actual increase.
func (c *Counter) SetIfGreater(v float64, labels ...Label) {
	cell, ok := c.writeCell(labels)
	if !ok {
		c.badAccess("set_if_greater", labels)
		return
	}
	cell.storeMax(v)
}

// emittedDelta returns the growth of the cell since the exporter last
// pushed it and advances the baseline. Only the statsd exporter task
// calls this.
func (c *Counter) emittedDelta(cell *Cell) float64 {
	if c.lastEmitted == nil {
		c.lastEmitted = make(map[string]float64)
	}
	cur := cell.Value()
	delta := cur - c.lastEmitted[cell.key]
	c.lastEmitted[cell.key] = cur
	return delta
}
