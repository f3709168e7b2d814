package servermetrics

import (
	"github.com/go-kit/log/level"
)

// Gauge is a metric whose cells move freely in both directions.
type Gauge struct {
	metric
}

// NewGauge creates an unlabeled gauge with the given initial value.
func NewGauge(initial float64) *Gauge {
	g := &Gauge{}
	initMetric(&g.metric, KindGauge, initial, nil)
	return g
}

// NewGroupedGauge creates a gauge dimensioned by the given label
// schema. New cells start at the initial value. An empty schema yields
// a plain scalar gauge.
func NewGroupedGauge(initial float64, schema LabelSchema) *Gauge {
	g := &Gauge{}
	initMetric(&g.metric, KindGauge, initial, schema)
	return g
}

// Inc adds delta, which may be negative, to the cell selected by
// labels.
func (g *Gauge) Inc(delta float64, labels ...Label) {
	cell, ok := g.writeCell(labels)
	if !ok {
		g.badAccess("inc", labels)
		return
	}
	cell.add(delta)
}

// Dec subtracts a non-negative delta from the cell selected by labels.
// A negative delta is logged at warning severity and dropped, symmetric
// with the counter increment rule.
func (g *Gauge) Dec(delta float64, labels ...Label) {
	cell, ok := g.writeCell(labels)
	if !ok {
		g.badAccess("dec", labels)
		return
	}
	if delta < 0 {
		level.Warn(pkgLogger()).Log(
			"msg", "negative gauge decrement dropped",
			"metric", g.Name(),
			"delta", delta,
		)
		return
	}
	cell.add(-delta)
}

// Set replaces the value of the cell selected by labels.
func (g *Gauge) Set(v float64, labels ...Label) {
	cell, ok := g.writeCell(labels)
	if !ok {
		g.badAccess("set", labels)
		return
	}
	cell.store(v)
}
