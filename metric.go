package servermetrics

import (
	"fmt"
	"iter"
	"slices"
	"sort"
	"sync"

	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
)

// Kind distinguishes counters from gauges. A metric's kind is fixed at
// construction.
type Kind int

const (
	KindCounter Kind = iota
	KindGauge
)

func (k Kind) String() string {
	if k == KindCounter {
		return "counter"
	}
	return "gauge"
}

// MaxCells bounds the number of cells a grouped metric holds. When the
// bound is exceeded the least-recently-changed cell other than the one
// just requested is evicted.
const MaxCells = 200

// Metric is the registry-facing surface shared by Counter and Gauge.
type Metric interface {
	// Kind reports whether the metric is a counter or a gauge.
	Kind() Kind
	// Name returns the registered name, or "" before registration.
	Name() string
	// Cell resolves the cell for a label assignment, creating it if
	// needed. Invalid labels yield a dummy cell whose mutations log
	// and no-op.
	Cell(labels ...Label) *Cell
	// CellIfExists resolves the cell without creating it.
	CellIfExists(labels ...Label) (*Cell, bool)
	// Cells iterates a snapshot of the metric's cells.
	Cells() iter.Seq[*Cell]

	setName(name string) error
	labelSchema() LabelSchema
	zeroScalar()
}

// metric holds the state shared by both kinds: either a single scalar
// cell, or a schema plus a lazily populated map of cells keyed by the
// canonical label string.
type metric struct {
	kind    Kind
	initial float64
	schema  LabelSchema // nil for scalar metrics

	mtx   sync.Mutex
	name  string
	named bool
	cell  *Cell            // scalar
	cells map[string]*Cell // grouped
}

func initMetric(m *metric, kind Kind, initial float64, schema LabelSchema) {
	m.kind = kind
	m.initial = initial
	if len(schema) > 0 {
		m.schema = schema
		m.cells = make(map[string]*Cell)
	} else {
		m.cell = newCell("", nil, initial)
	}
}

func (m *metric) Kind() Kind { return m.kind }

func (m *metric) Name() string {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	return m.name
}

func (m *metric) labelSchema() LabelSchema { return m.schema }

func (m *metric) grouped() bool { return m.schema != nil }

// setName attaches the registered name. A metric keeps its name across
// unregistration; registering it again under a different name fails.
func (m *metric) setName(name string) error {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	if m.named && m.name != name {
		return errors.Errorf("metric is already named %q, cannot register as %q", m.name, name)
	}
	m.name = name
	m.named = true
	if m.cell != nil {
		m.cell.name.Store(name)
	}
	for _, c := range m.cells {
		c.name.Store(name)
	}
	return nil
}

// lookup resolves the cell for a label assignment. ok is false when the
// labels do not satisfy the schema; with create set the returned cell
// is then the dummy sentinel.
func (m *metric) lookup(labels []Label, create bool) (*Cell, bool) {
	if !m.grouped() {
		if len(labels) != 0 {
			if !create {
				return nil, false
			}
			return newDummyCell(m.Name(), labels), false
		}
		return m.cell, true
	}

	ls, ok := m.schema.resolve(labels)
	if !ok {
		if !create {
			return nil, false
		}
		return newDummyCell(m.Name(), labels), false
	}
	key := ls.key()

	m.mtx.Lock()
	defer m.mtx.Unlock()
	if c, ok := m.cells[key]; ok {
		return c, true
	}
	if !create {
		return nil, false
	}
	c := newCell(m.name, ls, m.initial)
	m.cells[key] = c
	if len(m.cells) > MaxCells {
		m.evictOldest(c)
	}
	return c, true
}

// evictOldest removes the least-recently-changed cell, skipping keep.
// Called with m.mtx held. The scan is linear; the bound is small and
// this path only runs on overflow.
func (m *metric) evictOldest(keep *Cell) {
	var (
		victim    *Cell
		victimKey string
	)
	for k, c := range m.cells {
		if c == keep {
			continue
		}
		if victim == nil || c.LastChanged() < victim.LastChanged() {
			victim, victimKey = c, k
		}
	}
	if victim == nil {
		return
	}
	delete(m.cells, victimKey)
	level.Warn(pkgLogger()).Log(
		"msg", "cell limit exceeded, evicted least recently changed cell",
		"metric", m.name,
		"labels", victim.labels.String(),
		"limit", MaxCells,
	)
}

// Cell resolves the cell for a label assignment, creating it if needed.
func (m *metric) Cell(labels ...Label) *Cell {
	c, _ := m.lookup(labels, true)
	return c
}

// CellIfExists resolves the cell without creating it. It returns false
// on a schema mismatch or a missing cell and does not mutate the map.
func (m *metric) CellIfExists(labels ...Label) (*Cell, bool) {
	c, ok := m.lookup(labels, false)
	if !ok || c == nil {
		return nil, false
	}
	return c, true
}

// Cells returns an iterator over a snapshot of the metric's cells,
// ordered by label key. The metric lock is held only while the snapshot
// is taken.
func (m *metric) Cells() iter.Seq[*Cell] {
	m.mtx.Lock()
	var cs []*Cell
	if m.cell != nil {
		cs = []*Cell{m.cell}
	} else {
		cs = make([]*Cell, 0, len(m.cells))
		for _, c := range m.cells {
			cs = append(cs, c)
		}
	}
	m.mtx.Unlock()
	sort.Slice(cs, func(i, j int) bool { return cs[i].key < cs[j].key })
	return slices.Values(cs)
}

func (m *metric) zeroScalar() {
	if m.cell != nil {
		m.cell.value.Store(0)
	}
}

// writeCell is the mutation-path lookup: always creating, ok false
// means the labels were invalid and the operation must be dropped.
func (m *metric) writeCell(labels []Label) (*Cell, bool) {
	return m.lookup(labels, true)
}

// badAccess reports a mutation attempted with an invalid label
// assignment. Loud in logs, harmless to the caller, unless strict mode
// is on.
func (m *metric) badAccess(op string, labels []Label) {
	if strictLabels.Load() {
		panic(fmt.Sprintf("servermetrics: invalid label access: metric=%q op=%s labels=%s",
			m.Name(), op, LabelSet(labels).String()))
	}
	level.Error(pkgLogger()).Log(
		"msg", "invalid label access, operation dropped",
		"metric", m.Name(),
		"op", op,
		"labels", LabelSet(labels).String(),
	)
}
