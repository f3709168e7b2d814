package servermetrics

import (
	"iter"
	"regexp"
	"sort"
	"sync"

	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
)

// Metric and label names: ASCII, start with a letter, then letters,
// digits, underscores and colons, at most maxNameLen characters.
var nameRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_:]*$`)

const maxNameLen = 200

func validateName(name string) error {
	if len(name) == 0 || len(name) > maxNameLen {
		return errors.Errorf("name %q must be 1 to %d characters", name, maxNameLen)
	}
	if !nameRe.MatchString(name) {
		return errors.Errorf("name %q must start with a letter and contain only [A-Za-z0-9_:]", name)
	}
	return nil
}

// Registry is a lock-protected collection of named metrics. Iteration
// order is lexicographic by name, which makes scrape output
// deterministic.
type Registry struct {
	mtx     sync.Mutex
	metrics map[string]Metric
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{metrics: make(map[string]Metric)}
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// Default returns the process-wide registry shared by consumers that do
// not supply their own. It is created lazily on first use. Tests can
// call Clear on it between cases.
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

// Register enters the metric under name. The name and, for grouped
// metrics, every declared label name must pass validation. Registering
// over an existing name fails; a metric that already carries a
// different name from a prior registration fails too.
func (r *Registry) Register(name string, m Metric) error {
	return r.register(name, m, false)
}

// RegisterOverwrite is Register, except an existing entry under the
// same name is replaced with a logged warning instead of an error.
func (r *Registry) RegisterOverwrite(name string, m Metric) error {
	return r.register(name, m, true)
}

func (r *Registry) register(name string, m Metric, overwrite bool) error {
	if err := validateName(name); err != nil {
		return errors.Wrap(err, "invalid metric name")
	}
	for ln := range m.labelSchema() {
		if err := validateName(ln); err != nil {
			return errors.Wrapf(err, "invalid label name on metric %q", name)
		}
	}

	r.mtx.Lock()
	defer r.mtx.Unlock()
	if _, ok := r.metrics[name]; ok {
		if !overwrite {
			return errors.Errorf("metric %q is already registered", name)
		}
		level.Warn(pkgLogger()).Log("msg", "overwriting registered metric", "metric", name)
	}
	if err := m.setName(name); err != nil {
		return err
	}
	r.metrics[name] = m
	return nil
}

// Unregister removes the entry. The metric object survives and keeps
// its name.
func (r *Registry) Unregister(name string) error {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	if _, ok := r.metrics[name]; !ok {
		return errors.Errorf("metric %q is not registered", name)
	}
	delete(r.metrics, name)
	return nil
}

// Clear removes all entries. The registry itself stays usable.
func (r *Registry) Clear() {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.metrics = make(map[string]Metric)
}

// Metric returns the metric registered under name.
func (r *Registry) Metric(name string) (Metric, error) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	m, ok := r.metrics[name]
	if !ok {
		return nil, errors.Errorf("metric %q is not registered", name)
	}
	return m, nil
}

// Value resolves the cell without creating it and returns its current
// value. It reports false on any failure: unknown metric, invalid
// labels, or a cell that was never touched. Swallowing failure is
// intentional; this is a read-only convenience for tests and
// introspection and does not log.
func (r *Registry) Value(name string, labels ...Label) (float64, bool) {
	r.mtx.Lock()
	m, ok := r.metrics[name]
	r.mtx.Unlock()
	if !ok {
		return 0, false
	}
	c, ok := m.CellIfExists(labels...)
	if !ok {
		return 0, false
	}
	return c.Value(), true
}

// ZeroAll resets every scalar cell's value to zero. Grouped cells are
// left alone; their population is already transient under eviction.
func (r *Registry) ZeroAll() {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	for _, m := range r.metrics {
		m.zeroScalar()
	}
}

// Each iterates the registry's metrics in ascending name order. The
// registry lock is held only while the snapshot is taken.
func (r *Registry) Each() iter.Seq2[string, Metric] {
	r.mtx.Lock()
	names := make([]string, 0, len(r.metrics))
	snapshot := make(map[string]Metric, len(r.metrics))
	for n, m := range r.metrics {
		names = append(names, n)
		snapshot[n] = m
	}
	r.mtx.Unlock()
	sort.Strings(names)
	return func(yield func(string, Metric) bool) {
		for _, n := range names {
			if !yield(n, snapshot[n]) {
				return
			}
		}
	}
}

// NamedMetric pairs a metric with the identifier it registers under.
type NamedMetric struct {
	Name   string
	Metric Metric
}

// Collection is implemented by containers that declare a program's
// metrics as a single unit, typically a struct with one field per
// metric.
type Collection interface {
	Metrics() []NamedMetric
}

// RegisterCollection registers every declared member of the collection
// under its declared identifier. Entries with a nil metric are
// ignored. The first failure stops registration and is returned.
func (r *Registry) RegisterCollection(c Collection) error {
	for _, nm := range c.Metrics() {
		if nm.Metric == nil {
			continue
		}
		if err := r.Register(nm.Name, nm.Metric); err != nil {
			return err
		}
	}
	return nil
}

// Publish registers the collection's metrics to the default registry.
func Publish(c Collection) error {
	return Default().RegisterCollection(c)
}
