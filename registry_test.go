package servermetrics

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	c := NewCounter()

	require.NoError(t, r.Register("requests", c))

	m, err := r.Metric("requests")
	require.NoError(t, err)
	require.Equal(t, Metric(c), m)
	require.Equal(t, "requests", c.Name())
}

func TestRegisterNameValidation(t *testing.T) {
	r := NewRegistry()

	valid := []string{
		"a",
		"requests_total",
		"ns:subsystem:metric",
		"Q99",
		strings.Repeat("a", 200),
	}
	for _, name := range valid {
		require.NoError(t, r.Register(name, NewCounter()), "name %q", name)
	}

	invalid := []string{
		"",
		strings.Repeat("a", 201),
		"1xx",
		"_leading_underscore",
		":leading_colon",
		"has space",
		"has-dash",
		"héllo",
	}
	for _, name := range invalid {
		require.Error(t, r.Register(name, NewCounter()), "name %q", name)
	}
}

func TestRegisterLabelNameValidation(t *testing.T) {
	r := NewRegistry()

	bad := NewGroupedCounter(LabelSchema{"0bad": LabelString})
	require.Error(t, r.Register("requests", bad))

	_, err := r.Metric("requests")
	require.Error(t, err, "metric must not be entered on label validation failure")
}

func TestRegisterDuplicate(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.Register("requests", NewCounter()))
	require.Error(t, r.Register("requests", NewCounter()))
}

func TestRegisterOverwrite(t *testing.T) {
	r := NewRegistry()
	first := NewCounter()
	second := NewCounter()

	require.NoError(t, r.Register("requests", first))
	require.NoError(t, r.RegisterOverwrite("requests", second))

	m, err := r.Metric("requests")
	require.NoError(t, err)
	require.Equal(t, Metric(second), m)
}

func TestRegisterConflictingName(t *testing.T) {
	r1 := NewRegistry()
	r2 := NewRegistry()
	c := NewCounter()

	require.NoError(t, r1.Register("requests", c))

	// Same name in a different registry is fine; a different name is
	// not.
	require.NoError(t, r2.Register("requests", c))
	r3 := NewRegistry()
	require.Error(t, r3.Register("other", c))
}

func TestUnregisterKeepsName(t *testing.T) {
	r := NewRegistry()
	c := NewCounter()

	require.NoError(t, r.Register("requests", c))
	require.NoError(t, r.Unregister("requests"))
	require.Error(t, r.Unregister("requests"))

	require.Equal(t, "requests", c.Name())
	_, err := r.Metric("requests")
	require.Error(t, err)

	// Re-registration under the retained name succeeds.
	require.NoError(t, r.Register("requests", c))
}

func TestClear(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("a", NewCounter()))
	require.NoError(t, r.Register("b", NewGauge(0)))

	r.Clear()

	_, err := r.Metric("a")
	require.Error(t, err)
	require.NoError(t, r.Register("a", NewCounter()))
}

func TestValue(t *testing.T) {
	r := NewRegistry()
	c := NewGroupedCounter(LabelSchema{"action": LabelString})
	require.NoError(t, r.Register("requests", c))

	c.Inc(1, String("action", "get"))

	// Missing required label.
	_, ok := r.Value("requests")
	require.False(t, ok)

	v, ok := r.Value("requests", String("action", "get"))
	require.True(t, ok)
	require.Equal(t, 1.0, v)

	// Valid labels, cell never touched: no creation.
	_, ok = r.Value("requests", String("action", "delete"))
	require.False(t, ok)
	_, ok = c.CellIfExists(String("action", "delete"))
	require.False(t, ok)

	// Unknown metric.
	_, ok = r.Value("nope")
	require.False(t, ok)
}

func TestZeroAll(t *testing.T) {
	r := NewRegistry()
	c := NewCounter()
	g := NewGauge(5)
	grouped := NewGroupedCounter(LabelSchema{"a": LabelString})
	require.NoError(t, r.Register("c", c))
	require.NoError(t, r.Register("g", g))
	require.NoError(t, r.Register("grouped", grouped))

	c.Inc(10)
	grouped.Inc(3, String("a", "x"))

	r.ZeroAll()

	require.Equal(t, 0.0, c.Cell().Value())
	require.Equal(t, 0.0, g.Cell().Value())

	// Grouped cells are not reset.
	v, ok := r.Value("grouped", String("a", "x"))
	require.True(t, ok)
	require.Equal(t, 3.0, v)
}

type testCollection struct {
	requests *Counter
	inflight *Gauge
}

func (c *testCollection) Metrics() []NamedMetric {
	return []NamedMetric{
		{Name: "requests_total", Metric: c.requests},
		{Name: "inflight", Metric: c.inflight},
		{Name: "ignored", Metric: nil},
	}
}

func TestRegisterCollection(t *testing.T) {
	r := NewRegistry()
	col := &testCollection{requests: NewCounter(), inflight: NewGauge(0)}

	require.NoError(t, r.RegisterCollection(col))

	_, err := r.Metric("requests_total")
	require.NoError(t, err)
	_, err = r.Metric("inflight")
	require.NoError(t, err)
	_, err = r.Metric("ignored")
	require.Error(t, err)
}

func TestPublishUsesDefaultRegistry(t *testing.T) {
	Default().Clear()
	t.Cleanup(Default().Clear)

	col := &testCollection{requests: NewCounter(), inflight: NewGauge(0)}
	require.NoError(t, Publish(col))

	_, err := Default().Metric("requests_total")
	require.NoError(t, err)
}

func TestDefaultIsSingleton(t *testing.T) {
	require.Same(t, Default(), Default())
}

func TestEachSortedOrder(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		require.NoError(t, r.Register(name, NewCounter()))
	}

	var names []string
	for name := range r.Each() {
		names = append(names, name)
	}
	require.Equal(t, []string{"alpha", "mid", "zeta"}, names)
}
