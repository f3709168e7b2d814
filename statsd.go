package servermetrics

import (
	"net"
	"strings"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"github.com/prometheus/statsd_exporter/pkg/clock"

	"github.com/nikolaybotev/go-server-metrics/periodic"
)

const (
	// DefaultSendInterval is how often the exporter emits.
	DefaultSendInterval = 60 * time.Second
	// DefaultSendOlderThan is the recency window: a cell that has not
	// changed since the previous emission and is still inside the
	// window is skipped.
	DefaultSendOlderThan = 120 * time.Second
	// DefaultStatsdAddr is the UDP endpoint the default backend dials.
	DefaultStatsdAddr = "127.0.0.1:8125"
)

// Backend delivers formatted statsd messages, one message per
// datagram. Implementations are used by exactly one exporter task and
// need not be safe for concurrent senders.
type Backend interface {
	Send(msg string) error
}

// UDPBackend sends each message as one UDP datagram.
type UDPBackend struct {
	conn net.Conn
}

// NewUDPBackend dials the given host:port.
func NewUDPBackend(addr string) (*UDPBackend, error) {
	conn, err := net.Dial("udp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "dial statsd endpoint %s", addr)
	}
	return &UDPBackend{conn: conn}, nil
}

func (b *UDPBackend) Send(msg string) error {
	_, err := b.conn.Write([]byte(msg))
	return err
}

func (b *UDPBackend) Close() error {
	return b.conn.Close()
}

// StatsdExporter periodically scans a set of registries and pushes
// line-format messages to a statsd endpoint: counter cells as deltas
// since the previous push, gauge cells as absolute values. Exactly one
// exporter may scan a given counter; the per-counter delta baselines
// are unlocked by design.
//
// Fields may be adjusted between NewStatsdExporter and Start. A
// SendInterval of zero disables emission entirely: Start logs a
// warning and does nothing.
type StatsdExporter struct {
	SendInterval  time.Duration
	SendOlderThan time.Duration
	Backend       Backend
	Registries    []*Registry
	Logger        log.Logger

	mtx        sync.Mutex
	task       *periodic.Task
	ownBackend *UDPBackend

	// lastEmission is the timestamp of the previous emit cycle in
	// seconds, zero meaning never. Only the exporter task touches it.
	lastEmission float64
}

// NewStatsdExporter returns an exporter with default interval, window,
// backend (UDP to DefaultStatsdAddr, dialed on Start) and registry set
// (the default registry).
func NewStatsdExporter() *StatsdExporter {
	return &StatsdExporter{
		SendInterval:  DefaultSendInterval,
		SendOlderThan: DefaultSendOlderThan,
	}
}

func (e *StatsdExporter) logger() log.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return pkgLogger()
}

// Start registers the exporter's self-metrics to the default registry
// and spawns the periodic emit task. Starting an already-started
// exporter is an error.
func (e *StatsdExporter) Start() error {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	if e.task != nil {
		return errors.New("statsd exporter already started")
	}
	registerSelfMetrics()
	if e.SendInterval <= 0 {
		level.Warn(e.logger()).Log("msg", "send interval is zero, statsd emission disabled")
		return nil
	}
	if e.Backend == nil {
		b, err := NewUDPBackend(DefaultStatsdAddr)
		if err != nil {
			return err
		}
		e.Backend = b
		e.ownBackend = b
	}
	if len(e.Registries) == 0 {
		e.Registries = []*Registry{Default()}
	}
	e.task = periodic.Start("statsd_exporter", e.SendInterval, e.emit, e.Logger)
	return nil
}

// Stop cancels and joins the emit task and closes the backend if the
// exporter dialed it itself. Stopping an exporter that was never
// started is a no-op.
func (e *StatsdExporter) Stop() {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	if e.task == nil {
		return
	}
	e.task.Stop()
	e.task = nil
	if e.ownBackend != nil {
		if err := e.ownBackend.Close(); err != nil {
			level.Warn(e.logger()).Log("msg", "closing statsd backend", "err", err)
		}
		e.ownBackend = nil
		e.Backend = nil
	}
}

// emit is one cycle of the push loop.
func (e *StatsdExporter) emit() {
	start := clock.Now()
	newTS := float64(start.UnixNano()) / 1e9
	staleAfter := newTS - e.SendOlderThan.Seconds()

	var msgs []string
	for _, r := range e.Registries {
		for name, m := range r.Each() {
			for cell := range m.Cells() {
				// Skip cells that have not changed since the previous
				// emission and are still inside the recency window.
				// Both bounds are strict; lastEmission starts at zero,
				// which makes the condition false and forces a full
				// first emission.
				lc := cell.LastChanged()
				if staleAfter < lc && lc < e.lastEmission {
					continue
				}
				switch mt := m.(type) {
				case *Counter:
					msgs = append(msgs, name+":"+formatFloat(mt.emittedDelta(cell))+"|c"+statsdTags(cell))
				case *Gauge:
					msgs = append(msgs, name+":"+formatFloat(cell.Value())+"|g"+statsdTags(cell))
				}
			}
		}
	}

	if e.lastEmission != 0 {
		lagMS := int64(((newTS - e.lastEmission) - e.SendInterval.Seconds()) * 1000)
		if lagMS > 0 {
			selfEmissionLag.Inc(float64(lagMS))
		}
	}

	for _, msg := range msgs {
		if err := e.Backend.Send(msg); err != nil {
			level.Error(e.logger()).Log("msg", "statsd send failed", "err", err)
		}
	}

	e.lastEmission = newTS
	selfPacketsSent.Inc(float64(len(msgs)))
	selfEmissionDuration.Inc(float64(clock.Now().Sub(start).Milliseconds()))
}

// statsdTags renders the "|#k1:v1,k2:v2" tag suffix in canonical label
// order, or "" for an unlabeled cell. Statsd-style, no escaping:
// callers must keep ',', ':', '|' and '#' out of label values.
func statsdTags(cell *Cell) string {
	if len(cell.labels) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("|#")
	for i, l := range cell.labels {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(l.Name)
		b.WriteByte(':')
		b.WriteString(l.Value.String())
	}
	return b.String()
}

// The exporter's own counters, registered to the default registry on
// the first Start.
var (
	selfMetricsOnce      sync.Once
	selfPacketsSent      = NewCounter()
	selfEmissionLag      = NewCounter()
	selfEmissionDuration = NewCounter()
)

func registerSelfMetrics() {
	selfMetricsOnce.Do(func() {
		r := Default()
		for _, nm := range []NamedMetric{
			{Name: "exporter_packets_sent_total", Metric: selfPacketsSent},
			{Name: "exporter_emission_lag_ms_total", Metric: selfEmissionLag},
			{Name: "exporter_emission_duration_ms_total", Metric: selfEmissionDuration},
		} {
			if err := r.Register(nm.Name, nm.Metric); err != nil {
				level.Error(pkgLogger()).Log("msg", "registering exporter self-metric", "metric", nm.Name, "err", err)
			}
		}
	})
}
