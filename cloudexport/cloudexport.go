// Package cloudexport pushes registry values to Google Cloud
// Monitoring as custom metrics. Every cell becomes one point per emit
// cycle; counters and gauges are both written as double-valued
// GAUGE-style points with the cycle's end time, which is sufficient
// for dashboards over custom metrics.
package cloudexport

import (
	"context"
	"iter"
	"maps"
	"path"
	"slices"
	"sync"
	"time"

	monitoring "cloud.google.com/go/monitoring/apiv3/v2"
	"cloud.google.com/go/monitoring/apiv3/v2/monitoringpb"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/statsd_exporter/pkg/clock"
	"google.golang.org/genproto/googleapis/api/metric"
	"google.golang.org/genproto/googleapis/api/monitoredres"
	"google.golang.org/protobuf/types/known/timestamppb"

	servermetrics "github.com/nikolaybotev/go-server-metrics"
	"github.com/nikolaybotev/go-server-metrics/iterutil"
	"github.com/nikolaybotev/go-server-metrics/periodic"
)

const metricTypePrefix = "custom.googleapis.com/"

// Options carries the optional knobs for an Exporter.
type Options struct {
	// CommonLabels are merged into every emitted series, under the
	// cell's own labels.
	CommonLabels map[string]string
	// Registries to scan; defaults to the default registry.
	Registries []*servermetrics.Registry
	Logger     log.Logger
}

// Exporter writes the cells of a set of registries to Cloud Monitoring
// on a periodic cadence.
type Exporter struct {
	client     *monitoring.MetricClient
	projectID  string
	resource   *monitoredres.MonitoredResource
	namePrefix string
	common     map[string]string
	registries []*servermetrics.Registry
	logger     log.Logger

	mtx  sync.Mutex
	task *periodic.Task
}

// New creates an exporter. The client, project ID and monitored
// resource are required for emission; Emit logs and returns if any is
// missing.
func New(client *monitoring.MetricClient, projectID string, resource *monitoredres.MonitoredResource, namePrefix string, opts *Options) *Exporter {
	if opts == nil {
		opts = &Options{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}
	registries := opts.Registries
	if len(registries) == 0 {
		registries = []*servermetrics.Registry{servermetrics.Default()}
	}
	return &Exporter{
		client:     client,
		projectID:  projectID,
		resource:   resource,
		namePrefix: namePrefix,
		common:     opts.CommonLabels,
		registries: registries,
		logger:     logger,
	}
}

// Emit writes one point per cell to Cloud Monitoring. Failures are
// logged, not retried; the next cycle sends fresh values anyway.
func (e *Exporter) Emit(ctx context.Context) {
	if e.client == nil {
		level.Error(e.logger).Log("msg", "cloud exporter has no metric client")
		return
	}
	if e.projectID == "" {
		level.Error(e.logger).Log("msg", "cloud exporter has no project ID")
		return
	}
	if e.resource == nil {
		level.Error(e.logger).Log("msg", "cloud exporter has no monitored resource")
		return
	}

	series := slices.Collect(e.seriesAt(clock.Now()))
	if len(series) == 0 {
		return
	}
	req := &monitoringpb.CreateTimeSeriesRequest{
		Name:       "projects/" + e.projectID,
		TimeSeries: series,
	}
	if err := e.client.CreateTimeSeries(ctx, req); err != nil {
		level.Error(e.logger).Log("msg", "writing time series", "series", len(series), "err", err)
		return
	}
	level.Debug(e.logger).Log("msg", "wrote time series", "series", len(series))
}

// seriesAt builds the time series for every cell of every registry,
// stamped with the given end time.
func (e *Exporter) seriesAt(now time.Time) iter.Seq[*monitoringpb.TimeSeries] {
	perRegistry := iterutil.Map(slices.Values(e.registries),
		func(r *servermetrics.Registry) iter.Seq[*monitoringpb.TimeSeries] {
			return func(yield func(*monitoringpb.TimeSeries) bool) {
				for name, m := range r.Each() {
					for cell := range m.Cells() {
						if !yield(e.buildSeries(name, cell, now)) {
							return
						}
					}
				}
			}
		})
	return iterutil.Flatten(perRegistry)
}

func (e *Exporter) buildSeries(name string, cell *servermetrics.Cell, now time.Time) *monitoringpb.TimeSeries {
	labels := make(map[string]string, len(e.common))
	maps.Copy(labels, e.common)
	maps.Copy(labels, servermetrics.LabelSet(cell.Labels()).StringMap())

	return &monitoringpb.TimeSeries{
		Metric: &metric.Metric{
			Type:   metricTypePrefix + path.Join(e.namePrefix, name),
			Labels: labels,
		},
		Resource: e.resource,
		Points: []*monitoringpb.Point{
			{
				Interval: &monitoringpb.TimeInterval{
					EndTime: timestamppb.New(now),
				},
				Value: &monitoringpb.TypedValue{
					Value: &monitoringpb.TypedValue_DoubleValue{
						DoubleValue: cell.Value(),
					},
				},
			},
		},
	}
}

// Start spawns a periodic task emitting every interval. Starting an
// already-started exporter is a no-op.
func (e *Exporter) Start(ctx context.Context, interval time.Duration) {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	if e.task != nil {
		return
	}
	e.task = periodic.Start("cloud_exporter", interval, func() { e.Emit(ctx) }, e.logger)
}

// Stop cancels and joins the emit task. Stopping an exporter that was
// never started is a no-op.
func (e *Exporter) Stop() {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	if e.task == nil {
		return
	}
	e.task.Stop()
	e.task = nil
}
