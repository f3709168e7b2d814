// An example server that wires the library end to end: a metrics
// collection registered to the default registry, a periodic upkeep
// task, a statsd push exporter, and the text scrape handler mounted on
// /metrics.
package main

import (
	"context"
	"io"
	"net/http"
	"os"
	"runtime"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/oklog/run"

	servermetrics "github.com/nikolaybotev/go-server-metrics"
	"github.com/nikolaybotev/go-server-metrics/cloudexport"
	"github.com/nikolaybotev/go-server-metrics/periodic"
)

var (
	listenAddress = kingpin.Flag("listen-address", "Address to serve the /metrics scrape endpoint on.").
			Default(":9090").String()
	statsdAddress = kingpin.Flag("statsd.address", "UDP endpoint to push statsd messages to.").
			Default(servermetrics.DefaultStatsdAddr).String()
	sendInterval = kingpin.Flag("statsd.send-interval", "How often to push statsd messages; 0 disables pushing.").
			Default("10s").Duration()
	cloudProjectID = kingpin.Flag("cloud.project-id", "GCP project to push metrics to. Defaults to the metadata server's project; empty off GCP disables the Cloud Monitoring exporter.").
			Default("").String()
	cloudInterval = kingpin.Flag("cloud.send-interval", "How often to push metrics to Cloud Monitoring.").
			Default("60s").Duration()
)

// appMetrics declares the program's metrics as a unit.
type appMetrics struct {
	UptimeSeconds *servermetrics.Counter
	Goroutines    *servermetrics.Gauge
	Requests      *servermetrics.Counter
}

func (a *appMetrics) Metrics() []servermetrics.NamedMetric {
	return []servermetrics.NamedMetric{
		{Name: "uptime_seconds_total", Metric: a.UptimeSeconds},
		{Name: "goroutines", Metric: a.Goroutines},
		{Name: "http_requests_total", Metric: a.Requests},
	}
}

func main() {
	kingpin.Parse()

	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	servermetrics.SetLogger(logger)

	app := &appMetrics{
		UptimeSeconds: servermetrics.NewCounter(),
		Goroutines:    servermetrics.NewGauge(0),
		Requests: servermetrics.NewGroupedCounter(servermetrics.LabelSchema{
			"path": servermetrics.LabelString,
			"code": servermetrics.LabelInt64,
		}),
	}
	if err := servermetrics.Publish(app); err != nil {
		level.Error(logger).Log("msg", "registering metrics", "err", err)
		os.Exit(1)
	}

	started := time.Now()
	upkeep := periodic.Start("upkeep", time.Second, func() {
		app.UptimeSeconds.SetIfGreater(time.Since(started).Seconds())
		app.Goroutines.Set(float64(runtime.NumGoroutine()))
	}, logger)
	defer upkeep.Stop()

	exporter := servermetrics.NewStatsdExporter()
	exporter.SendInterval = *sendInterval
	exporter.Logger = logger
	if *statsdAddress != servermetrics.DefaultStatsdAddr {
		backend, err := servermetrics.NewUDPBackend(*statsdAddress)
		if err != nil {
			level.Error(logger).Log("msg", "dialing statsd endpoint", "err", err)
			os.Exit(1)
		}
		exporter.Backend = backend
	}
	if err := exporter.Start(); err != nil {
		level.Error(logger).Log("msg", "starting statsd exporter", "err", err)
		os.Exit(1)
	}
	defer exporter.Stop()

	if project := cloudexport.ResolveProjectID(*cloudProjectID); project != "" {
		ctx := context.Background()
		client, err := cloudexport.NewClient(ctx, cloudexport.ClientConfig{})
		if err != nil {
			level.Error(logger).Log("msg", "creating metric client", "err", err)
			os.Exit(1)
		}
		defer client.Close()

		cloud := cloudexport.New(client, project, cloudexport.GenericNodeResource(project, ""), "go",
			&cloudexport.Options{Logger: logger})
		cloud.Start(ctx, *cloudInterval)
		defer cloud.Stop()
	} else {
		level.Info(logger).Log("msg", "no GCP project configured, cloud exporter disabled")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		app.Requests.Inc(1,
			servermetrics.String("path", r.URL.Path),
			servermetrics.Int("code", http.StatusOK),
		)
		io.WriteString(w, servermetrics.HandleScrape())
	})
	srv := &http.Server{Addr: *listenAddress, Handler: mux}

	var g run.Group
	g.Add(func() error {
		level.Info(logger).Log("msg", "serving metrics", "addr", *listenAddress)
		return srv.ListenAndServe()
	}, func(error) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	})
	g.Add(run.SignalHandler(context.Background(), os.Interrupt, syscall.SIGTERM))

	if err := g.Run(); err != nil {
		level.Info(logger).Log("msg", "exiting", "reason", err)
	}
}
