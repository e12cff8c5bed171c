// Package metrics counts crawl progress in Prometheus form. A Collector is a
// crawler.Listener on its own registry, so several runs in one process never
// share counters.
package metrics

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/v0xg/sitecrawl/internal/crawler"
)

const namespace = "sitecrawl"

// Collector turns session events into metrics.
type Collector struct {
	reg *prometheus.Registry

	routes      *prometheus.CounterVec
	actuations  *prometheus.CounterVec
	navigations *prometheus.CounterVec
	overlays    *prometheus.CounterVec
	anomalies   *prometheus.CounterVec
	pass        *prometheus.GaugeVec
	duration    *prometheus.GaugeVec
}

var _ crawler.Listener = (*Collector)(nil)

// New creates a Collector with a fresh registry.
func New() *Collector {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Collector{
		reg: reg,
		routes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "routes_total",
			Help:      "Route loads by phase and outcome.",
		}, []string{"identity", "phase", "outcome"}),
		actuations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actuations_total",
			Help:      "Element actuations by kind and outcome.",
		}, []string{"identity", "kind", "outcome"}),
		navigations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "navigations_total",
			Help:      "Actuations that navigated away from their route.",
		}, []string{"identity"}),
		overlays: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "overlays_total",
			Help:      "Overlays seen after actuations, by whether they could be dismissed.",
		}, []string{"identity", "outcome"}),
		anomalies: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "anomalies_total",
			Help:      "Recorded anomalies by type: console, client_error or server_error.",
		}, []string{"identity", "type"}),
		pass: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_pass",
			Help:      "1 if the identity's session passed, 0 otherwise.",
		}, []string{"identity"}),
		duration: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Wall time of the identity's session.",
		}, []string{"identity"}),
	}
}

// Registry exposes the collector's registry.
func (c *Collector) Registry() *prometheus.Registry { return c.reg }

// RouteDone counts route loads.
func (c *Collector) RouteDone(ev crawler.RouteEvent) {
	outcome := "ok"
	if ev.Err != nil {
		outcome = "error"
	}
	c.routes.WithLabelValues(ev.Identity, ev.Phase, outcome).Inc()
}

// Actuated counts actuations and navigations.
func (c *Collector) Actuated(ev crawler.ActuationEvent) {
	outcome := "ok"
	if ev.Result.Err != nil {
		outcome = "failed"
	}
	c.actuations.WithLabelValues(ev.Identity, ev.Result.Element.Kind.String(), outcome).Inc()
	if ev.Result.Navigated {
		c.navigations.WithLabelValues(ev.Identity).Inc()
	}
}

// SessionDone records the session's anomalies, overlays and verdict.
func (c *Collector) SessionDone(res *crawler.SessionResult) {
	id := res.Identity
	c.overlays.WithLabelValues(id, "dismissed").Add(float64(res.Actuations.OverlaysDismissed))
	c.overlays.WithLabelValues(id, "stuck").Add(float64(res.Actuations.OverlaysStuck))

	c.anomalies.WithLabelValues(id, "console").Add(float64(len(res.ConsoleErrors)))
	var server, client float64
	for _, f := range res.NetworkFailures {
		if f.ServerError() {
			server++
		} else {
			client++
		}
	}
	c.anomalies.WithLabelValues(id, "client_error").Add(client)
	c.anomalies.WithLabelValues(id, "server_error").Add(server)

	pass := 0.0
	if res.Verdict.Pass {
		pass = 1
	}
	c.pass.WithLabelValues(id).Set(pass)
	c.duration.WithLabelValues(id).Set(res.Duration.Seconds())
}

// Handler serves the collector's metrics.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{})
}

// WriteTextfile writes the metrics in the text exposition format, for the
// node_exporter textfile collector.
func (c *Collector) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("metrics: create dir: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, c.reg); err != nil {
		return fmt.Errorf("metrics: write %s: %w", path, err)
	}
	return nil
}
