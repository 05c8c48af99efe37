package report

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry returns a registry holding the run's gauges.
func (r *Report) Registry() *prometheus.Registry {
	reg := prometheus.NewRegistry()

	assets := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "pricecollector",
		Name:      "assets",
		Help:      "Assets of the last run by status.",
	}, []string{"status"})
	records := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "pricecollector",
		Name:      "records",
		Help:      "Merge decisions of the last run.",
	}, []string{"action"})
	providers := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "pricecollector",
		Name:      "provider_collected",
		Help:      "Assets collected per provider in the last run.",
	}, []string{"provider"})
	failures := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "pricecollector",
		Name:      "failures",
		Help:      "Failed assets of the last run by failure kind.",
	}, []string{"kind"})
	prices := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "pricecollector",
		Name:      "asset_price",
		Help:      "Last collected price per asset.",
	}, []string{"asset", "currency", "provider"})
	duration := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "pricecollector",
		Name:      "run_duration_seconds",
		Help:      "Wall time of the last run.",
	})
	finished := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "pricecollector",
		Name:      "last_run_timestamp_seconds",
		Help:      "Unix time the last run finished.",
	})

	reg.MustRegister(assets, records, providers, failures, prices, duration, finished)

	assets.WithLabelValues("total").Set(float64(r.Universe))
	assets.WithLabelValues("collected").Set(float64(len(r.Collected)))
	assets.WithLabelValues("failed").Set(float64(len(r.Failed)))
	records.WithLabelValues("inserted").Set(float64(r.Inserted))
	records.WithLabelValues("updated").Set(float64(r.Updated))
	records.WithLabelValues("skipped").Set(float64(r.Skipped))
	for provider, n := range r.ByProvider() {
		providers.WithLabelValues(provider).Set(float64(n))
	}
	for kind, n := range r.ByKind() {
		failures.WithLabelValues(string(kind)).Set(float64(n))
	}
	for _, c := range r.Collected {
		prices.WithLabelValues(c.AssetCode, c.Currency, c.Provider).Set(c.Price.InexactFloat64())
	}
	duration.Set(r.Duration().Seconds())
	if !r.FinishedAt.IsZero() {
		finished.Set(float64(r.FinishedAt.Unix()))
	}
	return reg
}

// WriteMetrics writes the run's gauges in the node_exporter textfile format.
func (r *Report) WriteMetrics(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create metrics dir: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, r.Registry()); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}
