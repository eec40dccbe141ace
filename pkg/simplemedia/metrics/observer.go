// Package metrics exports pipeline measurements to Prometheus.
package metrics

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tendant/simple-media/pkg/simplemedia"
)

// Observer implements simplemedia.Observer.
type Observer struct {
	stepDuration *prometheus.HistogramVec
	runDuration  *prometheus.HistogramVec
	runs         *prometheus.CounterVec
	warnings     *prometheus.CounterVec
	uploads      *prometheus.CounterVec
}

var _ simplemedia.Observer = (*Observer)(nil)

// New registers the pipeline collectors under namespace (default
// "simple_media"). Registering twice against the same registerer reuses the
// existing collectors.
func New(namespace string, reg prometheus.Registerer) (*Observer, error) {
	if namespace == "" {
		namespace = "simple_media"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	o := &Observer{
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Duration of ingestion steps.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"step", "kind"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of whole ingestion runs.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"outcome"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Ingestion runs by outcome and failure kind.",
		}, []string{"outcome", "kind"}),
		warnings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "run_warnings_total",
			Help:      "Non-fatal warnings raised by ingestion runs.",
		}, []string{"kind"}),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upload_authorizations_total",
			Help:      "Upload authorization requests by role and result.",
		}, []string{"role", "result"}),
	}

	var err error
	if o.stepDuration, err = register(reg, o.stepDuration); err != nil {
		return nil, err
	}
	if o.runDuration, err = register(reg, o.runDuration); err != nil {
		return nil, err
	}
	if o.runs, err = register(reg, o.runs); err != nil {
		return nil, err
	}
	if o.warnings, err = register(reg, o.warnings); err != nil {
		return nil, err
	}
	if o.uploads, err = register(reg, o.uploads); err != nil {
		return nil, err
	}
	return o, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, fmt.Errorf("register metrics collector: %w", err)
	}
	return c, nil
}

func (o *Observer) StepCompleted(step simplemedia.Step, duration time.Duration, kind simplemedia.Kind) {
	if o == nil {
		return
	}
	o.stepDuration.WithLabelValues(string(step), kindLabel(kind)).Observe(duration.Seconds())
}

func (o *Observer) RunCompleted(result *simplemedia.RunResult, duration time.Duration) {
	if o == nil || result == nil {
		return
	}
	outcome, kind := "success", "none"
	switch {
	case result.Skipped:
		outcome = "skipped"
	case !result.Success:
		outcome = "failed"
		kind = string(simplemedia.KindOf(result.Err))
	}
	o.runs.WithLabelValues(outcome, kind).Inc()
	o.runDuration.WithLabelValues(outcome).Observe(duration.Seconds())
	for _, w := range result.Warnings {
		o.warnings.WithLabelValues(string(simplemedia.KindOf(w))).Inc()
	}
}

func (o *Observer) UploadAuthorized(role simplemedia.Role, kind simplemedia.Kind) {
	if o == nil {
		return
	}
	result := "issued"
	if kind != "" {
		result = string(kind)
	}
	o.uploads.WithLabelValues(string(role), result).Inc()
}

// Handler serves the metrics of gatherer, or the default gatherer when nil.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	if gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func kindLabel(k simplemedia.Kind) string {
	if k == "" {
		return "none"
	}
	return string(k)
}
