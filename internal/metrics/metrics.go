// Package metrics exports feeder activity as Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sweeney/henny/internal/motor"
)

// Recorder implements motor.Recorder and counts feed outcomes. A nil
// *Recorder is valid and records nothing.
type Recorder struct {
	reg *prom.Registry

	feeds         *prom.CounterVec
	runSeconds    prom.Histogram
	stops         *prom.CounterVec
	clamps        prom.Counter
	storeFailures prom.Counter
	motorRunning  prom.Gauge
}

// New registers the feeder metrics on reg, or on a fresh registry when reg
// is nil.
func New(reg *prom.Registry) *Recorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	r := &Recorder{
		reg: reg,
		feeds: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "henny",
			Name:      "feeds_total",
			Help:      "Feed requests by source and result",
		}, []string{"source", "result"}),
		runSeconds: prom.NewHistogram(prom.HistogramOpts{
			Namespace: "henny",
			Name:      "motor_run_seconds",
			Help:      "Scheduled motor run length",
			Buckets:   []float64{1, 2, 5, 10, 15, 20, 25, 30},
		}),
		stops: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "henny",
			Name:      "motor_stops_total",
			Help:      "Motor stops by reason",
		}, []string{"reason"}),
		clamps: prom.NewCounter(prom.CounterOpts{
			Namespace: "henny",
			Name:      "motor_clamped_runs_total",
			Help:      "Runs shortened to the safety ceiling",
		}),
		storeFailures: prom.NewCounter(prom.CounterOpts{
			Namespace: "henny",
			Name:      "store_write_failures_total",
			Help:      "Failed config file writes",
		}),
		motorRunning: prom.NewGauge(prom.GaugeOpts{
			Namespace: "henny",
			Name:      "motor_running",
			Help:      "1 while the spreader motor runs",
		}),
	}
	reg.MustRegister(r.feeds, r.runSeconds, r.stops, r.clamps, r.storeFailures, r.motorRunning)
	return r
}

// MotorStarted implements motor.Recorder.
func (r *Recorder) MotorStarted(d time.Duration, clamped bool) {
	if r == nil {
		return
	}
	r.motorRunning.Set(1)
	r.runSeconds.Observe(d.Seconds())
	if clamped {
		r.clamps.Inc()
	}
}

// MotorStopped implements motor.Recorder.
func (r *Recorder) MotorStopped(reason motor.StopReason, _ time.Duration) {
	if r == nil {
		return
	}
	r.motorRunning.Set(0)
	r.stops.WithLabelValues(string(reason)).Inc()
}

// IncFeed counts a feed request outcome.
func (r *Recorder) IncFeed(source, result string) {
	if r == nil {
		return
	}
	r.feeds.WithLabelValues(source, result).Inc()
}

// IncStoreWriteFailure counts a failed config write.
func (r *Recorder) IncStoreWriteFailure() {
	if r == nil {
		return
	}
	r.storeFailures.Inc()
}

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
