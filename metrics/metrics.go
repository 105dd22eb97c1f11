// Package metrics exposes the broker's runtime activity as Prometheus
// series, grounded on the package-level-vars-plus-init-registration style
// the reference pack's warren metrics package uses.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	messagesSaved = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_messages_saved_total",
			Help: "Total number of messages saved to a destination.",
		},
		[]string{"destination"},
	)

	messagesDispatched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_messages_dispatched_total",
			Help: "Total number of messages pushed to a subscription consumer.",
		},
		[]string{"destination"},
	)

	journalRowsDeleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_journal_rows_deleted_total",
			Help: "Total number of journal rows deleted after their subscribers_count reached zero.",
		},
		[]string{"destination"},
	)

	activeDestinations = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "broker_active_destinations",
			Help: "Number of destinations currently resident in the in-memory registry.",
		},
	)

	workerUtilization = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "broker_worker_busy",
			Help: "Whether a dispatch worker is mid-sweep (1) or idle/waiting (0).",
		},
		[]string{"worker"},
	)

	sweepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "broker_worker_sweep_duration_seconds",
			Help:    "Duration of one dispatch worker drain+sweep pass.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"worker"},
	)
)

func init() {
	prometheus.MustRegister(messagesSaved)
	prometheus.MustRegister(messagesDispatched)
	prometheus.MustRegister(journalRowsDeleted)
	prometheus.MustRegister(activeDestinations)
	prometheus.MustRegister(workerUtilization)
	prometheus.MustRegister(sweepDuration)
}

// Recorder is the narrow metrics collaborator the exchange and dispatch
// worker pool record activity through.
type Recorder interface {
	MessageSaved(destinationURI string)
	MessageDispatched(destinationURI string)
	JournalRowDeleted(destinationURI string)
	ActiveDestinations(n int)
	WorkerBusy(worker int, busy bool)
	SweepDuration(worker int, d time.Duration)
}

// prom is the default Recorder, backed by the package's registered
// Prometheus series.
type prom struct{}

// Default returns the Recorder backed by this package's registered
// Prometheus series.
func Default() Recorder { return prom{} }

func (prom) MessageSaved(uri string)       { messagesSaved.WithLabelValues(uri).Inc() }
func (prom) MessageDispatched(uri string)  { messagesDispatched.WithLabelValues(uri).Inc() }
func (prom) JournalRowDeleted(uri string)  { journalRowsDeleted.WithLabelValues(uri).Inc() }
func (prom) ActiveDestinations(n int)      { activeDestinations.Set(float64(n)) }
func (prom) WorkerBusy(worker int, busy bool) {
	v := 0.0
	if busy {
		v = 1.0
	}
	workerUtilization.WithLabelValues(workerLabel(worker)).Set(v)
}
func (prom) SweepDuration(worker int, d time.Duration) {
	sweepDuration.WithLabelValues(workerLabel(worker)).Observe(d.Seconds())
}

func workerLabel(worker int) string {
	return strconv.Itoa(worker)
}

// noop discards every observation; it backs Config.Metrics when the caller
// does not want Prometheus series registered (e.g. in unit tests that
// construct many Exchanges and would otherwise collide on registration).
type noop struct{}

// Noop returns a Recorder that discards every observation.
func Noop() Recorder { return noop{} }

func (noop) MessageSaved(string)              {}
func (noop) MessageDispatched(string)         {}
func (noop) JournalRowDeleted(string)         {}
func (noop) ActiveDestinations(int)           {}
func (noop) WorkerBusy(int, bool)             {}
func (noop) SweepDuration(int, time.Duration) {}
