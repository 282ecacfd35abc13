// Package metrics exposes supervisor, decoder, worker and delivery counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	processStarts  prometheus.Counter
	processExits   *prometheus.CounterVec
	serverUp       prometheus.Gauge
	commands       *prometheus.CounterVec
	linesRead      prometheus.Counter
	events         *prometheus.CounterVec
	decodeFailures *prometheus.CounterVec
	workers        *prometheus.CounterVec
	workersActive  prometheus.Gauge
	deliveries     *prometheus.CounterVec
	publishes      *prometheus.CounterVec
	addressChanges prometheus.Counter
	backups        *prometheus.CounterVec
	schedules      *prometheus.CounterVec
	players        prometheus.Gauge
}

// New registers every collector on a private registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "mcwarden"
	}
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.processStarts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "server_starts_total",
		Help:      "Total number of server process launches",
	})
	m.processExits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "server_exits_total",
		Help:      "Total number of server process exits",
	}, []string{"outcome"})
	m.serverUp = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "server_up",
		Help:      "Whether the server process is running",
	})
	m.commands = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "commands_total",
		Help:      "Commands written to the server or rejected before writing",
	}, []string{"result"})
	m.linesRead = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "output_lines_total",
		Help:      "Total number of server output lines read",
	})
	m.events = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_total",
		Help:      "Classified server events by type",
	}, []string{"type"})
	m.decodeFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "event_decode_failures_total",
		Help:      "Matched lines whose arguments failed to convert",
	}, []string{"type"})
	m.workers = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "workers_total",
		Help:      "Background workers by name and outcome",
	}, []string{"name", "outcome"})
	m.workersActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "workers_active",
		Help:      "Background workers currently running",
	})
	m.deliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "webhook_deliveries_total",
		Help:      "Webhook deliveries by outcome",
	}, []string{"outcome"})
	m.publishes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "nats_publishes_total",
		Help:      "Events published to NATS by outcome",
	}, []string{"outcome"})
	m.addressChanges = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "public_address_changes_total",
		Help:      "Observed changes of the public address",
	})
	m.backups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "backups_total",
		Help:      "World backups by outcome",
	}, []string{"outcome"})

	m.schedules = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "schedule_runs_total",
		Help:      "Scheduled actions by schedule name and outcome",
	}, []string{"schedule", "outcome"})
	m.players = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "players_online",
		Help:      "Players currently online",
	})

	m.registry.MustRegister(
		m.processStarts, m.processExits, m.serverUp, m.commands, m.linesRead, m.events,
		m.decodeFailures, m.workers, m.workersActive, m.deliveries, m.publishes,
		m.addressChanges, m.backups, m.schedules, m.players,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// supervisor hooks

func (m *Metrics) ProcessStarted(string) {
	m.processStarts.Inc()
	m.serverUp.Set(1)
}

func (m *Metrics) ProcessExited(_ string, err error) {
	m.processExits.WithLabelValues(outcome(err)).Inc()
	m.serverUp.Set(0)
}

func (m *Metrics) CommandSent() { m.commands.WithLabelValues("sent").Inc() }

func (m *Metrics) CommandRejected(reason string) { m.commands.WithLabelValues(reason).Inc() }

// worker observer

func (m *Metrics) WorkerStarted(string) { m.workersActive.Inc() }

func (m *Metrics) WorkerFinished(name string, err error) {
	m.workersActive.Dec()
	m.workers.WithLabelValues(name, outcome(err)).Inc()
}

func (m *Metrics) LineRead() { m.linesRead.Inc() }
func (m *Metrics) EventClassified(id string) { m.events.WithLabelValues(id).Inc() }
func (m *Metrics) DecodeFailed(id string) { m.decodeFailures.WithLabelValues(id).Inc() }
func (m *Metrics) WebhookDelivered(err error) { m.deliveries.WithLabelValues(outcome(err)).Inc() }
func (m *Metrics) WebhookRetried() { m.deliveries.WithLabelValues("retry").Inc() }
func (m *Metrics) EventPublished(err error) { m.publishes.WithLabelValues(outcome(err)).Inc() }
func (m *Metrics) PublicAddressChanged() { m.addressChanges.Inc() }
func (m *Metrics) BackupFinished(err error) { m.backups.WithLabelValues(outcome(err)).Inc() }
func (m *Metrics) ScheduleRan(name string, err error) { m.schedules.WithLabelValues(name, outcome(err)).Inc() }
func (m *Metrics) PlayersOnline(n int) { m.players.Set(float64(n)) }
