package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the broker traffic counters
type Metrics struct {
	MessagesDispatched *prometheus.CounterVec
	MessagesDropped    *prometheus.CounterVec
	CommandsPublished  *prometheus.CounterVec
	CommandsDropped    *prometheus.CounterVec
	BrokerConnected    prometheus.Gauge
	SchedulePublishes  prometheus.Counter
}

// New creates the metrics and registers them on reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		MessagesDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "feeder",
			Name:      "messages_dispatched_total",
			Help:      "Inbound broker messages delivered to listeners.",
		}, []string{"topic"}),
		MessagesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "feeder",
			Name:      "messages_dropped_total",
			Help:      "Inbound broker messages dropped before dispatch.",
		}, []string{"topic", "reason"}),
		CommandsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "feeder",
			Name:      "commands_published_total",
			Help:      "Outbound device commands handed to the transport.",
		}, []string{"topic"}),
		CommandsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "feeder",
			Name:      "commands_dropped_total",
			Help:      "Outbound device commands that never reached the transport.",
		}, []string{"topic", "reason"}),
		BrokerConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "feeder",
			Name:      "broker_connected",
			Help:      "1 while the broker session is connected.",
		}),
		SchedulePublishes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "feeder",
			Name:      "schedule_sync_total",
			Help:      "Full schedule republishes triggered by meal changes or reconnects.",
		}),
	}

	reg.MustRegister(
		m.MessagesDispatched,
		m.MessagesDropped,
		m.CommandsPublished,
		m.CommandsDropped,
		m.BrokerConnected,
		m.SchedulePublishes,
	)

	return m
}

// NewUnregistered creates metrics that are not exported anywhere, for tests
func NewUnregistered() *Metrics {
	return New(prometheus.NewRegistry())
}
