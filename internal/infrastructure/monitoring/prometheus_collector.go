package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type PrometheusCollector struct {
	participantsConnected prometheus.Gauge
	roomsActive           prometheus.Gauge

	roomsCreatedTotal     prometheus.Counter
	messagesForwarded     *prometheus.CounterVec
	broadcastsTotal       *prometheus.CounterVec
	joinFailuresTotal     *prometheus.CounterVec
	droppedForwardsTotal  prometheus.Counter
	messageHandleDuration prometheus.Histogram
}

func NewPrometheusCollector() *PrometheusCollector {
	return &PrometheusCollector{
		participantsConnected: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "huddle_participants_connected",
			Help: "Number of participants with a live relay connection",
		}),

		roomsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "huddle_rooms_active",
			Help: "Number of active rooms",
		}),

		roomsCreatedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "huddle_rooms_created_total",
			Help: "Total number of rooms created",
		}),

		messagesForwarded: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "huddle_messages_forwarded_total",
			Help: "Point-to-point negotiation messages forwarded between participants",
		}, []string{"type"}),

		broadcastsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "huddle_broadcasts_total",
			Help: "Room lifecycle notifications broadcast to members",
		}, []string{"type"}),

		joinFailuresTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "huddle_join_failures_total",
			Help: "Join attempts rejected, by reason",
		}, []string{"reason"}),

		droppedForwardsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "huddle_dropped_forwards_total",
			Help: "Forwarded messages dropped because the destination had no live connection",
		}),

		messageHandleDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "huddle_message_handle_duration_seconds",
			Help:    "Time spent handling a single inbound relay message",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}),
	}
}

func (p *PrometheusCollector) RecordParticipantConnected()    { p.participantsConnected.Inc() }
func (p *PrometheusCollector) RecordParticipantDisconnected() { p.participantsConnected.Dec() }

func (p *PrometheusCollector) RecordRoomCreated() {
	p.roomsCreatedTotal.Inc()
	p.roomsActive.Inc()
}

func (p *PrometheusCollector) RecordRoomClosed() { p.roomsActive.Dec() }

func (p *PrometheusCollector) RecordMessageForwarded(messageType string) {
	p.messagesForwarded.WithLabelValues(messageType).Inc()
}

func (p *PrometheusCollector) RecordBroadcast(messageType string) {
	p.broadcastsTotal.WithLabelValues(messageType).Inc()
}

func (p *PrometheusCollector) RecordJoinFailure(reason string) {
	p.joinFailuresTotal.WithLabelValues(reason).Inc()
}

func (p *PrometheusCollector) RecordDroppedForward() { p.droppedForwardsTotal.Inc() }

func (p *PrometheusCollector) RecordMessageHandled(seconds float64) {
	p.messageHandleDuration.Observe(seconds)
}
