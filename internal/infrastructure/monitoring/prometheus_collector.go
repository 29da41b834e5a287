package monitoring

import (
	"time"

	"babaphone/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type PrometheusCollector struct {
	devicesActive      prometheus.Gauge
	registrationsTotal *prometheus.CounterVec
	unregisterTotal    prometheus.Counter

	signalsQueued    *prometheus.CounterVec
	signalsDelivered prometheus.Counter

	relayBytes       prometheus.Counter
	packetsRelayed   prometheus.Counter
	packetsDelivered prometheus.Counter

	expiredTotal *prometheus.CounterVec

	pushConnections prometheus.Gauge
	httpDuration    *prometheus.HistogramVec
}

// NewPrometheusCollector registers the backend metrics with reg.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	factory := promauto.With(reg)

	return &PrometheusCollector{
		devicesActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "babaphone_devices_active",
			Help: "Devices seen within the inactivity timeout at the last listing",
		}),

		registrationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "babaphone_registrations_total",
			Help: "Device registrations by device type",
		}, []string{"device_type"}),

		unregisterTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "babaphone_unregistrations_total",
			Help: "Explicit device unregistrations",
		}),

		signalsQueued: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "babaphone_signals_queued_total",
			Help: "Signals accepted for delivery by signal type",
		}, []string{"signal_type"}),

		signalsDelivered: factory.NewCounter(prometheus.CounterOpts{
			Name: "babaphone_signals_delivered_total",
			Help: "Signals handed to their recipient",
		}),

		relayBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "babaphone_relay_audio_bytes_total",
			Help: "Base64 audio bytes accepted by the relay",
		}),

		packetsRelayed: factory.NewCounter(prometheus.CounterOpts{
			Name: "babaphone_relay_packets_total",
			Help: "Audio packets accepted by the relay",
		}),

		packetsDelivered: factory.NewCounter(prometheus.CounterOpts{
			Name: "babaphone_relay_packets_delivered_total",
			Help: "Audio packets handed to their recipient",
		}),

		expiredTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "babaphone_expired_records_total",
			Help: "Records removed by the janitor",
		}, []string{"kind"}),

		pushConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "babaphone_push_connections",
			Help: "Open websocket push connections",
		}),

		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "babaphone_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"method", "route", "status"}),
	}
}

func (p *PrometheusCollector) DeviceRegistered(deviceType domain.DeviceType) {
	p.registrationsTotal.WithLabelValues(string(deviceType)).Inc()
}

func (p *PrometheusCollector) DeviceUnregistered() {
	p.unregisterTotal.Inc()
}

func (p *PrometheusCollector) ActiveDevices(n int) {
	p.devicesActive.Set(float64(n))
}

func (p *PrometheusCollector) SignalQueued(signalType domain.SignalType) {
	p.signalsQueued.WithLabelValues(string(signalType)).Inc()
}

func (p *PrometheusCollector) SignalsDelivered(n int) {
	p.signalsDelivered.Add(float64(n))
}

func (p *PrometheusCollector) AudioRelayed(bytes int) {
	p.packetsRelayed.Inc()
	p.relayBytes.Add(float64(bytes))
}

func (p *PrometheusCollector) PacketsDelivered(n int) {
	p.packetsDelivered.Add(float64(n))
}

func (p *PrometheusCollector) RecordsExpired(kind string, n int) {
	p.expiredTotal.WithLabelValues(kind).Add(float64(n))
}

func (p *PrometheusCollector) PushConnected() {
	p.pushConnections.Inc()
}

func (p *PrometheusCollector) PushDisconnected() {
	p.pushConnections.Dec()
}

func (p *PrometheusCollector) ObserveHTTP(method, route, status string, d time.Duration) {
	p.httpDuration.WithLabelValues(method, route, status).Observe(d.Seconds())
}
