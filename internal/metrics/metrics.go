package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

const namespace = "utcp"

// Metrics counts protocol events. A nil *Metrics is valid and records nothing,
// so callers never have to check whether metrics are enabled.
type Metrics struct {
	ActiveConnections prometheus.Gauge
	ConnectionsTotal  prometheus.Counter
	ConnectionErrors  prometheus.Counter
	PacketsReceived   prometheus.Counter
	PacketsSent       prometheus.Counter
	Retransmits       prometheus.Counter
	PayloadBytes      prometheus.Counter
	DecodeErrors      prometheus.Counter
	InboxDropped      prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Connections currently in the registry",
		}),
		ConnectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Connections created since start",
		}),
		ConnectionErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connection_errors_total",
			Help:      "Connections that ended with an error",
		}),
		PacketsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_received_total",
			Help:      "Packets decoded from the wire",
		}),
		PacketsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_sent_total",
			Help:      "Packets written to the wire",
		}),
		Retransmits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retransmits_total",
			Help:      "Packets sent again because the previous copy was not answered",
		}),
		PayloadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payload_bytes_received_total",
			Help:      "Payload bytes accepted in order",
		}),
		DecodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_errors_total",
			Help:      "Datagrams dropped because they could not be decoded",
		}),
		InboxDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbox_dropped_total",
			Help:      "Datagrams dropped because a connection inbox was full",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.ActiveConnections,
			m.ConnectionsTotal,
			m.ConnectionErrors,
			m.PacketsReceived,
			m.PacketsSent,
			m.Retransmits,
			m.PayloadBytes,
			m.DecodeErrors,
			m.InboxDropped,
		)
	}
	return m
}

func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.ActiveConnections.Inc()
	m.ConnectionsTotal.Inc()
}

func (m *Metrics) ConnectionClosed(err error) {
	if m == nil {
		return
	}
	m.ActiveConnections.Dec()
	if err != nil {
		m.ConnectionErrors.Inc()
	}
}

func (m *Metrics) PacketReceived() {
	if m == nil {
		return
	}
	m.PacketsReceived.Inc()
}

// PacketSent records one write; retransmit marks it as a repeat of the
// previous packet.
func (m *Metrics) PacketSent(retransmit bool) {
	if m == nil {
		return
	}
	m.PacketsSent.Inc()
	if retransmit {
		m.Retransmits.Inc()
	}
}

func (m *Metrics) PayloadReceived(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.PayloadBytes.Add(float64(n))
}

func (m *Metrics) DecodeError() {
	if m == nil {
		return
	}
	m.DecodeErrors.Inc()
}

func (m *Metrics) Dropped() {
	if m == nil {
		return
	}
	m.InboxDropped.Inc()
}

func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Serve exposes gatherer on addr under /metrics until ctx is cancelled.
func Serve(ctx context.Context, addr string, gatherer prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("Could not shut down metrics server")
		}
	}()

	log.WithField("Address", addr).Info("Serving metrics")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
