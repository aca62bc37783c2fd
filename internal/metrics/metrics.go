// Package metrics holds the Prometheus collectors for the link.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Inbound framing
	LinesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gpslink_lines_received_total",
		Help: "Total number of inbound lines decoded",
	})

	LinesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gpslink_lines_dropped_total",
		Help: "Total number of inbound lines dropped by the decoder",
	}, []string{"reason"}) // reason: encoding, too_long

	// Outbound
	MessagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gpslink_messages_sent_total",
		Help: "Total number of outbound messages written",
	})

	BytesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gpslink_bytes_sent_total",
		Help: "Total number of outbound bytes written",
	})

	SendFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gpslink_send_failures_total",
		Help: "Total number of failed outbound writes",
	})

	// Location
	LocationRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gpslink_location_requests_total",
		Help: "Total number of location requests from the peer",
	}, []string{"result"}) // result: answered, no_fix, denied, send_failed

	LocationReports = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gpslink_location_reports_total",
		Help: "Total number of periodic location reports",
	}, []string{"result"}) // result: sent, failed, throttled

	// Connection lifecycle
	Connected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gpslink_connected",
		Help: "1 while a peer connection is open",
	})

	ConnectionsLost = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gpslink_connections_lost_total",
		Help: "Total number of connections terminated by a read failure",
	})
)
