// ABOUTME: Prometheus metrics for the intake gateway
// ABOUTME: Message throughput, dropped frames, and connected operator count

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// InboundMessages counts webhook messages accepted after dedupe.
	InboundMessages = promauto.NewCounter(prometheus.CounterOpts{
		Name: "intake_inbound_messages_total",
		Help: "Inbound WhatsApp messages accepted for processing.",
	})

	// DuplicateDeliveries counts webhook redeliveries dropped by dedupe.
	DuplicateDeliveries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "intake_duplicate_deliveries_total",
		Help: "Webhook deliveries dropped as duplicates.",
	})

	// OutboundMessages counts operator sends forwarded to the gateway.
	OutboundMessages = promauto.NewCounter(prometheus.CounterOpts{
		Name: "intake_outbound_messages_total",
		Help: "Outbound messages forwarded to the WhatsApp gateway.",
	})

	// MalformedFrames counts client frames dropped during decode.
	MalformedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "intake_malformed_frames_total",
		Help: "Malformed push-stream frames dropped.",
	})

	// ConnectedOperators tracks currently attached operator sockets.
	ConnectedOperators = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "intake_connected_operators",
		Help: "Operator push connections currently open.",
	})
)

// Handler returns the scrape endpoint handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
