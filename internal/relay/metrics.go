package relay

import (
	"io"

	"github.com/VictoriaMetrics/metrics"
)

// engineMetrics are the relay's debug counters: malformed or unroutable
// datagrams are dropped silently on the wire (nothing to reply to), so a
// counter is the only way to observe them happening.
// Adapted from the VictoriaMetrics/metrics usage in
// R2Northstar-Atlas's pkg/nspkt/listener.go, which hand-writes Prometheus
// text rather than using a registry; we use the library's own counters
// instead since it's already a pack dependency.
type engineMetrics struct {
	dropped           *metrics.Counter
	hostRegistrations *metrics.Counter
	broadcasts        *metrics.Counter
	forwardedToHost   *metrics.Counter
	forwardedToClient *metrics.Counter
}

func newEngineMetrics() engineMetrics {
	return engineMetrics{
		dropped:           metrics.NewCounter("neon_relay_dropped_total"),
		hostRegistrations: metrics.NewCounter("neon_relay_host_registrations_total"),
		broadcasts:        metrics.NewCounter("neon_relay_broadcasts_total"),
		forwardedToHost:   metrics.NewCounter("neon_relay_forwarded_host_total"),
		forwardedToClient: metrics.NewCounter("neon_relay_forwarded_client_total"),
	}
}

// WritePrometheus writes every process-global VictoriaMetrics counter
// (including engineMetrics' own, since metrics.NewCounter registers into the
// default set) as Prometheus text exposition.
func WritePrometheus(w io.Writer) {
	metrics.WritePrometheus(w, true)
}
