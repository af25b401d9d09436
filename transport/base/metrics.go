package base

import (
	"sync/atomic"

	"github.com/VictoriaMetrics/metrics"
)

// --------------------------------------------------------------------------
// Client Metrics
// --------------------------------------------------------------------------

// inflightRequests tracks the number of registered pending requests across
// all transports of the process; exposed through the gauge below.
var inflightRequests atomic.Int64

// readyConnections tracks how many connections are currently in the ready
// state, maintained by the state-transition fan-out.
var readyConnections atomic.Int64

var (
	metricRequests    = metrics.NewCounter(`gotnt_requests_total`)
	metricErrors      = metrics.NewCounter(`gotnt_request_errors_total`)
	metricDropped     = metrics.NewCounter(`gotnt_unmatched_responses_total`)
	metricReconnects  = metrics.NewCounter(`gotnt_reconnects_total`)
	metricConnectErrs = metrics.NewCounter(`gotnt_connect_errors_total`)

	_ = metrics.NewGauge(`gotnt_inflight_requests`, func() float64 {
		return float64(inflightRequests.Load())
	})
	_ = metrics.NewGauge(`gotnt_ready_connections`, func() float64 {
		return float64(readyConnections.Load())
	})
)
