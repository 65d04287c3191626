package codec

import (
	"fmt"

	"github.com/VictoriaMetrics/metrics"
)

// --------------------------------------------------------------------------
// Metrics (exposed in Prometheus text format via metrics.WritePrometheus)
// --------------------------------------------------------------------------

var (
	objectsWritten  = metrics.NewCounter(`objgraph_objects_written_total`)
	backRefsWritten = metrics.NewCounter(`objgraph_backrefs_written_total`)
	resetsWritten   = metrics.NewCounter(`objgraph_resets_written_total`)
	bytesWritten    = metrics.NewCounter(`objgraph_bytes_written_total`)
	encodeErrors    = metrics.NewCounter(`objgraph_encode_errors_total`)

	objectsRead   = metrics.NewCounter(`objgraph_objects_read_total`)
	backRefsRead  = metrics.NewCounter(`objgraph_backrefs_read_total`)
	droppedFields = metrics.NewCounter(`objgraph_dropped_fields_total`)

	graphSize = metrics.NewHistogram(`objgraph_graph_bytes`)
)

// decodeError counts a failed decode by error kind
func decodeError(err error) {
	metrics.GetOrCreateCounter(fmt.Sprintf(`objgraph_decode_errors_total{kind=%q}`, errorKind(err))).Inc()
}

// filterRejected counts a record rejected by the filter policy. reason is one
// of type, depth or handles.
func filterRejected(reason string) {
	metrics.GetOrCreateCounter(fmt.Sprintf(`objgraph_filter_rejections_total{reason=%q}`, reason)).Inc()
}
