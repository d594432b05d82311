package httptransport

import "expvar"

var (
	metricSessionCreateTotal  = expvar.NewInt("session_create_total")
	metricSessionCreateErrors = expvar.NewInt("session_create_errors_total")
	metricSessionJoinTotal    = expvar.NewInt("session_join_total")
	metricSessionResetTotal   = expvar.NewInt("session_reset_total")

	metricLedgerOpTotal    = expvar.NewMap("ledger_op_total")
	metricLedgerOpErrors   = expvar.NewMap("ledger_op_errors_total")
	metricLedgerOpReplayed = expvar.NewInt("ledger_op_replayed_total")
	metricLedgerAnomalies  = expvar.NewInt("ledger_undo_anomalies_total")

	metricStreamConnectionsTotal  = expvar.NewMap("stream_connections_total")
	metricStreamConnectionsActive = expvar.NewInt("stream_connections_active")
	metricStreamBatchesSent       = expvar.NewInt("stream_batches_sent_total")
	metricStreamClosed            = expvar.NewMap("stream_closed_total")
)
