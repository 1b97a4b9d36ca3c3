package metrics

import "expvar"

var (
	OrdersPlaced    = expvar.NewInt("orders_placed")
	CountersPlaced  = expvar.NewInt("counters_placed")
	FillsDetected   = expvar.NewInt("fills_detected")
	ReconcilePasses = expvar.NewInt("reconcile_passes")
	ReconcileErrors = expvar.NewInt("reconcile_errors")
	RebalanceSwaps  = expvar.NewInt("rebalance_swaps")
)
