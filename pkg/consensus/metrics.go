// Copyright 2025 Certen Protocol
//
// Prometheus collectors for the consensus engine.

package consensus

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes the engine's operational gauges and counters.
type Metrics struct {
	BlockHeight    prometheus.Gauge
	AcceptedBlocks prometheus.Counter
	RejectedBlocks prometheus.Counter
	Reorgs         prometheus.Counter
	MempoolSize    prometheus.Gauge
	OrphanCount    prometheus.Gauge
}

// NewMetrics registers the engine collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		BlockHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "zkpow_canon_block_height",
			Help: "Height of the canon chain tip.",
		}),
		AcceptedBlocks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "zkpow_blocks_accepted_total",
			Help: "Blocks committed to the canon chain.",
		}),
		RejectedBlocks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "zkpow_blocks_rejected_total",
			Help: "Blocks rejected by validation.",
		}),
		Reorgs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "zkpow_reorganizations_total",
			Help: "Chain reorganizations performed.",
		}),
		MempoolSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "zkpow_mempool_transactions",
			Help: "Transactions currently in the memory pool.",
		}),
		OrphanCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "zkpow_orphan_blocks",
			Help: "Blocks held pending an unknown parent.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.BlockHeight, m.AcceptedBlocks, m.RejectedBlocks, m.Reorgs, m.MempoolSize, m.OrphanCount)
	}
	return m
}
