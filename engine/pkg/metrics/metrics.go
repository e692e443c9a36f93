package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tokenengine_build_info",
			Help: "Build information of the token engine",
		},
		[]string{"version", "commit", "date"},
	)

	MintCyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tokenengine_mint_cycles_total",
			Help: "Total number of mint cycles by terminal status",
		},
		[]string{"status"},
	)

	MintCycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tokenengine_mint_cycle_duration_seconds",
			Help:    "Duration of a mint cycle from tick to terminal status",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 0.1s to ~51s
		},
	)

	EarnEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tokenengine_earn_events_total",
			Help: "Total number of earn admissions by outcome",
		},
		[]string{"outcome"},
	)

	ClaimsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tokenengine_claims_total",
			Help: "Total number of claim settlements by terminal status",
		},
		[]string{"status"},
	)

	ClaimSettlementDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tokenengine_claim_settlement_duration_seconds",
			Help:    "Duration of claim settlement from selection to terminal status",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s to ~4.3m
		},
	)

	BridgeTransfersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tokenengine_bridge_transfers_total",
			Help: "Total number of bridge transfers by terminal status",
		},
		[]string{"status"},
	)

	AccountBalance = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tokenengine_account_balance",
			Help: "Last known cached balance of the pool and owner accounts",
		},
		[]string{"account"},
	)

	BalanceRefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tokenengine_balance_refresh_total",
			Help: "Total number of read-through balance refreshes",
		},
		[]string{"status"},
	)

	OperatorAlertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tokenengine_operator_alerts_total",
			Help: "Total number of operator alerts by delivery status",
		},
		[]string{"status"},
	)
)
