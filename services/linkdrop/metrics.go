package linkdrop

import "github.com/prometheus/client_golang/prometheus"

var (
	depositsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "linkdrop_deposits_total",
		Help: "Deposits accepted, by whether the key was new",
	}, []string{"key"})

	redemptionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "linkdrop_redemptions_total",
		Help: "Redemption attempts by kind and result",
	}, []string{"kind", "result"})

	compensationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "linkdrop_compensations_total",
		Help: "New-account redemptions rolled back after account creation failed",
	})

	mintRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "linkdrop_mint_requests_total",
		Help: "Collectible mint requests by result",
	}, []string{"result"})
)

func init() {
	prometheus.MustRegister(depositsTotal, redemptionsTotal, compensationsTotal, mintRequestsTotal)
}

func incRedemption(kind RedemptionKind, result string) {
	redemptionsTotal.WithLabelValues(string(kind), result).Inc()
}
