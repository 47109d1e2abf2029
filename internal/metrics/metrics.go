package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "authcore"

var (
	AuthFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_failures_total",
			Help:      "Rejected requests by authentication or authorization failure reason",
		},
		[]string{"reason"},
	)

	TokensIssued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_issued_total",
			Help:      "Issued tokens by kind (access, refresh)",
		},
		[]string{"kind"},
	)

	RefreshRotations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_rotations_total",
			Help:      "Refresh token rotations by result",
		},
		[]string{"result"},
	)

	RefreshRevocations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_revocations_total",
			Help:      "Revoked refresh tokens by scope (single, user)",
		},
		[]string{"scope"},
	)

	SweepDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_sweep_deleted_total",
			Help:      "Expired refresh tokens deleted by sweeper",
		},
	)

	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_errors_total",
			Help:      "Refresh token store infrastructure failures by operation",
		},
		[]string{"op"},
	)
)

// Handler exposes default registry
func Handler() http.Handler {
	return promhttp.Handler()
}
