package membership

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var claimsReconciled = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "opensocial_membership_claims_reconciled",
	Help: "Membership claims resolved to a status",
}, []string{"status"})

var claimsDropped = promauto.NewCounter(prometheus.CounterOpts{
	Name: "opensocial_membership_claims_dropped",
	Help: "Membership claims dropped due to malformed records or failed community fetches",
})
