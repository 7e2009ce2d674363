package policy

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var decisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "qcgate_policy_decisions_total",
	Help: "Policy evaluations by action, permission and what produced the decision",
}, []string{"action", "permission", "source"})

func recordDecision(d Decision) {
	source := "default"
	switch {
	case d.MatchedOverride != nil:
		source = "override"
	case d.MatchedRule != nil:
		source = "rule"
	}
	decisionsTotal.WithLabelValues(string(d.Action), string(d.Permission), source).Inc()
}
