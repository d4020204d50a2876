package handlers

import (
	"errors"
	"strings"

	"feedbackhub-backend/internal/policy"

	"github.com/prometheus/client_golang/prometheus"
)

var policyDecisions = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "feedbackhub",
		Subsystem: "policy",
		Name:      "decisions_total",
		Help:      "Feedback operations by outcome",
	},
	[]string{"operation", "outcome"},
)

// RegisterMetrics registers the handler collectors. Registering twice is not
// an error, so tests can build several servers in one process.
func RegisterMetrics(reg prometheus.Registerer) error {
	if err := reg.Register(policyDecisions); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			return nil
		}
		return err
	}
	return nil
}

func observeDecision(operation string, err error) {
	outcome := "allowed"
	if err != nil {
		outcome = "error"
		if kind := policy.KindOf(err); kind != "" {
			outcome = strings.ToLower(string(kind))
		}
	}
	policyDecisions.WithLabelValues(operation, outcome).Inc()
}
