/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package gate

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the gate collectors.
type Metrics struct {
	Decisions  *prometheus.CounterVec
	Resolution prometheus.Histogram
}

// NewMetrics registers the gate collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		Decisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "authz_gate_decisions_total",
			Help: "Authorization decisions, labeled by action, outcome and denial reason",
		}, []string{"action", "outcome", "reason"}),
		Resolution: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "authz_gate_resolution_seconds",
			Help:    "Time taken to resolve an authorization requirement",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) observe(d *Decision, elapsed time.Duration) {
	if m == nil {
		return
	}

	m.Decisions.WithLabelValues(d.ActionName, string(d.Status), string(d.Reason)).Inc()
	m.Resolution.Observe(elapsed.Seconds())
}
