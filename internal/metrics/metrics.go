// Package metrics registers the Prometheus instruments exposed on
// /metrics.  All instruments are package-level so every layer can
// record without plumbing a registry through constructors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CheckIns counts successful check-ins, partitioned by event code.
	CheckIns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "access_check_ins_total",
		Help: "Successful check-ins recorded on the ledger.",
	}, []string{"event"})

	// CheckOuts counts successful check-outs, partitioned by event code.
	CheckOuts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "access_check_outs_total",
		Help: "Successful check-outs recorded on the ledger.",
	}, []string{"event"})

	// Rejections counts refused admissions by reason
	// (not_found, not_approved, already_inside, not_inside, capacity, conflict).
	Rejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "access_rejections_total",
		Help: "Admission attempts refused, by reason.",
	}, []string{"event", "reason"})

	// Inside tracks the current number of participants inside, by event code.
	Inside = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "access_inside_current",
		Help: "Participants currently inside the venue.",
	}, []string{"event"})

	// Registrations counts successful participant registrations.
	Registrations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "access_registrations_total",
		Help: "Participants registered, by event code.",
	}, []string{"event"})

	// ConflictRetries counts transparent retries after lock conflicts.
	ConflictRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "access_conflict_retries_total",
		Help: "Admission attempts retried after a deadlock or lock wait timeout.",
	})
)
