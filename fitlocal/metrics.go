// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package fitlocal

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	flushedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fitlocal",
		Subsystem: "queue",
		Name:      "operations_flushed_total",
		Help:      "Pending operations delivered to the remote store.",
	}, []string{"type"})

	failedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fitlocal",
		Subsystem: "queue",
		Name:      "operation_failures_total",
		Help:      "Failed delivery attempts of pending operations.",
	}, []string{"type"})

	deadLetterCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fitlocal",
		Subsystem: "queue",
		Name:      "operations_dead_lettered_total",
		Help:      "Pending operations moved to the dead-letter list.",
	}, []string{"type"})

	queueDepthGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "fitlocal",
		Subsystem: "queue",
		Name:      "depth",
		Help:      "Number of pending operations after the last queue update.",
	})

	writeCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fitlocal",
		Subsystem: "writer",
		Name:      "writes_total",
		Help:      "Local-first writes by domain and outcome (remote, queued, offline).",
	}, []string{"domain", "outcome"})
)

func init() {
	prometheus.MustRegister(flushedCounter, failedCounter, deadLetterCounter, queueDepthGauge, writeCounter)
}

func recordWrite(domain Domain, res SaveResult) {
	outcome := "remote"
	switch {
	case res.LocalOnly:
		outcome = "offline"
	case res.Queued:
		outcome = "queued"
	}
	writeCounter.WithLabelValues(string(domain), outcome).Inc()
}
