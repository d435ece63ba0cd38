// Package metrics declares the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Verifications counts verification attempts by outcome tag.
	Verifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "siteattend",
		Name:      "verifications_total",
		Help:      "Photo verification attempts by outcome.",
	}, []string{"outcome"})

	// FaceCalls observes face directory latency by operation and result.
	FaceCalls = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "siteattend",
		Name:      "face_directory_seconds",
		Help:      "Face directory call latency.",
		Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
	}, []string{"op", "result"})

	// Enrollments counts face enrollment results.
	Enrollments = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "siteattend",
		Name:      "face_enrollments_total",
		Help:      "Face enrollment attempts by result.",
	}, []string{"result"})

	// CleanupJobs counts processed face cleanup jobs.
	CleanupJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "siteattend",
		Name:      "face_cleanup_jobs_total",
		Help:      "Stray face enrollment cleanup jobs by result.",
	}, []string{"result"})
)
