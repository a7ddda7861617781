package publish

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// attemptsTotal counts draft and publish attempts by outcome code
	attemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guidepost_attempts_total",
		Help: "Draft and publish attempts by operation and outcome code",
	}, []string{"operation", "code"})

	// attemptDuration tracks end-to-end latency of an attempt
	attemptDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "guidepost_attempt_duration_seconds",
		Help:    "Draft and publish attempt duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
	}, []string{"operation"})

	// rollbacksTotal counts rollbacks by whether every bundle was restored
	rollbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guidepost_rollbacks_total",
		Help: "Rollbacks by result (restored, failed)",
	}, []string{"result"})

	// lockContentionTotal counts publish attempts turned away by a held lock
	lockContentionTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "guidepost_lock_contention_total",
		Help: "Publish attempts rejected because the publish lock was held",
	})

	// contentVersion is the last version number this process published
	contentVersion = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "guidepost_content_version",
		Help: "Last content version published by this process",
	})
)

const (
	opDraft   = "draft"
	opPublish = "publish"
)
