// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-jsign.
//
// go-jsign is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package metrics provides Prometheus instrumentation for go-jsign
// operations. Metrics live on a private registry; a one-shot CLI run can
// export them in the node-exporter textfile format with WriteTextfile.
package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// Namespace is the Prometheus namespace for all go-jsign metrics
	Namespace = "jsign"

	// Label names
	LabelOperation = "operation"
	LabelStore     = "store"
	LabelStatus    = "status"
	LabelErrorType = "error_type"
	LabelPath      = "path"
	LabelOutcome   = "outcome"

	// Status values
	StatusSuccess = "success"
	StatusError   = "error"

	// Operation names
	OpBind     = "bind"
	OpDiscover = "discover"
	OpResolve  = "resolve"
	OpSign     = "sign"
	OpCoSign   = "cosign"
	OpVerify   = "verify"
	OpPersist  = "persist"

	// Resolution paths
	PathCached    = "cached"
	PathConfig    = "config"
	PathDiscovery = "discovery"
	PathManual    = "manual"
)

var (
	// Registry holds every go-jsign metric plus the Go runtime and process
	// collectors.
	Registry = prometheus.NewRegistry()

	factory = promauto.With(Registry)

	// OperationsTotal tracks operations by type, store, and status.
	OperationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "operations_total",
			Help:      "Total number of operations by type, key store, and status",
		},
		[]string{LabelOperation, LabelStore, LabelStatus},
	)

	// OperationDuration tracks operation latency. Hardware tokens can take
	// seconds per signature, hence the wide buckets.
	OperationDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "operation_duration_seconds",
			Help:      "Duration of operations in seconds",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{LabelOperation, LabelStore},
	)

	// ErrorsTotal tracks errors by operation, store, and error type.
	ErrorsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "errors_total",
			Help:      "Total number of errors by operation, key store, and error type",
		},
		[]string{LabelOperation, LabelStore, LabelErrorType},
	)

	// ResolutionsTotal tracks how key stores were resolved.
	ResolutionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "resolutions_total",
			Help:      "Total number of key store resolutions by path and outcome",
		},
		[]string{LabelPath, LabelOutcome},
	)

	// enabled tracks whether metrics collection is enabled
	enabled atomic.Bool
)

func init() {
	enabled.Store(true)
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{Namespace: Namespace}),
	)
}

// RecordOperation records an operation with its duration in seconds and
// status.
//
// Example:
//
//	start := time.Now()
//	sig, err := helper.Sign(data)
//	status := metrics.StatusSuccess
//	if err != nil {
//	    status = metrics.StatusError
//	}
//	metrics.RecordOperation(metrics.OpSign, "pkcs11", status, time.Since(start).Seconds())
func RecordOperation(operation, store, status string, duration float64) {
	if !enabled.Load() {
		return
	}
	OperationsTotal.WithLabelValues(operation, store, status).Inc()
	OperationDuration.WithLabelValues(operation, store).Observe(duration)
}

// RecordError records an error event with context about where it occurred.
// errorType should be specific, e.g. "certificate_not_found".
func RecordError(operation, store, errorType string) {
	if !enabled.Load() {
		return
	}
	ErrorsTotal.WithLabelValues(operation, store, errorType).Inc()
}

// RecordResolution records the path a resolution took and its outcome.
func RecordResolution(path, outcome string) {
	if !enabled.Load() {
		return
	}
	ResolutionsTotal.WithLabelValues(path, outcome).Inc()
}

// WriteTextfile writes every metric to path in the text exposition format.
// The file is replaced atomically.
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, Registry)
}

// Enable enables metrics collection.
func Enable() {
	enabled.Store(true)
}

// Disable disables metrics collection.
// Useful for testing or when metrics are not desired.
func Disable() {
	enabled.Store(false)
}

// IsEnabled returns whether metrics collection is currently enabled.
func IsEnabled() bool {
	return enabled.Load()
}
