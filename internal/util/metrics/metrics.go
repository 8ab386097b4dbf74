/**
* Copyright 2018 Comcast Cable Communications Management, LLC
* Licensed under the Apache License, Version 2.0 (the "License");
* you may not use this file except in compliance with the License.
* You may obtain a copy of the License at
* http://www.apache.org/licenses/LICENSE-2.0
* Unless required by applicable law or agreed to in writing, software
* distributed under the License is distributed on an "AS IS" BASIS,
* WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
* See the License for the specific language governing permissions and
* limitations under the License.
 */

// Package metrics holds the application's Prometheus collectors, mirroring
// the teacher's internal/util/metrics usage (metrics.ProxyRequestStatus,
// metrics.ProxyRequestDuration in internal/proxy/engines/httpproxy.go),
// adapted from per-origin timeseries labels to this proxy's cache/fetch
// concerns.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// CacheSize reports the current number of entries in the cache.
	CacheSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "proxy",
		Subsystem: "cache",
		Name:      "size",
		Help:      "Current number of entries held in the GDSF cache.",
	})

	// CacheRequests counts cache lookups by outcome ("hit"/"miss").
	CacheRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "proxy",
		Subsystem: "cache",
		Name:      "requests_total",
		Help:      "Count of cache lookups by outcome.",
	}, []string{"outcome"})

	// CacheEvictions counts tail evictions.
	CacheEvictions = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "proxy",
		Subsystem: "cache",
		Name:      "evictions_total",
		Help:      "Count of cache entries evicted from the tail.",
	})

	// FetchDuration observes the wall time of successful origin fetches.
	FetchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "proxy",
		Subsystem: "fetch",
		Name:      "duration_seconds",
		Help:      "Time spent fetching a response from an origin server.",
		Buckets:   prometheus.DefBuckets,
	})

	// FetchAttempts counts fetch attempts by outcome ("success"/"timeout"/"connect_failure"/"partial_read"/"dns_failure").
	FetchAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "proxy",
		Subsystem: "fetch",
		Name:      "attempts_total",
		Help:      "Count of origin fetch attempts by outcome.",
	}, []string{"outcome"})

	// ActiveConnections tracks in-flight client connections handled by the dispatcher.
	ActiveConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "proxy",
		Subsystem: "dispatcher",
		Name:      "active_connections",
		Help:      "Number of client connections currently being served.",
	})
)

func init() {
	prometheus.MustRegister(
		CacheSize,
		CacheRequests,
		CacheEvictions,
		FetchDuration,
		FetchAttempts,
		ActiveConnections,
	)
}
