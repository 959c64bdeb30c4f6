/*
 *
 * Copyright 2025 gRPC authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

package rpc

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics holds the Prometheus instrumentation shared by a Service or
// Client. A nil *metrics (the zero value used before any registry is
// wired in) makes every Record* call a no-op, so instrumentation is
// always optional.
type metrics struct {
	callsTotal        *prometheus.CounterVec
	callDuration      prometheus.Histogram
	connectionsActive prometheus.Gauge
	notifyFanout      prometheus.Counter
	ringReadAvail     *prometheus.GaugeVec
	ringWriteAvail    *prometheus.GaugeVec
}

var (
	globalMetrics     *metrics
	globalMetricsOnce sync.Once
	globalMetricsMu   sync.Mutex
)

func newMetrics(namespace string, registry prometheus.Registerer) *metrics {
	factory := promauto.With(registry)
	return &metrics{
		callsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_total",
			Help:      "Total number of RPC calls by outcome status.",
		}, []string{"status"}),
		callDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "call_duration_seconds",
			Help:      "Round-trip latency of RPC calls.",
			Buckets:   prometheus.DefBuckets,
		}),
		connectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Number of live connections held by Services and Clients.",
		}),
		notifyFanout: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notify_fanout_total",
			Help:      "Total number of per-connection notify deliveries.",
		}),
		ringReadAvail: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ring_read_available_bytes",
			Help:      "Ring bytes available to read, sampled on each signal.",
		}, []string{"direction"}),
		ringWriteAvail: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ring_write_available_bytes",
			Help:      "Ring bytes available to write, sampled on each signal.",
		}, []string{"direction"}),
	}
}

// resolveMetrics builds a fresh set of collectors registered against
// registry when one is given; otherwise it lazily initializes (and
// memoizes) the process-wide default registered against
// prometheus.DefaultRegisterer.
func resolveMetrics(registry prometheus.Registerer) *metrics {
	if registry != nil {
		return newMetrics("rpc", registry)
	}
	globalMetricsMu.Lock()
	defer globalMetricsMu.Unlock()
	if globalMetrics == nil {
		globalMetrics = newMetrics("rpc", prometheus.DefaultRegisterer)
	}
	return globalMetrics
}

func (m *metrics) recordCall(status Status, seconds float64) {
	if m == nil {
		return
	}
	m.callsTotal.WithLabelValues(status.String()).Inc()
	m.callDuration.Observe(seconds)
}

func (m *metrics) connectionOpened() {
	if m == nil {
		return
	}
	m.connectionsActive.Inc()
}

func (m *metrics) connectionClosed() {
	if m == nil {
		return
	}
	m.connectionsActive.Dec()
}

func (m *metrics) notifyDelivered(n int) {
	if m == nil {
		return
	}
	m.notifyFanout.Add(float64(n))
}

func (m *metrics) sampleRing(direction string, readAvail, writeAvail int) {
	if m == nil {
		return
	}
	m.ringReadAvail.WithLabelValues(direction).Set(float64(readAvail))
	m.ringWriteAvail.WithLabelValues(direction).Set(float64(writeAvail))
}
