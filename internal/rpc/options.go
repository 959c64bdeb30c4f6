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
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// RingCapacity is the default per-direction ring size, matching the
// reference protocol constant. It must be a power of two.
const RingCapacity = 262144

// serviceConfig collects the options a Service is constructed with.
type serviceConfig struct {
	ringCapacity     int
	protocolVersion  uint16
	logger           logrus.FieldLogger
	metricsRegistry  prometheus.Registerer
	connectLimiter   *rate.Limiter
	notifyLimiter    *rate.Limiter
}

func defaultServiceConfig() serviceConfig {
	return serviceConfig{
		ringCapacity:    RingCapacity,
		protocolVersion: ProtocolVersion,
	}
}

// ServiceOption configures a Service at construction time.
type ServiceOption func(*serviceConfig)

// WithRingCapacity overrides the per-direction ring capacity. Must be a
// power of two; NewService returns an error otherwise.
func WithRingCapacity(bytes int) ServiceOption {
	return func(c *serviceConfig) { c.ringCapacity = bytes }
}

// WithServiceProtocolVersion overrides the protocol version a Service
// advertises during the handshake. Defaults to ProtocolVersion; only
// useful for deliberately testing version-mismatch handling.
func WithServiceProtocolVersion(version uint16) ServiceOption {
	return func(c *serviceConfig) { c.protocolVersion = version }
}

// WithServiceLogger overrides the logger a Service reports lifecycle and
// per-frame events to. Defaults to the package-level logger.
func WithServiceLogger(logger logrus.FieldLogger) ServiceOption {
	return func(c *serviceConfig) { c.logger = logger }
}

// WithServiceMetrics registers a Service's instrumentation against
// registry instead of the process-wide default registerer.
func WithServiceMetrics(registry prometheus.Registerer) ServiceOption {
	return func(c *serviceConfig) { c.metricsRegistry = registry }
}

// WithConnectRateLimiter throttles how fast the acceptor admits new
// handshakes, bounding the cost of a connect storm. Unset by default:
// the acceptor admits as fast as the OS delivers connections.
func WithConnectRateLimiter(r rate.Limit, burst int) ServiceOption {
	return func(c *serviceConfig) { c.connectLimiter = rate.NewLimiter(r, burst) }
}

// WithNotifyRateLimiter caps how often Notify may broadcast, bounding
// the blast radius of a slow peer blocking the connections mutex for
// the duration of one broadcast. Unset by default.
func WithNotifyRateLimiter(r rate.Limit, burst int) ServiceOption {
	return func(c *serviceConfig) { c.notifyLimiter = rate.NewLimiter(r, burst) }
}

// clientConfig collects the options a Client is constructed with.
type clientConfig struct {
	ringCapacity    int
	protocolVersion uint16
	retry           time.Duration
	maxAttempts     int
	logger          logrus.FieldLogger
	metricsRegistry prometheus.Registerer
}

func defaultClientConfig() clientConfig {
	return clientConfig{
		ringCapacity:    RingCapacity,
		protocolVersion: ProtocolVersion,
		retry:           100 * time.Millisecond,
		maxAttempts:     1,
	}
}

// ClientOption configures a Client at construction time.
type ClientOption func(*clientConfig)

// WithClientRingCapacity overrides the per-direction ring capacity the
// client allocates for its shared region. Must match what the service
// expects; there is no negotiation.
func WithClientRingCapacity(bytes int) ClientOption {
	return func(c *clientConfig) { c.ringCapacity = bytes }
}

// WithClientProtocolVersion overrides the protocol version a Client
// advertises during the handshake. Defaults to ProtocolVersion; only
// useful for deliberately testing version-mismatch handling.
func WithClientProtocolVersion(version uint16) ClientOption {
	return func(c *clientConfig) { c.protocolVersion = version }
}

// WithDialRetry sets the delay between connect attempts and the maximum
// number of attempts before Connect gives up.
func WithDialRetry(delay time.Duration, maxAttempts int) ClientOption {
	return func(c *clientConfig) {
		c.retry = delay
		c.maxAttempts = maxAttempts
	}
}

// WithClientLogger overrides the logger a Client reports lifecycle and
// per-frame events to. Defaults to the package-level logger.
func WithClientLogger(logger logrus.FieldLogger) ClientOption {
	return func(c *clientConfig) { c.logger = logger }
}

// WithClientMetrics registers a Client's instrumentation against
// registry instead of the process-wide default registerer.
func WithClientMetrics(registry prometheus.Registerer) ClientOption {
	return func(c *clientConfig) { c.metricsRegistry = registry }
}
