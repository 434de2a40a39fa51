// Copyright 2025 Edgeo SCADA
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package airctrl

import (
	"log/slog"
	"time"
)

// Default protocol timings
const (
	DefaultCommandSpacing     = 1 * time.Second
	DefaultCommandTimeout     = 10 * time.Second
	DefaultLockTimeout        = 15 * time.Second
	DefaultReconnectBase      = 5 * time.Second
	DefaultReconnectMax       = 30 * time.Second
	DefaultMaxAttempts        = 5
	DefaultReconnectCooldown  = 60 * time.Second
	DefaultDropDelay          = 5 * time.Second
	DefaultObserveIdleTimeout = 5 * time.Minute
)

// clientOptions holds configuration for the client
type clientOptions struct {
	port int

	// Command channel
	commandSpacing time.Duration
	commandTimeout time.Duration
	lockTimeout    time.Duration

	// Reconnection
	reconnectBase     time.Duration
	reconnectMax      time.Duration
	maxAttempts       int
	reconnectCooldown time.Duration
	dropDelay         time.Duration

	// Observation
	observeIdleTimeout time.Duration

	// Collaborators
	transport Transport
	codec     Codec

	// Logging
	logger *slog.Logger
}

// defaultOptions returns the default client options
func defaultOptions() *clientOptions {
	return &clientOptions{
		port:               DefaultPort,
		commandSpacing:     DefaultCommandSpacing,
		commandTimeout:     DefaultCommandTimeout,
		lockTimeout:        DefaultLockTimeout,
		reconnectBase:      DefaultReconnectBase,
		reconnectMax:       DefaultReconnectMax,
		maxAttempts:        DefaultMaxAttempts,
		reconnectCooldown:  DefaultReconnectCooldown,
		dropDelay:          DefaultDropDelay,
		observeIdleTimeout: DefaultObserveIdleTimeout,
		logger:             slog.Default(),
	}
}

// Option is a functional option for configuring the client
type Option func(*clientOptions)

// WithPort sets the device CoAP port
func WithPort(port int) Option {
	return func(o *clientOptions) {
		o.port = port
	}
}

// WithCommandSpacing sets the minimum gap between completed commands on a device
func WithCommandSpacing(d time.Duration) Option {
	return func(o *clientOptions) {
		o.commandSpacing = d
	}
}

// WithCommandTimeout sets the overall sync+command timeout
func WithCommandTimeout(d time.Duration) Option {
	return func(o *clientOptions) {
		o.commandTimeout = d
	}
}

// WithLockTimeout bounds the wait for the per-device command lock
func WithLockTimeout(d time.Duration) Option {
	return func(o *clientOptions) {
		o.lockTimeout = d
	}
}

// WithReconnectBackoff sets the per-attempt backoff step and its ceiling
func WithReconnectBackoff(base, max time.Duration) Option {
	return func(o *clientOptions) {
		o.reconnectBase = base
		o.reconnectMax = max
	}
}

// WithMaxAttempts sets how many failed connection attempts trigger the cooldown
func WithMaxAttempts(n int) Option {
	return func(o *clientOptions) {
		o.maxAttempts = n
	}
}

// WithReconnectCooldown sets the wait after max attempts is reached
func WithReconnectCooldown(d time.Duration) Option {
	return func(o *clientOptions) {
		o.reconnectCooldown = d
	}
}

// WithDropDelay sets the wait before reconnecting after an established stream drops
func WithDropDelay(d time.Duration) Option {
	return func(o *clientOptions) {
		o.dropDelay = d
	}
}

// WithObserveIdleTimeout treats a stream without reports for d as dropped.
// Zero disables the watchdog.
func WithObserveIdleTimeout(d time.Duration) Option {
	return func(o *clientOptions) {
		o.observeIdleTimeout = d
	}
}

// WithTransport replaces the CoAP transport
func WithTransport(t Transport) Option {
	return func(o *clientOptions) {
		o.transport = t
	}
}

// WithCodec replaces the payload cipher
func WithCodec(c Codec) Option {
	return func(o *clientOptions) {
		o.codec = c
	}
}

// WithLogger sets the logger for the client
func WithLogger(logger *slog.Logger) Option {
	return func(o *clientOptions) {
		o.logger = logger
	}
}
