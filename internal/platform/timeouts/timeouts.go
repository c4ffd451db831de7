// Package timeouts defines shared timeout constants used across services.
// Centralizing these values prevents drift between service boundaries and
// makes the durations discoverable.
package timeouts

import "time"

// ReadHeader limits how long an HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long an HTTP server waits for in-flight requests
// during graceful shutdown.
const Shutdown = 10 * time.Second

// DBConnect caps the wait for a new tenant database connection.
const DBConnect = 2 * time.Second

// DBIdle is how long an idle pooled connection is kept before closing.
const DBIdle = 30 * time.Second

// DBPing caps a single tenant health ping.
const DBPing = 3 * time.Second

// DBRetryInterval is the pause between tenant connection attempts.
const DBRetryInterval = time.Second

// HealthRefresh is how often tenant health is re-checked for the gRPC
// health service.
const HealthRefresh = 30 * time.Second
