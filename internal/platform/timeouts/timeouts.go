// Package timeouts defines shared timeout constants used across the service
// and its client. Centralizing these values prevents drift between the two
// sides of the wire and makes the durations discoverable.
package timeouts

import "time"

// ReadHeader limits how long the HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long the HTTP server waits for in-flight requests
// during graceful shutdown.
const Shutdown = 5 * time.Second

// ClientRequest caps a non-streaming client call such as a status or
// content fetch. Streaming calls are bounded by the caller's context, not a
// fixed duration.
const ClientRequest = 10 * time.Second
