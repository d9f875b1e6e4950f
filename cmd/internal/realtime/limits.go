package realtime

import "time"

// Defaults for GatewayConfig. Each can be overridden through LYCEUM_WS_* variables.
const (
	// Max bytes per websocket frame read (hard limit).
	defaultMaxFrameBytes = 64 << 10

	defaultSendQueueSize = 256
	minSendQueueSize     = 32

	defaultWriteTimeout = 5 * time.Second
	defaultReadIdle     = 2 * time.Minute
	defaultAuthTimeout  = 10 * time.Second
	closeGrace          = 1 * time.Second

	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second
	maxPingFailures   = 3

	// Per-connection rate limits (events per window).
	rateLimitEvents = 120
	rateLimitWindow = 10 * time.Second

	// Origin is required by default and only localhost is allowed.
	defaultOriginRequired = true
	defaultAllowedOrigins = "http://localhost,http://127.0.0.1"
)
