package realtime

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// GatewayConfig holds transport policy for WSGateway.
type GatewayConfig struct {
	// DevInsecure disables websocket.Accept's origin verification. Dev only.
	DevInsecure    bool
	OriginRequired bool
	AllowedOrigins []string

	AuthTimeout     time.Duration
	WriteTimeout    time.Duration
	ReadIdleTimeout time.Duration
	SendQueueSize   int
	MaxFrameBytes   int64

	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	MaxPingFailures   int

	RateEvents int
	RateWindow time.Duration
}

// DefaultGatewayConfig returns secure defaults.
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		OriginRequired:    defaultOriginRequired,
		AllowedOrigins:    splitCSV(defaultAllowedOrigins),
		AuthTimeout:       defaultAuthTimeout,
		WriteTimeout:      defaultWriteTimeout,
		ReadIdleTimeout:   defaultReadIdle,
		SendQueueSize:     defaultSendQueueSize,
		MaxFrameBytes:     defaultMaxFrameBytes,
		HeartbeatInterval: heartbeatInterval,
		HeartbeatTimeout:  heartbeatTimeout,
		MaxPingFailures:   maxPingFailures,
		RateEvents:        rateLimitEvents,
		RateWindow:        rateLimitWindow,
	}
}

// LoadGatewayConfigFromEnv overlays LYCEUM_WS_* variables on the defaults.
// Unparseable or non-positive values keep the default.
func LoadGatewayConfigFromEnv() GatewayConfig {
	c := DefaultGatewayConfig()

	c.DevInsecure = envBoolWS("LYCEUM_WS_DEV_INSECURE", c.DevInsecure)
	c.OriginRequired = envBoolWS("LYCEUM_WS_ORIGIN_REQUIRED", c.OriginRequired)
	if v := strings.TrimSpace(os.Getenv("LYCEUM_WS_ALLOWED_ORIGINS")); v != "" {
		c.AllowedOrigins = splitCSV(v)
	}

	c.AuthTimeout = envDurationWS("LYCEUM_WS_AUTH_TIMEOUT", c.AuthTimeout)
	c.WriteTimeout = envDurationWS("LYCEUM_WS_WRITE_TIMEOUT", c.WriteTimeout)
	c.ReadIdleTimeout = envDurationWS("LYCEUM_WS_READ_IDLE_TIMEOUT", c.ReadIdleTimeout)
	c.SendQueueSize = envIntWS("LYCEUM_WS_SEND_QUEUE", c.SendQueueSize)
	c.MaxFrameBytes = int64(envIntWS("LYCEUM_WS_MAX_FRAME_BYTES", int(c.MaxFrameBytes)))

	c.HeartbeatInterval = envDurationWS("LYCEUM_WS_HEARTBEAT_INTERVAL", c.HeartbeatInterval)
	c.HeartbeatTimeout = envDurationWS("LYCEUM_WS_HEARTBEAT_TIMEOUT", c.HeartbeatTimeout)
	c.MaxPingFailures = envIntWS("LYCEUM_WS_MAX_PING_FAILURES", c.MaxPingFailures)

	c.RateEvents = envIntWS("LYCEUM_WS_RATE_EVENTS", c.RateEvents)
	c.RateWindow = envDurationWS("LYCEUM_WS_RATE_WINDOW", c.RateWindow)

	if c.SendQueueSize < minSendQueueSize {
		c.SendQueueSize = minSendQueueSize
	}
	return c
}

// Validate reports the first invalid field.
func (c GatewayConfig) Validate() error {
	var errs []error
	if c.AuthTimeout <= 0 {
		errs = append(errs, errors.New("auth timeout must be > 0"))
	}
	if c.WriteTimeout <= 0 || c.ReadIdleTimeout <= 0 {
		errs = append(errs, errors.New("write and read idle timeouts must be > 0"))
	}
	if c.HeartbeatInterval <= 0 || c.HeartbeatTimeout <= 0 {
		errs = append(errs, errors.New("heartbeat interval and timeout must be > 0"))
	}
	if c.HeartbeatTimeout >= c.HeartbeatInterval {
		errs = append(errs, fmt.Errorf("heartbeat timeout %s must be below interval %s", c.HeartbeatTimeout, c.HeartbeatInterval))
	}
	if c.MaxPingFailures <= 0 {
		errs = append(errs, errors.New("max ping failures must be > 0"))
	}
	if c.SendQueueSize <= 0 || c.MaxFrameBytes <= 0 {
		errs = append(errs, errors.New("send queue and frame limit must be > 0"))
	}
	if c.RateEvents <= 0 || c.RateWindow <= 0 {
		errs = append(errs, errors.New("rate limit must be > 0"))
	}
	if c.OriginRequired && len(c.AllowedOrigins) == 0 {
		errs = append(errs, errors.New("origin required but no allowed origins"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("realtime: invalid gateway config: %w", errors.Join(errs...))
	}
	return nil
}

// ---- env helpers ----

func envBoolWS(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envIntWS(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDurationWS(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
