package resilience

import (
	"time"
)

// FromConfig builds a retry policy from operator-supplied settings. Zero or
// negative values keep the transport defaults, so a blank config section
// yields DefaultConfig.
func FromConfig(maxAttempts, initialDelayMs int) Config {
	cfg := DefaultConfig()
	if maxAttempts > 0 {
		cfg.MaxAttempts = maxAttempts
	}
	if initialDelayMs > 0 {
		cfg.InitialDelay = time.Duration(initialDelayMs) * time.Millisecond
	}
	return cfg
}
