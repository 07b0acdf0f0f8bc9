package config

import "time"

// RateLimitConfig holds the per-client-IP limits applied to the public
// answer endpoint. Two independent sliding windows: a short burst window
// and a daily one. Exceeding either rejects the request.
type RateLimitConfig struct {
	BurstLimit  int
	BurstWindow time.Duration
	DailyLimit  int
	DailyWindow time.Duration
}

func NewRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		BurstLimit:  15,
		BurstWindow: 60 * time.Second,
		DailyLimit:  200,
		DailyWindow: 24 * time.Hour,
	}
}
