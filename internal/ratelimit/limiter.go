package ratelimit

import "context"

// ScopeEmail is the limiter bucket shared by every outgoing auto-send email.
const ScopeEmail = "email"

// RateLimiter throttles operations per scope across all engine instances.
type RateLimiter interface {
	Allow(ctx context.Context, scope string) (bool, error)
	Wait(ctx context.Context, scope string) error
}
