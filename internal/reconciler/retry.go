package reconciler

import (
	"time"

	"k8s.io/apimachinery/pkg/util/wait"
)

// RetryConfig describes an exponential retry policy.
type RetryConfig struct {
	InitialInterval time.Duration
	Multiplier      float64
	MaxInterval     time.Duration
	// MaxAttempts is the number of retries after the first failure. Zero
	// disables retries, a negative value retries forever.
	MaxAttempts int
}

// DefaultRetryConfig returns the default exponential policy.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialInterval: 2 * time.Second,
		Multiplier:      1.5,
		MaxInterval:     15187 * time.Millisecond,
		MaxAttempts:     5,
	}
}

// NoRetry returns a policy that never retries.
func NoRetry() RetryConfig {
	return RetryConfig{InitialInterval: time.Second, Multiplier: 1, MaxAttempts: 0}
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c == (RetryConfig{}) {
		return DefaultRetryConfig()
	}
	if c.InitialInterval <= 0 {
		c.InitialInterval = DefaultRetryConfig().InitialInterval
	}
	if c.Multiplier < 1 {
		c.Multiplier = 1
	}
	return c
}

// Exhausted reports whether the given number of consecutive failures uses up
// the policy.
func (c RetryConfig) Exhausted(failures int) bool {
	return c.MaxAttempts >= 0 && failures > c.MaxAttempts
}

// Delay returns the wait before retry n (1-based): the initial interval grown
// by the multiplier n-1 times, capped at MaxInterval.
func (c RetryConfig) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	backoff := wait.Backoff{
		Duration: c.InitialInterval,
		Factor:   c.Multiplier,
		Steps:    n,
		Cap:      c.MaxInterval,
	}
	var delay time.Duration
	for i := 0; i < n; i++ {
		delay = backoff.Step()
	}
	if c.MaxInterval > 0 && delay > c.MaxInterval {
		delay = c.MaxInterval
	}
	return delay
}

// info builds the RetryInfo for an execution following the given number of
// consecutive failures.
func (c RetryConfig) info(failures int) RetryInfo {
	return RetryInfo{
		Attempt:     failures,
		LastAttempt: c.MaxAttempts >= 0 && failures >= c.MaxAttempts,
	}
}
