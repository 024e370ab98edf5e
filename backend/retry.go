package backend

import "time"

// RetryPolicy configures retry of transient transport failures. The
// schedule is a small fixed list of delays, one per retry, deliberately not
// exponential: the transient conditions this targets either clear within a
// few seconds or not at all.
type RetryPolicy struct {
	// Delays is the wait before each retry; len(Delays) is the retry cap.
	Delays []time.Duration
	// OnRetry, if set, is called before each retry wait.
	OnRetry func(err error, attempt int, delay time.Duration)
}

// DefaultRetryPolicy returns the stock 1s/2s/5s schedule.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Delays: []time.Duration{
			1 * time.Second,
			2 * time.Second,
			5 * time.Second,
		},
	}
}

// MaxAttempts returns the total attempt count including the first.
func (p RetryPolicy) MaxAttempts() int {
	return len(p.Delays) + 1
}

// Delay returns the wait before retry n (1-based).
func (p RetryPolicy) Delay(retry int) time.Duration {
	if retry < 1 || retry > len(p.Delays) {
		return 0
	}
	return p.Delays[retry-1]
}
