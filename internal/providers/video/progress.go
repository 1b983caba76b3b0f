package video

import "time"

// estimateCap keeps time-based estimates below completion until the backend
// actually reports done.
const estimateCap = 90

// Estimator guesses progress for backends that only expose a done flag.
// Clips of ShortClip seconds or less are expected to take Short, longer ones Long.
type Estimator struct {
	Short     time.Duration
	Long      time.Duration
	ShortClip int
}

// DefaultEstimator matches observed Veo turnaround times.
func DefaultEstimator() Estimator {
	return Estimator{Short: 70 * time.Second, Long: 110 * time.Second, ShortClip: 5}
}

// Estimate returns elapsed/expected as a percentage capped at 90.
func (e Estimator) Estimate(started, now time.Time, clipSeconds int) int {
	if started.IsZero() || !now.After(started) {
		return 0
	}
	expected := e.Long
	if clipSeconds > 0 && clipSeconds <= e.shortClip() {
		expected = e.Short
	}
	if expected <= 0 {
		return 0
	}
	p := int(now.Sub(started) * 100 / expected)
	if p > estimateCap {
		return estimateCap
	}
	return p
}

// EstimateChain spreads the estimate of the in-flight segment across the
// whole chain: completed segments count fully, the current one partially.
func (e Estimator) EstimateChain(started, now time.Time, clipSeconds, completed, total int) int {
	current := e.Estimate(started, now, clipSeconds)
	if total <= 1 {
		return current
	}
	if completed >= total {
		completed = total - 1
	}
	if completed < 0 {
		completed = 0
	}
	return (completed*100 + current) / total
}

func (e Estimator) shortClip() int {
	if e.ShortClip <= 0 {
		return 5
	}
	return e.ShortClip
}
