package jobs

import (
	"sync"
	"time"
)

// ProgressFunc reports pipeline progress as a percentage and a step
// label.
type ProgressFunc func(percent int, step string)

// ThrottleProgress rate-limits progress callbacks so chatty pipeline
// stages do not hammer the run store. Terminal updates (100%) always
// pass through.
func ThrottleProgress(fn ProgressFunc, minInterval time.Duration) ProgressFunc {
	if fn == nil {
		return func(int, string) {}
	}
	if minInterval <= 0 {
		minInterval = 500 * time.Millisecond
	}

	var mu sync.Mutex
	var last time.Time
	return func(percent int, step string) {
		mu.Lock()
		now := time.Now()
		if percent < 100 && now.Sub(last) < minInterval {
			mu.Unlock()
			return
		}
		last = now
		mu.Unlock()
		fn(percent, step)
	}
}
