package usage

import "time"

// CleanupInterval is how often expired ledger entries are deleted.
const CleanupInterval = 1 * time.Hour

// RetentionCutoff is the oldest timestamp an entry may carry and survive a
// retention of days, in UTC. Day arithmetic follows the calendar, so the
// window stays whole days across DST changes in the local zone.
func RetentionCutoff(now time.Time, days int) time.Time {
	return now.AddDate(0, 0, -days).UTC()
}

// RunCleanupLoop calls cleanupFn once straight away and then on every
// CleanupInterval tick until stop is closed.
//
// The first pass runs at startup so a ledger that sat idle past its retention
// window is trimmed before new rows land in it. cleanupFn logs its own
// failures; a failed pass is retried on the next tick.
func RunCleanupLoop(stop <-chan struct{}, cleanupFn func()) {
	runCleanupLoop(stop, CleanupInterval, cleanupFn)
}

func runCleanupLoop(stop <-chan struct{}, every time.Duration, cleanupFn func()) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	cleanupFn()

	for {
		select {
		case <-ticker.C:
			cleanupFn()
		case <-stop:
			return
		}
	}
}
