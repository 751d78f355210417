// Package scheduler runs recsched's in-process maintenance jobs (side table
// resync, playlist refresh) on cron or interval schedules.
//
// It never schedules recordings: those live in the OS scheduler. A job whose
// previous run is still in flight is skipped rather than queued.
package scheduler
