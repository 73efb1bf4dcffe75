// Package scheduler runs named jobs on cron or interval schedules.
//
// Each job runs with a timeout and panic recovery; a job still running when
// its next trigger fires is skipped for that trigger.
package scheduler
