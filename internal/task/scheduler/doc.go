// Package scheduler runs named periodic jobs on robfig/cron.
//
// Jobs are upserted by name, never overlap with themselves and run with an
// optional timeout. The project reconciliation sweep is the main user.
package scheduler
