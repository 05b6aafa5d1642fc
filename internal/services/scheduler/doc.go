// Package scheduler runs one job type on a six-field crontab schedule.
//
// # Overview
//
// Each registered job gets its own Scheduler, which owns a single-flight
// timer, a single-permit execution gate, and an atomically swapped Options
// snapshot. Schedulers are created through an explicit Registry held by the
// composition root; there is no package-level state.
//
// # Tick path
//
// When the timer fires the scheduler:
//
//  1. rearms the timer for the next occurrence computed from the current
//     wall-clock time (never from the previous target, so a paused host
//     does not produce a burst of catch-up runs);
//  2. drops the tick if another tick is already waiting on the gate;
//  3. acquires the gate;
//  4. runs the invocation boundary (fresh job instance, timed Execute,
//     outcome and slow-run reporting);
//  5. releases the gate.
//
// Executions of one job never overlap. A run that outlasts its interval
// delays the next run; it never duplicates it.
//
// # Failures
//
// An error or panic from a job body is a job failure: it is logged and
// published on the event bus, and the job simply waits for its next tick.
// A failure in steps 1-3 is a scheduler defect. It is logged at critical
// level, published as "scheduler.fatal" and returned to the supervisor,
// which cancels the host when configured with cancel-on-error.
//
// # Reconfiguration
//
// Reconfigure swaps the Options snapshot and rearms immediately. A run that
// is already executing keeps the snapshot it captured when it started.
package scheduler
