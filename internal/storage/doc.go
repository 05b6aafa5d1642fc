// Package storage persists the scheduler lifecycle audit trail.
//
// Only lifecycle transitions are recorded (started, reconfigured, stopped,
// fatal); individual executions never are. Drivers:
//   - "file": append-only JSON Lines next to the configured path
//   - "sqlite": a SQLite database (pure Go, modernc.org/sqlite)
package storage
