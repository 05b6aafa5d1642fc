package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Audit actions.
const (
	ActionStarted      = "started"
	ActionReconfigured = "reconfigured"
	ActionStopped      = "stopped"
	ActionFatal        = "fatal"
)

// AuditEntry records one scheduler lifecycle transition.
// Keep it compact and schema-stable.
type AuditEntry struct {
	At          time.Time `json:"at"`
	Job         string    `json:"job"`
	Action      string    `json:"action"`
	Expr        string    `json:"expr,omitempty"`
	ThresholdMS int64     `json:"threshold_ms,omitempty"`
	Error       string    `json:"error,omitempty"`
}
