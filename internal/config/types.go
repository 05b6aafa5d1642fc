package config

import (
	"bytes"
	"encoding/json"
)

type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Telegram  TelegramConfig  `json:"telegram"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
	Systemd   SystemdConfig   `json:"systemd"`
	Debug     DebugConfig     `json:"debug"`

	// Jobs is keyed by the registered job name.
	Jobs map[string]JobConfig `json:"jobs"`
}

// TelegramConfig is only used as an alert sink for warn+ log lines.
// The token is never logged.
type TelegramConfig struct {
	Token    string `json:"token"`
	GroupLog string `json:"group_log"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// SchedulerConfig applies to every job.
//
// Engine selects the crontab evaluator: "robfig" (default) or "gronx".
// Timezone is an IANA name used to evaluate expressions; empty means UTC.
type SchedulerConfig struct {
	Engine   string `json:"engine,omitempty"`
	Timezone string `json:"timezone,omitempty"`
}

// StorageConfig controls the optional lifecycle audit store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./cronhost.db", "busy_timeout": "5s" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

type SystemdConfig struct {
	Notify bool `json:"notify"`
}

// DebugConfig controls the operator HTTP endpoint (/healthz, /debug/jobs,
// /debug/pprof/). A non-loopback addr needs a token or allow_insecure.
type DebugConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	ReadTimeout   string `json:"read_timeout,omitempty"`
	WriteTimeout  string `json:"write_timeout,omitempty"`
}

// JobConfig binds a schedule to one registered job.
//
// Schedule is a six-field crontab expression (sec min hour dom month dow).
// SlowWarningThreshold is a Go duration string; empty disables the warning.
type JobConfig struct {
	Enabled              bool   `json:"enabled"`
	Schedule             string `json:"schedule"`
	SlowWarningThreshold string `json:"slow_warning_threshold,omitempty"`
}

// UnmarshalJSON disallows unknown fields so a misspelled key inside a job
// block is caught on reload instead of silently ignored.
func (j *JobConfig) UnmarshalJSON(b []byte) error {
	type plain JobConfig
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	var p plain
	if err := dec.Decode(&p); err != nil {
		return err
	}
	*j = JobConfig(p)
	return nil
}
