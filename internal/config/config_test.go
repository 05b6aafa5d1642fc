package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

const sampleYAML = `
logging:
  level: debug
  console: true
  file: { enabled: false, path: "" }
  telegram: { enabled: false, thread_id: 0, min_level: warn, rate_per_sec: 1 }
telegram:
  token: ""
  group_log: ""
scheduler:
  engine: robfig
  timezone: UTC
storage:
  driver: file
  path: ./audit
systemd:
  notify: false
jobs:
  heartbeat:
    enabled: true
    schedule: "*/5 * * * * *"
    slow_warning_threshold: 1500ms
  reindex:
    enabled: false
    schedule: "0 0 3 * * *"
`

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestParseYAML(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, sampleYAML)

	got, err := NewConfigManager(path).Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := &Config{
		Logging: LoggingConfig{
			Level:    "debug",
			Console:  true,
			Telegram: LoggingTelegram{MinLevel: "warn", RatePerSec: 1},
		},
		Scheduler: SchedulerConfig{Engine: "robfig", Timezone: "UTC"},
		Storage:   &StorageConfig{Driver: "file", Path: "./audit"},
		Jobs: map[string]JobConfig{
			"heartbeat": {Enabled: true, Schedule: "*/5 * * * * *", SlowWarningThreshold: "1500ms"},
			"reindex":   {Enabled: false, Schedule: "0 0 3 * * *"},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Parse mismatch (-want +got):\n%s", diff)
	}
}

func TestParseRejectsUnknownJobField(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.json")
	writeFile(t, path, `{"jobs":{"heartbeat":{"enabled":true,"schedul":"* * * * * *"}}}`)
	if _, err := NewConfigManager(path).Parse(); err == nil || !strings.Contains(err.Error(), "schedul") {
		t.Fatalf("Parse() = %v, want unknown field error", err)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	job := func(expr, th string) map[string]JobConfig {
		return map[string]JobConfig{"j": {Enabled: true, Schedule: expr, SlowWarningThreshold: th}}
	}
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{name: "ok", cfg: Config{Jobs: job("* * * * * *", "2s")}},
		{name: "gronx ok", cfg: Config{Scheduler: SchedulerConfig{Engine: "gronx"}, Jobs: job("*/5 * * * * *", "")}},
		{name: "disabled without schedule", cfg: Config{Jobs: map[string]JobConfig{"j": {}}}},
		{name: "unknown engine", cfg: Config{Scheduler: SchedulerConfig{Engine: "quartz"}}, wantErr: "scheduler.engine"},
		{name: "unknown timezone", cfg: Config{Scheduler: SchedulerConfig{Timezone: "Mars/Olympus"}}, wantErr: "scheduler.timezone"},
		{name: "five fields", cfg: Config{Jobs: job("* * * * *", "")}, wantErr: "jobs.j.schedule"},
		{name: "missing schedule", cfg: Config{Jobs: job("", "")}, wantErr: "required"},
		{name: "zero threshold", cfg: Config{Jobs: job("* * * * * *", "0s")}, wantErr: "positive"},
		{name: "negative threshold", cfg: Config{Jobs: job("* * * * * *", "-1s")}, wantErr: "positive"},
		{name: "storage path", cfg: Config{Storage: &StorageConfig{Driver: "sqlite"}}, wantErr: "storage.path"},
		{name: "storage driver", cfg: Config{Storage: &StorageConfig{Driver: "redis", Path: "x"}}, wantErr: "storage.driver"},
		{name: "telegram without token", cfg: Config{Logging: LoggingConfig{Telegram: LoggingTelegram{Enabled: true}}}, wantErr: "telegram.token"},
		{name: "debug addr", cfg: Config{Debug: DebugConfig{Enabled: true, Addr: "6060"}}, wantErr: "debug.addr"},
		{name: "debug timeout", cfg: Config{Debug: DebugConfig{Enabled: true, ReadTimeout: "soon"}}, wantErr: "debug.read_timeout"},
		{name: "telegram chat not numeric", cfg: Config{Telegram: TelegramConfig{Token: "t", GroupLog: "@ops"}, Logging: LoggingConfig{Telegram: LoggingTelegram{Enabled: true}}}, wantErr: "telegram.group_log"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := Validate(&tt.cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestParseJob(t *testing.T) {
	t.Parallel()
	pj, err := ParseJob(SchedulerConfig{Timezone: "UTC"}, "heartbeat", JobConfig{Enabled: true, Schedule: " */5  * * * * * ", SlowWarningThreshold: "250ms"})
	if err != nil {
		t.Fatal(err)
	}
	if pj.Schedule == nil || pj.SlowWarningThreshold != 250*time.Millisecond || pj.Expr != "*/5  * * * * *" {
		t.Fatalf("ParseJob = %+v", pj)
	}
	ref := time.Date(2024, 1, 1, 0, 0, 1, 0, time.UTC)
	if got := pj.Schedule.Next(ref); !got.Equal(ref.Add(4 * time.Second)) {
		t.Fatalf("Next = %s", got)
	}
}

func TestReloadIsTransactional(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, sampleYAML)
	m := NewConfigManager(path)
	ctx := context.Background()
	if _, err := m.Load(ctx); err != nil {
		t.Fatal(err)
	}
	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	if ok, err := m.Reload(ctx); ok || err != nil {
		t.Fatalf("Reload(unchanged) = (%v, %v), want (false, nil)", ok, err)
	}

	writeFile(t, path, strings.Replace(sampleYAML, `"*/5 * * * * *"`, `"not a cron"`, 1))
	if ok, err := m.Reload(ctx); ok || err == nil {
		t.Fatalf("Reload(invalid) = (%v, %v), want rejection", ok, err)
	}
	if got := m.Get().Jobs["heartbeat"].Schedule; got != "*/5 * * * * *" {
		t.Fatalf("rejected reload replaced config: schedule = %q", got)
	}

	writeFile(t, path, strings.Replace(sampleYAML, `"*/5 * * * * *"`, `"*/10 * * * * *"`, 1))
	if ok, err := m.Reload(ctx); !ok || err != nil {
		t.Fatalf("Reload(changed) = (%v, %v)", ok, err)
	}
	select {
	case cfg := <-sub:
		if cfg.Jobs["heartbeat"].Schedule != "*/10 * * * * *" {
			t.Fatalf("published schedule = %q", cfg.Jobs["heartbeat"].Schedule)
		}
	default:
		t.Fatal("subscriber got nothing")
	}
}

func TestValidatorRejectsReload(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, sampleYAML)
	m := NewConfigManager(path)
	if _, err := m.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	m.SetValidator(func(ctx context.Context, cfg *Config) error {
		if _, ok := cfg.Jobs["heartbeat"]; !ok {
			return os.ErrInvalid
		}
		return nil
	})
	writeFile(t, path, strings.Replace(sampleYAML, "  heartbeat:", "  heartbeet:", 1))
	if _, err := m.Reload(context.Background()); err == nil {
		t.Fatal("validator did not reject the reload")
	}
	if _, ok := m.Get().Jobs["heartbeat"]; !ok {
		t.Fatal("rejected config was committed")
	}
}

func TestWatchPublishesChanges(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, sampleYAML)
	m := NewConfigManager(path)
	m.SetDebounce(20 * time.Millisecond)
	if _, err := m.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	sub := m.Subscribe(1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	changed := strings.Replace(sampleYAML, "level: debug", "level: info", 1)
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(200 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case cfg := <-sub:
			if cfg.Logging.Level != "info" {
				t.Fatalf("published level = %q", cfg.Logging.Level)
			}
			return
		case <-tick.C:
			// The watcher may not be registered yet; keep touching the file.
			writeFile(t, path, changed)
		case <-deadline:
			t.Fatal("no config published after file change")
		}
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{
		Telegram: TelegramConfig{Token: "secret"},
		Jobs: map[string]JobConfig{
			"a": {Enabled: true, Schedule: "* * * * * *"},
			"b": {Enabled: true, Schedule: "0 * * * * *"},
		},
	}
	newCfg := &Config{
		Telegram: TelegramConfig{Token: "secret"},
		Jobs: map[string]JobConfig{
			"a": {Enabled: true, Schedule: "*  * * * * *"},
			"b": {Enabled: true, Schedule: "0 * * * * *", SlowWarningThreshold: "1s"},
			"c": {Enabled: false},
		},
	}
	sections, _, jobs := SummarizeConfigChange(oldCfg, newCfg)
	if diff := cmp.Diff([]string{"jobs"}, sections); diff != "" {
		t.Fatalf("sections (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"b", "c"}, jobs); diff != "" {
		t.Fatalf("jobs (-want +got):\n%s", diff)
	}

	newCfg.Scheduler.Timezone = "Asia/Jakarta"
	sections, _, jobs = SummarizeConfigChange(oldCfg, newCfg)
	if diff := cmp.Diff([]string{"jobs", "scheduler"}, sections); diff != "" {
		t.Fatalf("sections (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"a", "b", "c"}, jobs); diff != "" {
		t.Fatalf("jobs after timezone change (-want +got):\n%s", diff)
	}
}

func TestParseThreshold(t *testing.T) {
	t.Parallel()
	if d, err := ParseThreshold("x", ""); d != 0 || err != nil {
		t.Fatalf("empty = (%s, %v)", d, err)
	}
	if d, err := ParseThreshold("x", "1.5s"); d != 1500*time.Millisecond || err != nil {
		t.Fatalf("1.5s = (%s, %v)", d, err)
	}
	for _, raw := range []string{"0", "0s", "-2s", "soon"} {
		if _, err := ParseThreshold("x", raw); err == nil {
			t.Fatalf("ParseThreshold(%q) accepted", raw)
		}
	}
}
