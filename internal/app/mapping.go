package app

import (
	"strings"
	"time"

	"cronhost/internal/config"
	"cronhost/internal/notify/telegram"
	"cronhost/internal/observability/debugsrv"
	"cronhost/internal/services/scheduler"
	"cronhost/internal/storage"
	logx "cronhost/pkg/logx"
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Alerts: logx.AlertConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

// mapAlertSender returns nil when Telegram alerts are off.
func mapAlertSender(cfg *config.Config) (logx.Sender, error) {
	if !cfg.Logging.Telegram.Enabled {
		return nil, nil
	}
	chatID, err := telegram.ParseChatID(cfg.Telegram.GroupLog)
	if err != nil {
		return nil, err
	}
	s, err := telegram.New(telegram.Config{
		Token:    cfg.Telegram.Token,
		ChatID:   chatID,
		ThreadID: cfg.Logging.Telegram.ThreadID,
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, false, err
	}
	return storage.Config{Driver: driver, Path: strings.TrimSpace(sc.Path), BusyTimeout: busy}, true, nil
}

func mapJobOptions(pj config.ParsedJob) scheduler.Options {
	return scheduler.Options{
		Expr:                 pj.Expr,
		Schedule:             pj.Schedule,
		SlowWarningThreshold: pj.SlowWarningThreshold,
	}
}

func mapDebugConfig(cfg *config.Config) (debugsrv.Config, error) {
	d := cfg.Debug
	read, err := config.ParseDurationOrDefault("debug.read_timeout", d.ReadTimeout, 10*time.Second)
	if err != nil {
		return debugsrv.Config{}, err
	}
	// pprof profile and trace stream for up to 30s by default.
	write, err := config.ParseDurationOrDefault("debug.write_timeout", d.WriteTimeout, 60*time.Second)
	if err != nil {
		return debugsrv.Config{}, err
	}
	return debugsrv.Config{
		Enabled:       d.Enabled,
		Addr:          strings.TrimSpace(d.Addr),
		Token:         strings.TrimSpace(d.Token),
		AllowInsecure: d.AllowInsecure,
		ReadTimeout:   read,
		WriteTimeout:  write,
		IdleTimeout:   time.Minute,
	}, nil
}
