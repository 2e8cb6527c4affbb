package config

import (
	"log/slog"
	"os"
	"time"
)

// Reloader re-reads the config file between cycles when its mtime changes.
// A reload that fails keeps the previous config; config problems are only
// fatal at startup.
type Reloader struct {
	path  string
	cfg   *Config
	mtime time.Time
}

func NewReloader(path string, cfg *Config) *Reloader {
	r := &Reloader{path: path, cfg: cfg}
	if info, err := os.Stat(path); err == nil {
		r.mtime = info.ModTime()
	}
	return r
}

func (r *Reloader) Current() *Config {
	return r.cfg
}

// Reload checks the file's mtime and re-loads on change. It reports whether
// a new config was picked up.
func (r *Reloader) Reload() (*Config, bool) {
	info, err := os.Stat(r.path)
	if err != nil {
		slog.Warn("config file no longer accessible, keeping current config", "path", r.path, "error", err)
		return r.cfg, false
	}
	if info.ModTime().Equal(r.mtime) {
		return r.cfg, false
	}

	cfg, err := Load(r.path)
	if err != nil {
		slog.Error("config reload failed, keeping current config", "path", r.path, "error", err)
		r.mtime = info.ModTime()
		return r.cfg, false
	}

	slog.Info("config reloaded", "path", r.path, "domains", len(cfg.Domains))
	r.cfg = cfg
	r.mtime = info.ModTime()
	return cfg, true
}
