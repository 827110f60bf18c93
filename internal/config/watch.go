package config

import (
	"log/slog"

	"github.com/fsnotify/fsnotify"
)

// Watch loads the configuration and re-reads it whenever the backing file
// changes. onChange receives each successfully validated reload; reloads that
// fail validation are logged and ignored so a bad edit never replaces a good
// running configuration.
//
// Only settings that are safe to change at runtime (currently the log level)
// should be acted upon by onChange.
func Watch(configPath string, onChange func(*Config)) (*Config, error) {
	v, err := newViper(configPath)
	if err != nil {
		return nil, err
	}
	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}

	if v.ConfigFileUsed() == "" {
		return cfg, nil
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		next, err := decode(v)
		if err != nil {
			slog.Warn("ignoring invalid configuration reload", "file", e.Name, "error", err)
			return
		}
		slog.Info("configuration reloaded", "file", e.Name)
		onChange(next)
	})
	v.WatchConfig()

	return cfg, nil
}
