package config

import (
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"tradeengine/internal/logger"
)

// Watch reloads path whenever the file changes and hands every config that
// passes validation to fn. Invalid edits are logged and ignored.
func Watch(path string, fn func(*Config)) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("config watch requires path")
	}
	if fn == nil {
		return fmt.Errorf("config watch requires a callback")
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config failed: %w", err)
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if !evt.Has(fsnotify.Write) && !evt.Has(fsnotify.Create) {
			return
		}
		cfg, err := Load(path)
		if err != nil {
			logger.Errorf("config reload failed (%s): %v", evt.Name, err)
			return
		}
		logger.Infof("config reloaded from %s", evt.Name)
		fn(cfg)
	})
	v.WatchConfig()
	return nil
}

// ApplyLogLevel is the Watch callback that keeps the logger level in sync.
func ApplyLogLevel(cfg *Config) {
	if cfg == nil {
		return
	}
	if strings.TrimSpace(cfg.App.LogLevel) != "" && !strings.EqualFold(cfg.App.LogLevel, logger.Level()) {
		logger.Infof("log level %s -> %s", logger.Level(), cfg.App.LogLevel)
		logger.SetLevel(cfg.App.LogLevel)
	}
}
