package config

import (
	"log"

	"gopkg.in/natefinch/lumberjack.v2"
)

// SetupLogging routes the standard logger to a rotated file when cfg names
// one, or leaves it on stderr otherwise. A nil cfg is a no-op.
func SetupLogging(cfg *GlobalLogConfig) {
	if cfg == nil || cfg.Filename == "" {
		return
	}
	log.SetOutput(&lumberjack.Logger{
		Filename:   cfg.Filename,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	})
}
