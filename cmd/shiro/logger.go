package main

import (
	"fmt"
	"io"
	"os"

	"github.com/shiroai/shiro/pkg/config"
	"github.com/shiroai/shiro/pkg/logger"
)

const (
	defaultLogLevel  = "info"
	defaultLogFormat = logger.FormatSimple
)

// initLogger installs the default logger.
// Priority: flags and env vars > config file > defaults.
// The returned cleanup closes the log file.
func initLogger(level, file, format string, cfg *config.LoggerConfig) (func(), error) {
	if cfg != nil {
		level = firstNonEmpty(level, cfg.Level)
		file = firstNonEmpty(file, cfg.File)
		format = firstNonEmpty(format, cfg.Format)
	}
	level = firstNonEmpty(level, defaultLogLevel)
	format = firstNonEmpty(format, defaultLogFormat)

	parsed, err := logger.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	var (
		out     io.Writer = os.Stderr
		cleanup           = func() {}
	)
	if file != "" {
		f, closeFn, err := logger.OpenLogFile(file)
		if err != nil {
			return nil, err
		}
		out, cleanup = f, closeFn
	}

	logger.Init(parsed, out, format)
	return cleanup, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
