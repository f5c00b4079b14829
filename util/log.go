package util

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
)

// ParseLevel 解析日志级别：debug/info/warn/error
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// NewLogger 按级别和格式（text/json）构造 logger，无法识别的级别按 info 处理
func NewLogger(level, format string, w io.Writer) *slog.Logger {
	lvl, _ := ParseLevel(level)
	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// Trace 记录一段操作的耗时，用法：defer util.Trace(logger, path)()
func Trace(logger *slog.Logger, name string) func() {
	if logger == nil {
		logger = slog.Default()
	}
	start := time.Now()
	return func() {
		logger.Debug("trace", "name", name, "elapsed", time.Since(start))
	}
}
