package settings

import (
	"fmt"
	"log/slog"
	"strings"
)

// ParseLogLevel maps error|warn|info|debug to a slog level.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "error":
		return slog.LevelError, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level %q (must be: error, warn, info, debug)", s)
	}
}
