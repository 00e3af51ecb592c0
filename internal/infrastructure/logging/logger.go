package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/SAS-Controls/SAS-Trend-Tool/internal/infrastructure/config"
)

// levelNames maps config strings to slog levels. Unknown names fall back to
// info so a typo in sastrend.yaml cannot silence the log.
var levelNames = map[string]slog.Level{
	"debug":   slog.LevelDebug,
	"info":    slog.LevelInfo,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

// Logger is the service-wide structured logger. It embeds slog.Logger, so
// call sites use the standard Info/Warn/Error methods with key-value
// attributes. Safe for concurrent use.
type Logger struct {
	*slog.Logger
}

// New builds a Logger from the logging section of sastrend.yaml. Every
// record carries service and version attributes so logs aggregated from
// several controller hosts stay attributable.
//
// Parameters:
//   - cfg: Logging configuration (level, format, output)
//   - version: Application version stamped on every record
//
// Returns:
//   - *Logger: Configured logger ready for use
func New(cfg config.LoggingConfig, version string) *Logger {
	var w io.Writer = os.Stdout
	if strings.ToLower(cfg.Output) == "stderr" {
		w = os.Stderr
	}
	return NewWithWriter(cfg, version, w)
}

// NewWithWriter is New with an explicit destination; cfg.Output is ignored.
// Tests use it to capture records in a buffer.
func NewWithWriter(cfg config.LoggingConfig, version string, w io.Writer) *Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "text" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts) // JSON unless told otherwise
	}

	handler = handler.WithAttrs([]slog.Attr{
		slog.String("service", "sastrend"),
		slog.String("version", version),
	})
	return &Logger{Logger: slog.New(handler)}
}

// parseLevel converts a config string to its slog.Level.
func parseLevel(level string) slog.Level {
	if lvl, ok := levelNames[strings.ToLower(level)]; ok {
		return lvl
	}
	return slog.LevelInfo
}

// With returns a child logger carrying extra default attributes, typically
// a component name:
//
//	wsLog := logger.With("component", "websocket")
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// Default is the bootstrap logger used before sastrend.yaml has been read:
// JSON to stdout at info level, version "dev".
func Default() *Logger {
	return New(config.LoggingConfig{Level: "info", Format: "json", Output: "stdout"}, "dev")
}
