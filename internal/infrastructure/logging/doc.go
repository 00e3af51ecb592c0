// Package logging provides the structured logger used across the trend
// tool. It is a thin wrapper around log/slog: one constructor reading the
// logging section of sastrend.yaml, a With helper for per-component child
// loggers, and service/version attributes stamped on every record.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// JSON output suits the site log aggregator; text output is for watching a
// controller session from a terminal.
//
// # Usage
//
//	logger := logging.New(cfg.Logging, version)
//	linkLog := logger.With("component", "link")
//	linkLog.Info("connected", "endpoint", cfg.Controller.Endpoint)
//
// Records emitted before the configuration file is read go through
// Default(), which writes JSON to stdout at info level.
//
// # Security
//
// Never log credentials: no passwords, no JWT secrets, no session tokens.
// Tag values from the controller are process data and fine to log at debug
// level.
package logging
