// Package logging provides structured logging for shellylink.
//
// It wraps log/slog so every package logs the same way:
//
//   - JSON output by default, text for development
//   - service and version fields on every entry
//   - level filtering (debug, info, warn, error)
//
// Configuration:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Usage:
//
//	logger := logging.New(cfg.Logging, version)
//	logger.Component("session").Info("connected", "broker", addr)
//
// Never log broker passwords or JWT secrets.
package logging
