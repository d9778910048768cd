// Package logging wraps log/slog for the bridge: level filter, JSON or
// text encoding, and service/version fields on every record.
//
// Configured from the logging section of config.yaml:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// The wrapper's key/value call shape doubles as the logger interface
// the engine and the broker client accept, so one *Logger flows through
// the whole process. Keep secrets (broker password, InfluxDB token) out
// of log fields.
package logging
