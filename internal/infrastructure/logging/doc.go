// Package logging builds the structured slog logger shared by every
// component of Gray Logic IoT.
//
// Entries carry service and version attributes. Components add their own
// with With("component", ...). The level is held in a slog.LevelVar, so
// SetLevel on the root logger (the --log-level flag) also applies to every
// child already handed out.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr, discard
//
// Never log broker passwords, InfluxDB tokens or private key material.
package logging
