// Package logging provides structured logging with per-module log level configuration.
//
// # Usage
//
// Initialize the logging system once at startup:
//
//	logging.Initialize(logging.Config{
//		Level:  "info",
//		Format: "text",
//		Modules: map[string]string{
//			"vin": "debug",
//			"api": "warn",
//		},
//	})
//
// Get a logger for your module:
//
//	logger := logging.GetLogger("capture").With("line", "wr")
//	logger.Info("Session started", "buffers", 3)
//
// Levels can be changed at runtime with SetLevels; loggers already handed
// out pick up the change.
//
// # Output Destinations
//
// Records go to stdout when a terminal, pipe, or file is connected, to the
// systemd journal when it is available, and always to an in-memory history
// served by the API.
//
// When running as a systemd service:
//
//	journalctl -t camss -f
//	journalctl -t camss MODULE=vin LINE=wr
package logging
