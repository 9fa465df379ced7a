package bdk

import "github.com/btcsuite/btclog"

// log is the package logger. It is disabled by default; callers that
// want output pass a logger in via UseLogger.
var log = btclog.Disabled

// DisableLog disables all package log output.
func DisableLog() {
	log = btclog.Disabled
}

// UseLogger sets the package logger.
func UseLogger(logger btclog.Logger) {
	log = logger
}
