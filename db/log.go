package db

import "github.com/btcsuite/btclog"

var log = btclog.Disabled

// DisableLog disables all package log output.
func DisableLog() {
	log = btclog.Disabled
}

// UseLogger sets the package logger.
func UseLogger(logger btclog.Logger) {
	log = logger
}
