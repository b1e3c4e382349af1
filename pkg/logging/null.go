package logging

import "context"

// Nop drops every entry. Jobs and undo replays built without a logger use
// it, as does the CLI when logging is disabled in the configuration.
var Nop Logger = nopLogger{}

type nopLogger struct{}

func (nopLogger) Debug(context.Context, string, Fields) {}

func (nopLogger) Info(context.Context, string, Fields) {}

func (nopLogger) Warn(context.Context, string, Fields) {}

func (nopLogger) Error(context.Context, string, error, Fields) {}

// WithFields ignores fields, there is nothing to attach them to
func (n nopLogger) WithFields(Fields) Logger { return n }

func (nopLogger) Close() error { return nil }
