// Package logging configures structured slog output for amanrag.
// Logs are JSON lines written to ~/.amanrag/logs/amanrag.log with size-based
// rotation, optionally mirrored to stderr when --debug is set.
package logging
