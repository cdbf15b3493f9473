// Package logging provides structured logging for repopilot.
//
// It wraps zap with context-aware methods so that run and bead
// correlation identifiers attached to a context.Context are emitted
// on every log line without threading them through call sites.
package logging
