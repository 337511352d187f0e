// Package services defines shared utilities consumed by the pipeline and the
// workflow runner.
//
// Key responsibilities:
//   - Context helpers that stamp run IDs and workflow names for logging.
//   - Structured error markers plus the Wrap helper that classify failures
//     (external tool, validation, configuration, transient) for history
//     records and user-facing diagnostics.
package services
