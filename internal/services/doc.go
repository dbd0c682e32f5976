// Package services defines shared utilities consumed by the pipeline
// components and external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp upload/asset identifiers, stage names, and
//     correlation identifiers for logging.
//   - Structured error markers plus the Wrap helper that keep failure
//     classification consistent across upload, transcode, and distribution.
package services
