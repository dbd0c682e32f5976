// Package logging centralizes slog construction and the structured field
// vocabulary used across the pipeline. Console output targets interactive
// daemon runs; JSON output targets log shipping. Attr helpers keep call
// sites terse and the nop logger keeps tests quiet.
package logging
