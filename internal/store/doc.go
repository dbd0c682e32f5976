// Package store persists pipeline, upload, transcode, and distribution state
// in SQLite so the daemon can resume interrupted work after a restart.
package store
