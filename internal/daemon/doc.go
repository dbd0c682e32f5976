// Package daemon hosts the long-running conduit process: single-instance
// locking, the staleness sweeper, and the HTTP API that clients drive
// pipelines through.
package daemon
