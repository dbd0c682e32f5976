// Package upload manages chunked, resumable uploads: session lifecycle,
// idempotent chunk writes, batch parallelism, completion into a signed media
// asset, and the staleness sweep.
package upload
