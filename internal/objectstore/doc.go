// Package objectstore defines the durable storage contract for chunked
// uploads and published variants, plus a filesystem-backed implementation
// used by the daemon. Parts are staged per transaction and assembled on
// completion, so a cancelled upload leaves no partial durable object.
package objectstore
