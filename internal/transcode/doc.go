// Package transcode turns a completed upload into a set of signed quality
// variants plus an adaptive playback manifest. Jobs run with bounded
// parallelism and fail independently; the asset succeeds as long as at least
// one rendition does.
package transcode
