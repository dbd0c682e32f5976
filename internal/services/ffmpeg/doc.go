// Package ffmpeg wraps the ffmpeg and ffprobe command-line tools behind a
// Client interface so transcoding can be exercised in tests without the real
// binaries installed.
package ffmpeg
