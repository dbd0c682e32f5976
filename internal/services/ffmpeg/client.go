package ffmpeg

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"
)

var commandContext = exec.CommandContext

// ProgressUpdate captures one encoder progress report.
type ProgressUpdate struct {
	Percent  float64
	OutTime  time.Duration
	Speed    string
	Finished bool
}

// EncodeOptions selects the rendition parameters for one transcode run.
type EncodeOptions struct {
	Width        int
	Height       int
	VideoBitrate string
	AudioBitrate string
	FrameRate    int
	VideoCodec   string
	AudioCodec   string
	Progress     func(ProgressUpdate)
}

// Client defines encoder behaviour.
type Client interface {
	Probe(ctx context.Context, inputPath string) (time.Duration, error)
	Transcode(ctx context.Context, inputPath, outputPath string, opts EncodeOptions) error
}

// Option configures the CLI client.
type Option func(*CLI)

// WithBinaries overrides the default binary names.
func WithBinaries(ffmpeg, ffprobe string) Option {
	return func(c *CLI) {
		if ffmpeg != "" {
			c.ffmpeg = ffmpeg
		}
		if ffprobe != "" {
			c.ffprobe = ffprobe
		}
	}
}

// CLI wraps the ffmpeg and ffprobe command-line tools.
type CLI struct {
	ffmpeg  string
	ffprobe string
}

// NewCLI constructs a CLI client using defaults.
func NewCLI(opts ...Option) *CLI {
	cli := &CLI{ffmpeg: "ffmpeg", ffprobe: "ffprobe"}
	for _, opt := range opts {
		opt(cli)
	}
	return cli
}

// Probe returns the container duration of the input file.
func (c *CLI) Probe(ctx context.Context, inputPath string) (time.Duration, error) {
	if inputPath == "" {
		return 0, errors.New("input path required")
	}

	args := []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		inputPath,
	}
	cmd := commandContext(ctx, c.ffprobe, args...) //nolint:gosec
	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			return 0, fmt.Errorf("ffprobe %s: %w: %s", inputPath, err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return 0, fmt.Errorf("ffprobe %s: %w", inputPath, err)
	}
	seconds, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("parse ffprobe duration %q: %w", strings.TrimSpace(string(out)), err)
	}
	return time.Duration(seconds * float64(time.Second)), nil
}

// Transcode launches ffmpeg and streams progress reports until the run ends.
// Percent is derived from the probed input duration; when probing fails the
// updates carry only the elapsed output time.
func (c *CLI) Transcode(ctx context.Context, inputPath, outputPath string, opts EncodeOptions) error {
	if inputPath == "" {
		return errors.New("input path required")
	}
	if outputPath == "" {
		return errors.New("output path required")
	}

	var total time.Duration
	if opts.Progress != nil {
		if probed, err := c.Probe(ctx, inputPath); err == nil {
			total = probed
		}
	}

	args := []string{"-y", "-i", inputPath}
	if opts.VideoCodec != "" {
		args = append(args, "-c:v", opts.VideoCodec)
	}
	if opts.Width > 0 && opts.Height > 0 {
		args = append(args, "-vf", fmt.Sprintf("scale=%d:%d", opts.Width, opts.Height))
	}
	if opts.VideoBitrate != "" {
		args = append(args, "-b:v", opts.VideoBitrate)
	}
	if opts.FrameRate > 0 {
		args = append(args, "-r", strconv.Itoa(opts.FrameRate))
	}
	if opts.AudioCodec != "" {
		args = append(args, "-c:a", opts.AudioCodec)
	}
	if opts.AudioBitrate != "" {
		args = append(args, "-b:a", opts.AudioBitrate)
	}
	args = append(args, "-progress", "pipe:1", "-nostats", outputPath)

	cmd := commandContext(ctx, c.ffmpeg, args...) //nolint:gosec
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	var stderr stderrTail
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}

	scanner := bufio.NewScanner(stdout)
	var current ProgressUpdate
	for scanner.Scan() {
		key, value, ok := parseProgressLine(scanner.Text())
		if !ok {
			continue
		}
		done := applyProgressField(&current, key, value, total)
		if done && opts.Progress != nil {
			opts.Progress(current)
		}
	}
	if err := scanner.Err(); err != nil {
		_ = cmd.Wait()
		return fmt.Errorf("read ffmpeg output: %w", err)
	}

	if err := cmd.Wait(); err != nil {
		if diag := stderr.String(); diag != "" {
			return fmt.Errorf("ffmpeg transcode failed: %w: %s", err, diag)
		}
		return fmt.Errorf("ffmpeg transcode failed: %w", err)
	}
	return nil
}

const stderrTailLimit = 4 * 1024

// stderrTail keeps the last few KiB of encoder diagnostics so a failed run
// can surface what the tool actually printed.
type stderrTail struct {
	mu  sync.Mutex
	buf []byte
}

func (t *stderrTail) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if overflow := len(t.buf) - stderrTailLimit; overflow > 0 {
		t.buf = t.buf[overflow:]
	}
	return len(p), nil
}

func (t *stderrTail) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(string(t.buf))
}

var _ Client = (*CLI)(nil)
