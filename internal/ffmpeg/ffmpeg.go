package ffmpeg

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/keagan/eventcut/pkg/util"
	"github.com/rs/zerolog"
)

// ErrNotFound is returned by New when ffmpeg or ffprobe cannot be located.
var ErrNotFound = errors.New("ffmpeg binary not found")

// stderrTailLines is how much ffmpeg stderr an ExecError keeps.
const stderrTailLines = 12

// Executor handles all ffmpeg operations with progress streaming
type Executor struct {
	logger      zerolog.Logger
	ffmpegPath  string
	ffprobePath string
	threads     int
	timeouts    Timeouts
}

// Timeouts bounds each kind of engine call. Zero means no limit.
type Timeouts struct {
	Version   time.Duration
	Probe     time.Duration
	Analysis  time.Duration
	Segment   time.Duration
	Montage   time.Duration
	Recombine time.Duration
}

// New locates ffmpeg and ffprobe once. Empty paths fall back to a PATH lookup.
func New(logger zerolog.Logger, ffmpegBin, ffprobeBin string, threads int) (*Executor, error) {
	if ffmpegBin == "" {
		ffmpegBin = "ffmpeg"
	}
	if ffprobeBin == "" {
		ffprobeBin = "ffprobe"
	}

	ffmpegPath, err := exec.LookPath(ffmpegBin)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNotFound, ffmpegBin, err)
	}

	ffprobePath, err := exec.LookPath(ffprobeBin)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNotFound, ffprobeBin, err)
	}

	return &Executor{
		logger:      logger.With().Str("component", "ffmpeg").Logger(),
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		threads:     threads,
	}, nil
}

// WithTimeouts sets the per-call budgets and returns the executor.
func (e *Executor) WithTimeouts(t Timeouts) *Executor {
	e.timeouts = t
	return e
}

// ExecError is a non-zero exit of ffmpeg or ffprobe with the tail of its stderr.
type ExecError struct {
	Tool   string
	Err    error
	Stderr string
}

func (e *ExecError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("%s failed: %v", e.Tool, e.Err)
	}
	return fmt.Sprintf("%s failed: %v: %s", e.Tool, e.Err, e.Stderr)
}

func (e *ExecError) Unwrap() error { return e.Err }

// Version runs `ffmpeg -version` and returns its first line.
func (e *Executor) Version(ctx context.Context) (string, error) {
	ctx, cancel := withTimeout(ctx, e.timeouts.Version)
	defer cancel()

	out, err := exec.CommandContext(ctx, e.ffmpegPath, "-version").Output()
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("ffmpeg -version: %w", ctx.Err())
		}
		return "", &ExecError{Tool: "ffmpeg", Err: err}
	}

	first, _, _ := strings.Cut(string(out), "\n")
	return strings.TrimSpace(first), nil
}

// Run executes ffmpeg with the given arguments and streams progress.
// A positive opts.Timeout bounds this single invocation.
func (e *Executor) Run(ctx context.Context, opts RunOptions) error {
	if len(opts.Args) == 0 {
		return fmt.Errorf("no arguments provided")
	}

	ctx, cancel := withTimeout(ctx, opts.Timeout)
	defer cancel()

	// Build args with threads BEFORE other arguments
	baseArgs := []string{"-y", "-hide_banner", "-nostdin", "-loglevel", "info"}

	if e.threads > 0 {
		baseArgs = append(baseArgs, "-threads", fmt.Sprintf("%d", e.threads))
	}

	baseArgs = append(baseArgs, "-progress", "pipe:2")
	args := append(baseArgs, opts.Args...)

	e.logger.Debug().
		Str("cmd", "ffmpeg").
		Strs("args", args).
		Dur("timeout", opts.Timeout).
		Msg("executing ffmpeg")

	cmd := exec.CommandContext(ctx, e.ffmpegPath, args...)

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	tail := newTail(stderrTailLines)

	var wg sync.WaitGroup
	wg.Add(2)

	// Stream stderr (progress + logs)
	go func() {
		defer wg.Done()
		e.streamOutput(stderr, tail, opts.ProgressHandler, opts.LogHandler)
	}()

	// Stream stdout
	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stdout)
		for scanner.Scan() {
			if opts.LogHandler != nil {
				opts.LogHandler(scanner.Text())
			}
		}
	}()

	wg.Wait()

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("ffmpeg: %w", ctx.Err())
		}
		return &ExecError{Tool: "ffmpeg", Err: err, Stderr: tail.String()}
	}

	e.logger.Debug().Msg("ffmpeg execution completed")
	return nil
}

// streamOutput parses ffmpeg output and calls handlers
func (e *Executor) streamOutput(r io.Reader, tail *lineTail, progressHandler func(*Progress), logHandler func(string)) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	progressData := &Progress{}

	for scanner.Scan() {
		line := scanner.Text()

		if logHandler != nil {
			logHandler(line)
		}

		key, value, isKV := strings.Cut(line, "=")
		if !isKV || strings.ContainsAny(key, " :[") {
			tail.add(line)
			continue
		}
		value = strings.TrimSpace(value)

		switch key {
		case "frame":
			fmt.Sscanf(value, "%d", &progressData.Frame)
		case "fps":
			fmt.Sscanf(value, "%f", &progressData.FPS)
		case "bitrate":
			progressData.Bitrate = value
		case "out_time":
			progressData.Time = value
			if d, err := util.ParseTimestamp(value); err == nil {
				progressData.Elapsed = d
			}
		case "speed":
			progressData.Speed = value
		case "progress":
			// End of progress block
			if progressHandler != nil {
				progressHandler(progressData)
			}
			progressData = &Progress{}
		}
	}
}

// capture returns a LogHandler that accumulates every line for later parsing.
func capture(logger zerolog.Logger, msg string) (func(string), func() string) {
	var (
		mu  sync.Mutex
		buf strings.Builder
	)
	handler := func(line string) {
		mu.Lock()
		buf.WriteString(line)
		buf.WriteByte('\n')
		mu.Unlock()
		logger.Debug().Str("stderr", line).Msg(msg)
	}
	output := func() string {
		mu.Lock()
		defer mu.Unlock()
		return buf.String()
	}
	return handler, output
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// lineTail keeps the last n lines written to it.
type lineTail struct {
	mu    sync.Mutex
	n     int
	lines []string
}

func newTail(n int) *lineTail {
	return &lineTail{n: n}
}

func (t *lineTail) add(line string) {
	if strings.TrimSpace(line) == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines = append(t.lines, line)
	if len(t.lines) > t.n {
		t.lines = t.lines[len(t.lines)-t.n:]
	}
}

func (t *lineTail) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.Join(t.lines, "\n")
}
