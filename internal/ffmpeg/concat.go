package ffmpeg

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ConcatOptions defines a re-encoding filter-graph join
type ConcatOptions struct {
	Inputs       []string
	Output       string
	Width        int
	Height       int
	FPS          float64
	Profile      EncodeProfile
	ProgressFunc ProgressFunc
}

// ConcatFilter joins inputs with the concat filter and re-encodes the result
func (e *Executor) ConcatFilter(ctx context.Context, opts ConcatOptions) error {
	if len(opts.Inputs) == 0 {
		return fmt.Errorf("no input files provided")
	}
	if opts.Output == "" {
		return fmt.Errorf("output path is required")
	}

	e.logger.Info().
		Int("inputs", len(opts.Inputs)).
		Str("output", opts.Output).
		Int("width", opts.Width).
		Int("height", opts.Height).
		Float64("fps", opts.FPS).
		Msg("joining segments")

	args := make([]string, 0, 2*len(opts.Inputs)+16)
	for _, in := range opts.Inputs {
		args = append(args, "-i", in)
	}

	args = append(args,
		"-filter_complex", ConcatGraph(len(opts.Inputs), opts.Width, opts.Height, opts.FPS),
		"-map", "[outv]",
		"-map", "[outa]",
	)
	if opts.FPS > 0 {
		args = append(args, "-r", formatRate(opts.FPS))
	}
	args = append(args, opts.Profile.args()...)
	args = append(args, "-movflags", "+faststart", opts.Output)

	runOpts := RunOptions{
		Args:            args,
		Timeout:         e.timeouts.Montage,
		ProgressHandler: opts.ProgressFunc,
		LogHandler: func(line string) {
			e.logger.Debug().Str("ffmpeg", line).Msg("joining")
		},
	}

	if err := e.Run(ctx, runOpts); err != nil {
		return fmt.Errorf("concat filter failed: %w", err)
	}
	return nil
}

// Concat stream-copies inputs into output via the concat demuxer
func (e *Executor) Concat(ctx context.Context, inputs []string, output string) error {
	if len(inputs) == 0 {
		return fmt.Errorf("no input files provided")
	}
	if output == "" {
		return fmt.Errorf("output path is required")
	}

	e.logger.Info().
		Int("inputs", len(inputs)).
		Str("output", output).
		Msg("concatenating videos")

	// Create temporary concat file list
	concatFile, err := createConcatFile(inputs)
	if err != nil {
		return fmt.Errorf("failed to create concat file: %w", err)
	}
	defer os.Remove(concatFile)

	args := []string{
		"-f", "concat",
		"-safe", "0",
		"-i", concatFile,
		"-c", "copy",
		"-movflags", "+faststart",
		output,
	}

	runOpts := RunOptions{
		Args:    args,
		Timeout: e.timeouts.Recombine,
		LogHandler: func(line string) {
			e.logger.Debug().Str("ffmpeg", line).Msg("concatenating")
		},
	}

	if err := e.Run(ctx, runOpts); err != nil {
		return fmt.Errorf("concat failed: %w", err)
	}
	return nil
}

// createConcatFile generates a temporary file list for ffmpeg concat
func createConcatFile(inputs []string) (string, error) {
	tmpFile, err := os.CreateTemp("", "eventcut-concat-*.txt")
	if err != nil {
		return "", err
	}
	defer tmpFile.Close()

	if err := writeConcatList(tmpFile, inputs); err != nil {
		os.Remove(tmpFile.Name())
		return "", err
	}

	return tmpFile.Name(), nil
}

// writeConcatList writes one `file '<abs path>'` line per input in order
func writeConcatList(w io.Writer, inputs []string) error {
	for _, input := range inputs {
		absPath, err := filepath.Abs(input)
		if err != nil {
			return err
		}
		escaped := strings.ReplaceAll(absPath, "'", `'\''`)
		if _, err := fmt.Fprintf(w, "file '%s'\n", escaped); err != nil {
			return err
		}
	}
	return nil
}
