package ffmpeg

import (
	"context"
	"fmt"

	"github.com/keagan/eventcut/pkg/util"
)

// ClipOptions defines clip extraction parameters. Start and Duration are in
// seconds. Width, Height and FPS pin the output to the source geometry and
// rate; zero values leave the stream as decoded.
type ClipOptions struct {
	Start        float64
	Duration     float64
	Output       string
	Width        int
	Height       int
	FPS          float64
	Profile      EncodeProfile
	ProgressFunc ProgressFunc
}

// ExtractClip re-encodes a range of the input into opts.Output
func (e *Executor) ExtractClip(ctx context.Context, input string, opts ClipOptions) error {
	if opts.Duration <= 0 {
		return fmt.Errorf("invalid clip duration %.3fs", opts.Duration)
	}
	if opts.Start < 0 {
		return fmt.Errorf("invalid clip start %.3fs", opts.Start)
	}
	if opts.Output == "" {
		return fmt.Errorf("output path is required")
	}

	e.logger.Info().
		Str("input", input).
		Str("output", opts.Output).
		Float64("start", opts.Start).
		Float64("duration", opts.Duration).
		Msg("extracting clip")

	// input seeking is frame accurate when re-encoding
	args := []string{
		"-ss", util.FormatSeconds(opts.Start),
		"-i", input,
		"-t", util.FormatSeconds(opts.Duration),
		"-map", "0:v:0",
		"-map", "0:a:0",
	}

	if opts.Width > 0 && opts.Height > 0 {
		args = append(args, "-vf", NewFilterBuilder().Scale(opts.Width, opts.Height).SetSAR().Build())
	}
	if opts.FPS > 0 {
		args = append(args, "-r", formatRate(opts.FPS))
	}

	args = append(args, opts.Profile.args()...)
	args = append(args, "-movflags", "+faststart", opts.Output)

	runOpts := RunOptions{
		Args:            args,
		Timeout:         e.timeouts.Segment,
		ProgressHandler: opts.ProgressFunc,
		LogHandler: func(line string) {
			e.logger.Debug().Str("ffmpeg", line).Msg("clip extraction")
		},
	}

	if err := e.Run(ctx, runOpts); err != nil {
		return fmt.Errorf("clip extraction failed: %w", err)
	}

	e.logger.Info().Str("output", opts.Output).Msg("clip extraction complete")
	return nil
}
