package ffmpeg

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// ExtractAudio decodes the first audio stream to mono 16-bit PCM WAV at the
// source sample rate.
func (e *Executor) ExtractAudio(ctx context.Context, input, output string) error {
	e.logger.Info().
		Str("input", input).
		Str("output", output).
		Msg("extracting audio")

	args := []string{
		"-i", input,
		"-vn", // no video
		"-map", "0:a:0",
		"-ac", "1",
		"-acodec", "pcm_s16le",
		"-f", "wav",
		output,
	}

	opts := RunOptions{
		Args:    args,
		Timeout: e.timeouts.Analysis,
		LogHandler: func(line string) {
			e.logger.Debug().Str("ffmpeg", line).Msg("audio extraction")
		},
	}

	if err := e.Run(ctx, opts); err != nil {
		return fmt.Errorf("audio extraction failed: %w", err)
	}
	return nil
}

// SilenceKind marks which edge of a silent interval an event reports.
type SilenceKind string

const (
	SilenceStart SilenceKind = "start"
	SilenceEnd   SilenceKind = "end"
)

// SilenceEvent is one line of silencedetect output.
// Duration is only set on SilenceEnd events.
type SilenceEvent struct {
	Kind     SilenceKind
	At       float64
	Duration float64
}

// DetectSilence runs silencedetect over the input and returns its events in
// stream order.
func (e *Executor) DetectSilence(ctx context.Context, input string, noiseDB, minDuration float64) ([]SilenceEvent, error) {
	e.logger.Info().
		Str("input", input).
		Float64("noise_db", noiseDB).
		Float64("min_duration", minDuration).
		Msg("detecting silence")

	handler, output := capture(e.logger, "silence detection output")
	opts := RunOptions{
		Args: []string{
			"-i", input,
			"-vn",
			"-af", fmt.Sprintf("silencedetect=noise=%.2fdB:d=%.3f", noiseDB, minDuration),
			"-f", "null",
			"-",
		},
		Timeout:    e.timeouts.Analysis,
		LogHandler: handler,
	}

	if err := e.Run(ctx, opts); err != nil {
		return nil, fmt.Errorf("silence detection failed: %w", err)
	}

	events := ParseSilenceEvents(output())
	e.logger.Debug().Int("events", len(events)).Msg("silence detection complete")
	return events, nil
}

// ParseSilenceEvents extracts silence_start / silence_end events from
// silencedetect output. Unparseable lines are ignored.
func ParseSilenceEvents(output string) []SilenceEvent {
	var events []SilenceEvent

	for _, line := range strings.Split(output, "\n") {
		if _, rest, ok := strings.Cut(line, "silence_start:"); ok {
			fields := strings.Fields(rest)
			if len(fields) == 0 {
				continue
			}
			at, err := strconv.ParseFloat(fields[0], 64)
			if err != nil {
				continue
			}
			events = append(events, SilenceEvent{Kind: SilenceStart, At: at})
			continue
		}

		if _, rest, ok := strings.Cut(line, "silence_end:"); ok {
			endPart, durPart, _ := strings.Cut(rest, "|")
			fields := strings.Fields(endPart)
			if len(fields) == 0 {
				continue
			}
			at, err := strconv.ParseFloat(fields[0], 64)
			if err != nil {
				continue
			}
			ev := SilenceEvent{Kind: SilenceEnd, At: at}
			if _, d, ok := strings.Cut(durPart, "silence_duration:"); ok {
				if df := strings.Fields(d); len(df) > 0 {
					ev.Duration, _ = strconv.ParseFloat(df[0], 64)
				}
			}
			events = append(events, ev)
		}
	}

	return events
}

// VolumeStats holds volume analysis results
type VolumeStats struct {
	MeanVolume float64
	MaxVolume  float64
}

// AnalyzeVolume calculates volume statistics for audio/video file
func (e *Executor) AnalyzeVolume(ctx context.Context, input string) (*VolumeStats, error) {
	e.logger.Info().Str("input", input).Msg("analyzing volume")

	handler, output := capture(e.logger, "volume detection output")
	opts := RunOptions{
		Args: []string{
			"-i", input,
			"-vn",
			"-af", "volumedetect",
			"-f", "null",
			"-",
		},
		Timeout:    e.timeouts.Analysis,
		LogHandler: handler,
	}

	if err := e.Run(ctx, opts); err != nil {
		return nil, fmt.Errorf("volume analysis failed: %w", err)
	}

	return ParseVolumeStats(output())
}

// ParseVolumeStats extracts mean_volume and max_volume from volumedetect
// output. Missing max_volume is an error since callers gate on it.
func ParseVolumeStats(output string) (*VolumeStats, error) {
	stats := &VolumeStats{}
	var sawMax bool

	for _, line := range strings.Split(output, "\n") {
		if _, rest, ok := strings.Cut(line, "mean_volume:"); ok {
			if v, ok := firstFloat(rest); ok {
				stats.MeanVolume = v
			}
		} else if _, rest, ok := strings.Cut(line, "max_volume:"); ok {
			if v, ok := firstFloat(rest); ok {
				stats.MaxVolume = v
				sawMax = true
			}
		}
	}

	if !sawMax {
		return nil, fmt.Errorf("volumedetect output has no max_volume")
	}
	return stats, nil
}

func firstFloat(s string) (float64, bool) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return 0, false
	}
	v, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
