package audio

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// Decoder writes the first audio stream of a media file as mono PCM WAV.
type Decoder interface {
	ExtractAudio(ctx context.Context, input, output string) error
}

// Extractor produces the energy series for a media file.
type Extractor struct {
	decoder Decoder
	params  Params
	logger  zerolog.Logger
}

func NewExtractor(logger zerolog.Logger, decoder Decoder, params Params) *Extractor {
	return &Extractor{
		decoder: decoder,
		params:  params,
		logger:  logger.With().Str("component", "audio").Logger(),
	}
}

// Extract decodes mediaPath into workDir and analyses it. The intermediate
// WAV is removed before returning.
func (x *Extractor) Extract(ctx context.Context, mediaPath, workDir string) (*Analysis, error) {
	wavPath := filepath.Join(workDir, "audio.wav")
	defer os.Remove(wavPath)

	start := time.Now()
	if err := x.decoder.ExtractAudio(ctx, mediaPath, wavPath); err != nil {
		return nil, err
	}

	f, err := os.Open(wavPath)
	if err != nil {
		return nil, fmt.Errorf("open decoded audio: %w", err)
	}
	defer f.Close()

	analysis, err := AnalyzeWAV(f, x.params)
	if err != nil {
		return nil, fmt.Errorf("analyze %s: %w", filepath.Base(mediaPath), err)
	}

	x.logger.Info().
		Int("frames", len(analysis.Frames)).
		Int("sample_rate", analysis.SampleRate).
		Float64("duration", analysis.Duration).
		Dur("elapsed", time.Since(start)).
		Msg("audio analysis complete")

	return analysis, nil
}
