package detect

import (
	"context"
	"fmt"

	"github.com/keagan/eventcut/internal/audio"
	"github.com/keagan/eventcut/internal/ffmpeg"
	"github.com/rs/zerolog"
)

// EnergySource produces the energy series of a media file.
type EnergySource interface {
	Extract(ctx context.Context, mediaPath, workDir string) (*audio.Analysis, error)
}

// Gate is the part of the engine the noise-gate policy needs.
type Gate interface {
	AnalyzeVolume(ctx context.Context, input string) (*ffmpeg.VolumeStats, error)
	DetectSilence(ctx context.Context, input string, noiseDB, minDuration float64) ([]ffmpeg.SilenceEvent, error)
}

// Detector runs the selected policy and returns its activity mask.
type Detector struct {
	energy EnergySource
	gate   Gate
	params GateParams
	logger zerolog.Logger
}

func NewDetector(logger zerolog.Logger, energy EnergySource, gate Gate, params GateParams) *Detector {
	return &Detector{
		energy: energy,
		gate:   gate,
		params: params,
		logger: logger.With().Str("component", "detect").Logger(),
	}
}

// Detect builds the mask for mediaPath. duration is the probed clip length.
// Settings must already be validated.
func (d *Detector) Detect(ctx context.Context, mediaPath, workDir string, duration float64, s Settings) (Mask, error) {
	switch s.Policy {
	case PolicyRMSRatio:
		analysis, err := d.energy.Extract(ctx, mediaPath, workDir)
		if err != nil {
			return Mask{}, err
		}
		if analysis.Duration > 0 {
			duration = analysis.Duration
		}
		m := RMSMask(analysis.Frames, duration, s.Sensitivity)
		d.logger.Debug().
			Int("frames", len(m.Samples)).
			Int("active", m.ActiveCount()).
			Float64("sensitivity", s.Sensitivity).
			Msg("rms mask built")
		return m, nil

	case PolicyNoiseGate:
		stats, err := d.gate.AnalyzeVolume(ctx, mediaPath)
		if err != nil {
			return Mask{}, err
		}
		threshold := NoiseGateThreshold(stats.MaxVolume, s.ThresholdPercent, d.params)
		events, err := d.gate.DetectSilence(ctx, mediaPath, threshold, s.PaddingDuration)
		if err != nil {
			return Mask{}, err
		}
		m := MaskFromSilences(events, duration)
		d.logger.Debug().
			Float64("peak_db", stats.MaxVolume).
			Float64("threshold_db", threshold).
			Int("events", len(events)).
			Msg("noise gate mask built")
		return m, nil
	}

	return Mask{}, fmt.Errorf("unknown policy %q", s.Policy)
}
