// Package detect decides which parts of a clip are active.
package detect

import (
	"math"

	"github.com/keagan/eventcut/internal/apperr"
	"github.com/keagan/eventcut/internal/config"
)

// Policy selects how activity is detected.
type Policy string

const (
	// PolicyRMSRatio marks frames whose normalised energy exceeds the sensitivity.
	PolicyRMSRatio Policy = "rms_ratio"
	// PolicyNoiseGate gates on a threshold derived from the clip's peak level.
	PolicyNoiseGate Policy = "noise_gate"
)

// Settings are the per-run detection parameters.
type Settings struct {
	Policy             Policy  `json:"policy" yaml:"policy"`
	Sensitivity        float64 `json:"sensitivity" yaml:"sensitivity"`
	MergeThreshold     float64 `json:"merge_threshold" yaml:"merge_threshold"`
	ThresholdPercent   float64 `json:"threshold_percent" yaml:"threshold_percent"`
	PaddingDuration    float64 `json:"padding_duration" yaml:"padding_duration"`
	MinSegmentDuration float64 `json:"min_segment_duration" yaml:"min_segment_duration"`
}

// SettingsFromConfig takes the configured defaults.
func SettingsFromConfig(cfg config.DetectConfig) Settings {
	return Settings{
		Policy:             Policy(cfg.Policy),
		Sensitivity:        cfg.Sensitivity,
		MergeThreshold:     cfg.MergeThreshold,
		ThresholdPercent:   cfg.ThresholdPercent,
		PaddingDuration:    cfg.PaddingDuration,
		MinSegmentDuration: cfg.MinSegmentDuration,
	}
}

// DefaultSettings mirrors config.Default().Detect.
func DefaultSettings() Settings {
	return SettingsFromConfig(config.Default().Detect)
}

// Validate checks every range relevant to the selected policy.
func (s Settings) Validate() error {
	const op = "validate settings"

	for _, v := range []float64{s.Sensitivity, s.MergeThreshold, s.ThresholdPercent, s.PaddingDuration, s.MinSegmentDuration} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return apperr.Validation(op, "settings must be finite numbers")
		}
	}

	if s.MinSegmentDuration <= 0 || s.MinSegmentDuration > 60 {
		return apperr.Validation(op, "min_segment_duration must be in (0, 60], got %g", s.MinSegmentDuration)
	}

	switch s.Policy {
	case PolicyRMSRatio:
		if s.Sensitivity < 0 || s.Sensitivity > 1 {
			return apperr.Validation(op, "sensitivity must be in [0, 1], got %g", s.Sensitivity)
		}
		if s.MergeThreshold < 0.1 || s.MergeThreshold > 5 {
			return apperr.Validation(op, "merge_threshold must be in [0.1, 5], got %g", s.MergeThreshold)
		}
	case PolicyNoiseGate:
		if s.ThresholdPercent < 1 || s.ThresholdPercent > 100 {
			return apperr.Validation(op, "threshold_percent must be in [1, 100], got %g", s.ThresholdPercent)
		}
		if s.PaddingDuration < 0.1 || s.PaddingDuration > 5 {
			return apperr.Validation(op, "padding_duration must be in [0.1, 5], got %g", s.PaddingDuration)
		}
	default:
		return apperr.Validation(op, "unknown policy %q", s.Policy)
	}

	return nil
}
