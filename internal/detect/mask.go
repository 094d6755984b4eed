package detect

import (
	"math"

	"github.com/keagan/eventcut/internal/audio"
	"github.com/keagan/eventcut/internal/ffmpeg"
)

// Sample is one point of an activity mask. Activity holds from Timestamp
// until the next sample.
type Sample struct {
	Timestamp float64
	Active    bool
}

// Mask is an ordered activity signal over a clip of known duration.
type Mask struct {
	Samples  []Sample
	Duration float64
}

// ActiveCount reports how many samples are active.
func (m Mask) ActiveCount() int {
	var n int
	for _, s := range m.Samples {
		if s.Active {
			n++
		}
	}
	return n
}

// RMSMask marks a frame active iff its normalised energy is strictly above
// sensitivity.
func RMSMask(frames []audio.Frame, duration, sensitivity float64) Mask {
	m := Mask{Samples: make([]Sample, len(frames)), Duration: duration}
	for i, fr := range frames {
		m.Samples[i] = Sample{Timestamp: fr.Timestamp, Active: fr.Normalized > sensitivity}
	}
	return m
}

// GateParams are the noise-gate constants.
type GateParams struct {
	FloorOffsetDB float64
	MaxDepthDB    float64
}

// NoiseGateThreshold places the gate percent of the floor offset below the
// peak, but never more than MaxDepthDB below it.
func NoiseGateThreshold(peakDB, percent float64, g GateParams) float64 {
	depth := percent / 100 * g.FloorOffsetDB
	depth = math.Min(depth, g.MaxDepthDB)
	return peakDB - depth
}

// MaskFromSilences turns silencedetect events into mask boundaries. The clip
// starts active; a silence start turns it inactive and a silence end turns
// it back on. An unterminated silence runs to the end of the clip.
func MaskFromSilences(events []ffmpeg.SilenceEvent, duration float64) Mask {
	m := Mask{Duration: duration, Samples: []Sample{{Timestamp: 0, Active: true}}}

	for _, ev := range events {
		at := math.Max(0, math.Min(ev.At, duration))
		s := Sample{Timestamp: at, Active: ev.Kind == ffmpeg.SilenceEnd}

		last := &m.Samples[len(m.Samples)-1]
		switch {
		case at == last.Timestamp:
			last.Active = s.Active
		case at > last.Timestamp:
			m.Samples = append(m.Samples, s)
		}
	}

	return m
}
