// Package segments turns an activity mask into a clean list of time ranges.
package segments

import (
	"fmt"
	"sort"

	"github.com/keagan/eventcut/internal/detect"
)

// Segment is a half-open range [Start, End) in seconds.
type Segment struct {
	Start float64 `json:"start" yaml:"start"`
	End   float64 `json:"end" yaml:"end"`
}

// Duration of the segment in seconds.
func (s Segment) Duration() float64 {
	return s.End - s.Start
}

func (s Segment) String() string {
	return fmt.Sprintf("[%.3f, %.3f)", s.Start, s.End)
}

// Total is the summed duration of a list.
func Total(segs []Segment) float64 {
	var t float64
	for _, s := range segs {
		t += s.Duration()
	}
	return t
}

// Build run-length encodes the mask into active ranges. A range still open
// at the end of the mask is closed at the mask's duration. Ranges shorter
// than minDuration are dropped.
func Build(mask detect.Mask, minDuration float64) []Segment {
	var (
		out   []Segment
		open  bool
		start float64
	)
	closeAt := func(end float64) {
		if end > mask.Duration {
			end = mask.Duration
		}
		if end > start {
			out = append(out, Segment{Start: start, End: end})
		}
	}

	for _, s := range mask.Samples {
		switch {
		case s.Active && !open:
			open, start = true, s.Timestamp
		case !s.Active && open:
			open = false
			closeAt(s.Timestamp)
		}
	}
	if open {
		closeAt(mask.Duration)
	}

	return FilterShort(out, minDuration)
}

// FilterShort drops segments shorter than minDuration. The input is not modified.
func FilterShort(segs []Segment, minDuration float64) []Segment {
	out := make([]Segment, 0, len(segs))
	for _, s := range segs {
		if s.Duration() >= minDuration {
			out = append(out, s)
		}
	}
	return out
}

// MergeGaps joins neighbours whose gap is strictly below threshold in one
// left-to-right pass. The input must be sorted by Start.
func MergeGaps(segs []Segment, threshold float64) []Segment {
	if len(segs) == 0 {
		return []Segment{}
	}
	out := []Segment{segs[0]}
	for _, s := range segs[1:] {
		last := &out[len(out)-1]
		if s.Start-last.End < threshold {
			if s.End > last.End {
				last.End = s.End
			}
			continue
		}
		out = append(out, s)
	}
	return out
}

// Pad widens every segment by padding on both sides, clamped to [0, duration].
func Pad(segs []Segment, padding, duration float64) []Segment {
	out := make([]Segment, len(segs))
	for i, s := range segs {
		start, end := s.Start-padding, s.End+padding
		if start < 0 {
			start = 0
		}
		if end > duration {
			end = duration
		}
		out[i] = Segment{Start: start, End: end}
	}
	return out
}

// SweepMerge sorts by start and unions ranges that overlap or touch.
func SweepMerge(segs []Segment) []Segment {
	if len(segs) == 0 {
		return []Segment{}
	}
	sorted := append([]Segment(nil), segs...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })

	out := []Segment{sorted[0]}
	for _, s := range sorted[1:] {
		last := &out[len(out)-1]
		if s.Start <= last.End {
			if s.End > last.End {
				last.End = s.End
			}
			continue
		}
		out = append(out, s)
	}
	return out
}

// Merge applies the policy's merge step and re-applies the minimum-duration
// filter. An empty result is a valid outcome.
func Merge(segs []Segment, s detect.Settings, duration float64) []Segment {
	var merged []Segment
	switch s.Policy {
	case detect.PolicyNoiseGate:
		merged = SweepMerge(Pad(segs, s.PaddingDuration, duration))
	default:
		merged = MergeGaps(segs, s.MergeThreshold)
	}
	return FilterShort(merged, s.MinSegmentDuration)
}

// Validate checks the list invariants: every segment lies within
// [0, duration] with Start < End, the list is sorted, no two segments
// overlap, and every duration is at least minDuration.
func Validate(segs []Segment, duration, minDuration float64) error {
	for i, s := range segs {
		if s.Start < 0 || s.End > duration || s.Start >= s.End {
			return fmt.Errorf("segment %d %s outside [0, %.3f]", i, s, duration)
		}
		if s.Duration() < minDuration {
			return fmt.Errorf("segment %d %s shorter than %.3fs", i, s, minDuration)
		}
		if i > 0 && s.Start < segs[i-1].End {
			return fmt.Errorf("segment %d %s overlaps or precedes %s", i, s, segs[i-1])
		}
	}
	return nil
}
