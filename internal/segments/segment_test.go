package segments

import (
	"math/rand"
	"testing"

	"github.com/keagan/eventcut/internal/detect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mask(duration float64, samples ...detect.Sample) detect.Mask {
	return detect.Mask{Samples: samples, Duration: duration}
}

func on(t float64) detect.Sample  { return detect.Sample{Timestamp: t, Active: true} }
func off(t float64) detect.Sample { return detect.Sample{Timestamp: t, Active: false} }

func TestBuildRunLength(t *testing.T) {
	m := mask(10, off(0), on(1), on(1.5), off(2), on(3), off(3.2), on(8))

	got := Build(m, 0.5)
	assert.Equal(t, []Segment{{1, 2}, {8, 10}}, got, "short [3,3.2) is dropped, trailing range closes at duration")
}

func TestBuildAllActive(t *testing.T) {
	got := Build(mask(4, on(0), on(1), on(2)), 0.5)
	assert.Equal(t, []Segment{{0, 4}}, got)
}

func TestBuildNothingActive(t *testing.T) {
	assert.Empty(t, Build(mask(4, off(0), off(1)), 0.5))
	assert.Empty(t, Build(mask(4), 0.5))
}

func TestMergeGapsScenario(t *testing.T) {
	got := MergeGaps([]Segment{{1, 2}, {2.3, 3}}, 0.5)
	assert.Equal(t, []Segment{{1, 3}}, got)

	// gap equal to the threshold is kept apart
	got = MergeGaps([]Segment{{1, 2}, {2.5, 3}}, 0.5)
	assert.Equal(t, []Segment{{1, 2}, {2.5, 3}}, got)
}

func TestPadAndSweepMerge(t *testing.T) {
	got := SweepMerge(Pad([]Segment{{1, 2}, {3, 4}}, 1, 10))
	assert.Equal(t, []Segment{{0, 5}}, got)
}

func TestPadClampsToClip(t *testing.T) {
	got := Pad([]Segment{{0.2, 1}, {9, 9.8}}, 0.5, 10)
	assert.Equal(t, []Segment{{0, 1.5}, {8.5, 10}}, got)
}

func TestSweepMergeSortsAndTouches(t *testing.T) {
	got := SweepMerge([]Segment{{5, 6}, {1, 2}, {2, 3}, {2.5, 2.7}})
	assert.Equal(t, []Segment{{1, 3}, {5, 6}}, got)
}

func TestMergeReappliesMinimum(t *testing.T) {
	s := detect.DefaultSettings()
	s.MergeThreshold = 0.1
	s.MinSegmentDuration = 1
	got := Merge([]Segment{{0, 1.5}, {4, 4.6}}, s, 10)
	assert.Equal(t, []Segment{{0, 1.5}}, got)

	assert.Empty(t, Merge(nil, s, 10))
}

func TestMergeNoiseGatePath(t *testing.T) {
	s := detect.DefaultSettings()
	s.Policy = detect.PolicyNoiseGate
	s.PaddingDuration = 1
	got := Merge([]Segment{{1, 2}, {3, 4}}, s, 10)
	assert.Equal(t, []Segment{{0, 5}}, got)
}

// randomSegments returns a sorted, non-overlapping list within [0, duration].
func randomSegments(r *rand.Rand, duration float64) []Segment {
	var out []Segment
	t := r.Float64()
	for t < duration-0.1 {
		end := t + 0.05 + r.Float64()*2
		if end > duration {
			end = duration
		}
		out = append(out, Segment{t, end})
		t = end + r.Float64()*1.5
	}
	return out
}

func TestMergeStepsAreIdempotent(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for i := 0; i < 200; i++ {
		segs := randomSegments(r, 60)
		threshold := 0.1 + r.Float64()*4.9

		once := MergeGaps(segs, threshold)
		assert.Equal(t, once, MergeGaps(once, threshold))

		swept := SweepMerge(Pad(segs, 0.1+r.Float64()*4.9, 60))
		assert.Equal(t, swept, SweepMerge(swept))
	}
}

func TestMergedListsHoldInvariants(t *testing.T) {
	r := rand.New(rand.NewSource(11))
	for i := 0; i < 200; i++ {
		const duration = 45.0
		var samples []detect.Sample
		for ts := 0.0; ts < duration; ts += 512.0 / 44100 {
			samples = append(samples, detect.Sample{Timestamp: ts, Active: r.Float64() < 0.3})
		}

		for _, policy := range []detect.Policy{detect.PolicyRMSRatio, detect.PolicyNoiseGate} {
			s := detect.DefaultSettings()
			s.Policy = policy
			s.MinSegmentDuration = 0.01 + r.Float64()
			s.MergeThreshold = 0.1 + r.Float64()
			s.PaddingDuration = 0.1 + r.Float64()

			built := Build(mask(duration, samples...), s.MinSegmentDuration)
			merged := Merge(built, s, duration)
			require.NoError(t, Validate(merged, duration, s.MinSegmentDuration), "policy %s", policy)
		}
	}
}

func TestValidateRejects(t *testing.T) {
	assert.Error(t, Validate([]Segment{{-1, 1}}, 10, 0.5))
	assert.Error(t, Validate([]Segment{{1, 12}}, 10, 0.5))
	assert.Error(t, Validate([]Segment{{1, 1.2}}, 10, 0.5))
	assert.Error(t, Validate([]Segment{{1, 3}, {2, 4}}, 10, 0.5))
	assert.Error(t, Validate([]Segment{{3, 4}, {1, 2}}, 10, 0.5))
	assert.NoError(t, Validate([]Segment{{1, 2}, {2, 4}}, 10, 0.5))
}

func TestTotal(t *testing.T) {
	assert.InDelta(t, 3.5, Total([]Segment{{0, 1}, {2, 4.5}}), 1e-12)
}
