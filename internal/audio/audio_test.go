package audio

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRate = 8000

// tone returns n samples of a 440 Hz sine at amplitude amp.
func tone(n int, amp float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = amp * math.Sin(2*math.Pi*440*float64(i)/testRate)
	}
	return out
}

// writeWAV encodes interleaved samples in [-1,1] as 16-bit PCM.
func writeWAV(t *testing.T, path string, channels int, samples []float64) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(math.Round(s * 32767))
	}

	enc := wav.NewEncoder(f, testRate, 16, channels, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: testRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	require.NoError(t, enc.Write(buf))
	require.NoError(t, enc.Close())
}

func TestComputeFramesCountAndTimestamps(t *testing.T) {
	p := DefaultParams()
	n := 10 * p.FrameLength
	a := ComputeFrames(tone(n, 0.5), testRate, p)

	require.Len(t, a.Frames, 1+n/p.HopLength)
	for k, fr := range a.Frames {
		assert.InDelta(t, float64(k*p.HopLength)/testRate, fr.Timestamp, 1e-12)
		assert.LessOrEqual(t, fr.Timestamp, a.Duration)
	}
	assert.InDelta(t, float64(n)/testRate, a.Duration, 1e-12)
}

func TestComputeFramesShortClipSingleFrame(t *testing.T) {
	p := DefaultParams()
	a := ComputeFrames(tone(p.FrameLength-1, 0.5), testRate, p)

	require.Len(t, a.Frames, 1)
	assert.Equal(t, 0.0, a.Frames[0].Timestamp)
	assert.Greater(t, a.Frames[0].RMS, 0.0)
	// a single frame is a flat series
	assert.Equal(t, 0.0, a.Frames[0].Normalized)
}

func TestComputeFramesEmpty(t *testing.T) {
	a := ComputeFrames(nil, testRate, DefaultParams())
	assert.Empty(t, a.Frames)
	assert.Equal(t, 0.0, a.Duration)
}

func TestDecibelsAndNormalisation(t *testing.T) {
	p := DefaultParams()
	quiet := make([]float64, 4*testRate)
	copy(quiet[testRate:], tone(testRate, 0.8))

	a := ComputeFrames(quiet, testRate, p)

	var peakSeen bool
	for _, fr := range a.Frames {
		assert.GreaterOrEqual(t, fr.Decibels, -p.TopDB)
		assert.LessOrEqual(t, fr.Decibels, 0.0)
		assert.GreaterOrEqual(t, fr.Normalized, 0.0)
		assert.LessOrEqual(t, fr.Normalized, 1.0)
		if fr.Decibels == 0 {
			peakSeen = true
			assert.Equal(t, 1.0, fr.Normalized)
		}
		// digital silence sits on the floor
		if fr.Timestamp > 3 {
			assert.Equal(t, -p.TopDB, fr.Decibels)
			assert.Equal(t, 0.0, fr.Normalized)
		}
		if fr.Timestamp > 1.3 && fr.Timestamp < 1.7 {
			assert.Greater(t, fr.Normalized, 0.9)
		}
	}
	assert.True(t, peakSeen)
}

func TestFlatSeriesNormalisesToZero(t *testing.T) {
	a := ComputeFrames(make([]float64, 3*testRate), testRate, DefaultParams())
	require.NotEmpty(t, a.Frames)
	for _, fr := range a.Frames {
		assert.Equal(t, 0.0, fr.Normalized)
	}
}

func TestAnalyzeWAVMatchesInMemory(t *testing.T) {
	p := DefaultParams()
	mono := make([]float64, 3*testRate)
	copy(mono[testRate/2:], tone(testRate, 0.6))

	path := filepath.Join(t.TempDir(), "mono.wav")
	writeWAV(t, path, 1, mono)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	got, err := AnalyzeWAV(f, p)
	require.NoError(t, err)

	// compare against the quantised signal the file actually holds
	quantised := make([]float64, len(mono))
	for i, s := range mono {
		quantised[i] = math.Round(s*32767) / 32768
	}
	want := ComputeFrames(quantised, testRate, p)

	assert.Equal(t, testRate, got.SampleRate)
	assert.Equal(t, len(mono), got.Samples)
	require.Len(t, got.Frames, len(want.Frames))
	for i := range want.Frames {
		assert.InDelta(t, want.Frames[i].RMS, got.Frames[i].RMS, 1e-9)
		assert.InDelta(t, want.Frames[i].Normalized, got.Frames[i].Normalized, 1e-9)
	}
}

func TestAnalyzeWAVDownmixesStereo(t *testing.T) {
	n := 2 * testRate
	left := tone(n, 0.5)
	stereo := make([]float64, 2*n)
	for i := 0; i < n; i++ {
		stereo[2*i] = left[i]
		stereo[2*i+1] = -left[i] // cancels when averaged
	}

	path := filepath.Join(t.TempDir(), "stereo.wav")
	writeWAV(t, path, 2, stereo)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	a, err := AnalyzeWAV(f, DefaultParams())
	require.NoError(t, err)
	assert.Equal(t, n, a.Samples)
	for _, fr := range a.Frames {
		assert.Less(t, fr.RMS, 1e-4)
	}
}

func TestAnalyzeWAVRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.wav")
	require.NoError(t, os.WriteFile(path, []byte("definitely not riff data"), 0644))
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	_, err = AnalyzeWAV(f, DefaultParams())
	assert.Error(t, err)
}

type fakeDecoder struct {
	samples []float64
	err     error
	t       *testing.T
}

func (d *fakeDecoder) ExtractAudio(_ context.Context, _, output string) error {
	if d.err != nil {
		return d.err
	}
	writeWAV(d.t, output, 1, d.samples)
	return nil
}

func TestExtractorRemovesIntermediate(t *testing.T) {
	dir := t.TempDir()
	dec := &fakeDecoder{samples: tone(testRate, 0.4), t: t}
	x := NewExtractor(zerolog.Nop(), dec, DefaultParams())

	a, err := x.Extract(context.Background(), "/videos/session.mp4", dir)
	require.NoError(t, err)
	assert.NotEmpty(t, a.Frames)

	_, statErr := os.Stat(filepath.Join(dir, "audio.wav"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestExtractorPropagatesDecoderError(t *testing.T) {
	boom := errors.New("decoder exploded")
	x := NewExtractor(zerolog.Nop(), &fakeDecoder{err: boom, t: t}, DefaultParams())

	_, err := x.Extract(context.Background(), "in.mp4", t.TempDir())
	assert.ErrorIs(t, err, boom)
}
