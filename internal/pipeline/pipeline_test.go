package pipeline

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/keagan/eventcut/internal/apperr"
	"github.com/keagan/eventcut/internal/config"
	"github.com/keagan/eventcut/internal/detect"
	"github.com/keagan/eventcut/internal/ffmpeg"
	"github.com/keagan/eventcut/internal/ffmpeg/ffmpegtest"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleRate = 8000

type fixture struct {
	cfg      *config.Config
	engine   *ffmpegtest.Engine
	pipeline *Pipeline
	dir      string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Default()
	cfg.WorkDir = filepath.Join(dir, "work")
	cfg.OutputDir = filepath.Join(dir, "outputs")
	cfg.SegmentDir = filepath.Join(dir, "outputs", "segments")
	require.NoError(t, cfg.Validate())

	engine := ffmpegtest.New()
	engine.SampleRate = sampleRate

	p, err := New(zerolog.Nop(), cfg, engine)
	require.NoError(t, err)
	return &fixture{cfg: cfg, engine: engine, pipeline: p, dir: dir}
}

// addClip registers a 10s source whose audio is loud inside bursts and
// silent elsewhere.
func (f *fixture) addClip(t *testing.T, name string, hasAudio bool, bursts ...[2]float64) string {
	t.Helper()
	const seconds = 10
	samples := make([]float64, seconds*sampleRate)
	for _, b := range bursts {
		for i := int(b[0] * sampleRate); i < int(b[1]*sampleRate); i++ {
			samples[i] = 0.5 * math.Sin(2*math.Pi*440*float64(i)/sampleRate)
		}
	}
	path := filepath.Join(f.dir, name)
	require.NoError(t, f.engine.AddSource(path, ffmpeg.VideoInfo{
		Width: 1920, Height: 1080, FPS: 30, HasAudio: hasAudio,
		Duration: seconds * time.Second,
	}, samples))
	return path
}

func (f *fixture) montages(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(f.cfg.OutputDir)
	require.NoError(t, err)
	var out []string
	for _, e := range entries {
		if !e.IsDir() {
			out = append(out, e.Name())
		}
	}
	return out
}

func TestDetectAndAssembleRMS(t *testing.T) {
	f := newFixture(t)
	src := f.addClip(t, "bag work.mp4", true, [2]float64{2, 4}, [2]float64{6, 7})

	res, err := f.pipeline.DetectAndAssemble(context.Background(), src, detect.DefaultSettings())
	require.NoError(t, err)

	segs := res.Montage.Segments
	require.Len(t, segs, 2)
	assert.InDelta(t, 2.0, segs[0].Start, 0.25)
	assert.InDelta(t, 4.0, segs[0].End, 0.25)
	assert.InDelta(t, 6.0, segs[1].Start, 0.25)
	assert.InDelta(t, 7.0, segs[1].End, 0.25)

	assert.InDelta(t, res.Montage.SegmentsDuration, res.Montage.TotalDuration, 1/res.Montage.FrameRate)
	assert.True(t, strings.HasPrefix(res.Montage.Name, "montage_bag_work_"))
	assert.FileExists(t, res.Montage.Path)

	require.Len(t, res.Segments, 2)
	assert.Zero(t, res.Skipped)
	assert.NotEmpty(t, res.RunID)
	for i, art := range res.Segments {
		assert.Equal(t, segs[i].Start, art.Start)
		assert.FileExists(t, filepath.Join(f.cfg.SegmentDir, art.Filename))
	}

	// the per-run work directory is gone
	entries, err := os.ReadDir(f.cfg.WorkDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDetectAndAssembleFlatClipIsEmpty(t *testing.T) {
	f := newFixture(t)
	src := f.addClip(t, "flat.mp4", true)

	_, err := f.pipeline.DetectAndAssemble(context.Background(), src, detect.DefaultSettings())

	assert.ErrorIs(t, err, apperr.ErrEmptyResult)
	assert.Empty(t, f.montages(t))
	assert.Zero(t, f.engine.Calls().ExtractClip)
}

func TestDetectAndAssembleNoiseGate(t *testing.T) {
	f := newFixture(t)
	src := f.addClip(t, "gate.mp4", true)
	f.engine.MaxVolume = -3
	f.engine.Silences = []ffmpeg.SilenceEvent{
		{Kind: ffmpeg.SilenceStart, At: 0},
		{Kind: ffmpeg.SilenceEnd, At: 3, Duration: 3},
		{Kind: ffmpeg.SilenceStart, At: 5},
		{Kind: ffmpeg.SilenceEnd, At: 6.5, Duration: 1.5},
	}

	s := detect.DefaultSettings()
	s.Policy = detect.PolicyNoiseGate
	s.ThresholdPercent = 90
	s.PaddingDuration = 0.5

	res, err := f.pipeline.DetectAndAssemble(context.Background(), src, s)
	require.NoError(t, err)

	assert.Equal(t, -13.0, f.engine.Calls().NoiseDB)
	assert.Zero(t, f.engine.Calls().ExtractAudio)

	segs := res.Montage.Segments
	require.Len(t, segs, 2)
	assert.InDelta(t, 2.5, segs[0].Start, 1e-9)
	assert.InDelta(t, 5.5, segs[0].End, 1e-9)
	assert.InDelta(t, 6.0, segs[1].Start, 1e-9)
	assert.InDelta(t, 10.0, segs[1].End, 1e-9)
}

func TestDetectAndAssembleValidatesFirst(t *testing.T) {
	f := newFixture(t)
	src := f.addClip(t, "a.mp4", true, [2]float64{2, 4})

	s := detect.DefaultSettings()
	s.Sensitivity = 1.5

	_, err := f.pipeline.DetectAndAssemble(context.Background(), src, s)
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.Zero(t, f.engine.Calls().Probe)
}

func TestDetectAndAssembleMissingSource(t *testing.T) {
	f := newFixture(t)
	_, err := f.pipeline.DetectAndAssemble(context.Background(), filepath.Join(f.dir, "nope.mp4"), detect.DefaultSettings())
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestDetectAndAssembleRequiresAudio(t *testing.T) {
	f := newFixture(t)
	src := f.addClip(t, "silent-film.mp4", false)

	_, err := f.pipeline.DetectAndAssemble(context.Background(), src, detect.DefaultSettings())
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.Zero(t, f.engine.Calls().ExtractAudio)
}

func TestDetectAndAssembleCanceledDuringMontage(t *testing.T) {
	f := newFixture(t)
	src := f.addClip(t, "a.mp4", true, [2]float64{2, 4}, [2]float64{6, 7})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.engine.AfterExtract = func(call int) {
		if call == 1 {
			cancel()
		}
	}

	_, err := f.pipeline.DetectAndAssemble(ctx, src, detect.DefaultSettings())
	assert.ErrorIs(t, err, apperr.ErrCanceled)
	assert.Empty(t, f.montages(t))

	list, err := f.pipeline.ListSegmentArtifacts(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestDetectAndAssembleCanceledDuringStore(t *testing.T) {
	f := newFixture(t)
	src := f.addClip(t, "a.mp4", true, [2]float64{2, 4}, [2]float64{6, 7})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// two montage extractions, then the first stored segment
	f.engine.AfterExtract = func(call int) {
		if call == 3 {
			cancel()
		}
	}

	_, err := f.pipeline.DetectAndAssemble(ctx, src, detect.DefaultSettings())
	assert.ErrorIs(t, err, apperr.ErrCanceled)
	assert.Empty(t, f.montages(t), "montage is removed on cancel")

	list, err := f.pipeline.ListSegmentArtifacts(context.Background())
	require.NoError(t, err)
	assert.Len(t, list, 1, "stored segments are kept")
}

func TestRecombineAfterRun(t *testing.T) {
	f := newFixture(t)
	src := f.addClip(t, "a.mp4", true, [2]float64{2, 4}, [2]float64{6, 7})

	res, err := f.pipeline.DetectAndAssemble(context.Background(), src, detect.DefaultSettings())
	require.NoError(t, err)
	require.Len(t, res.Segments, 2)

	list, err := f.pipeline.ListSegmentArtifacts(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2)

	names := []string{list[1].Filename, list[0].Filename}
	art, err := f.pipeline.Recombine(context.Background(), names, "")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(art.Name, "combined_segments_"))
	assert.InDelta(t, res.Montage.SegmentsDuration, art.TotalDuration, 1e-6)

	data, err := os.ReadFile(art.Path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasSuffix(lines[0], fmt.Sprintf(":%.3f-%.3f", list[1].Start, list[1].End)))
	assert.True(t, strings.HasSuffix(lines[1], fmt.Sprintf(":%.3f-%.3f", list[0].Start, list[0].End)))
}

func TestRecombineFailures(t *testing.T) {
	f := newFixture(t)

	_, err := f.pipeline.Recombine(context.Background(), nil, "")
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = f.pipeline.Recombine(context.Background(), []string{"ghost.segment.1.mp4"}, "")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Zero(t, f.engine.Calls().Concat)
}

func TestProbeAndEngineCheck(t *testing.T) {
	f := newFixture(t)
	src := f.addClip(t, "a.mp4", true)

	info, err := f.pipeline.Probe(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, 1920, info.Width)

	_, err = f.pipeline.Probe(context.Background(), filepath.Join(f.dir, "missing.mp4"))
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	v, err := f.pipeline.CheckEngine(context.Background())
	require.NoError(t, err)
	assert.Contains(t, v, "ffmpeg")
}
