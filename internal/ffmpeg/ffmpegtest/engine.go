// Package ffmpegtest provides an in-process stand-in for the ffmpeg executor.
//
// Clips and joins are written as small text files so tests can assert on
// content and order without a real encoder. Durations are tracked by base
// name, so they survive a rename into place, and are reported back through
// ProbeVideo.
package ffmpegtest

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/keagan/eventcut/internal/ffmpeg"
)

// Calls counts engine invocations.
type Calls struct {
	ExtractAudio  int
	AnalyzeVolume int
	DetectSilence int
	ExtractClip   int
	ConcatFilter  int
	Concat        int
	Probe         int
	NoiseDB       float64
}

// Engine is a fake engine. Zero values are usable after New.
type Engine struct {
	SampleRate int
	MaxVolume  float64
	Silences   []ffmpeg.SilenceEvent

	// FailExtract, when set, is consulted before every clip extraction
	// with the 1-based call number.
	FailExtract func(call int, opts ffmpeg.ClipOptions) error
	// AfterExtract runs after every successful clip extraction.
	AfterExtract func(call int)
	FailJoin     error
	FailCopy     error

	mu      sync.Mutex
	calls   Calls
	info    map[string]ffmpeg.VideoInfo
	samples map[string][]float64
	lengths map[string]float64
}

func New() *Engine {
	return &Engine{
		SampleRate: 8000,
		MaxVolume:  -3,
		info:       make(map[string]ffmpeg.VideoInfo),
		samples:    make(map[string][]float64),
		lengths:    make(map[string]float64),
	}
}

// AddSource writes a placeholder media file at path and registers its
// probe result and decoded audio.
func (e *Engine) AddSource(path string, info ffmpeg.VideoInfo, samples []float64) error {
	if err := os.WriteFile(path, []byte("source:"+path+"\n"), 0644); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	info.FilePath = path
	e.info[path] = info
	e.samples[path] = samples
	e.lengths[filepath.Base(path)] = info.Duration.Seconds()
	return nil
}

// Calls returns a snapshot of the call counters.
func (e *Engine) Calls() Calls {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func (e *Engine) Version(ctx context.Context) (string, error) {
	return "ffmpeg version fake", ctx.Err()
}

func (e *Engine) ExtractAudio(ctx context.Context, input, output string) error {
	e.mu.Lock()
	e.calls.ExtractAudio++
	samples, ok := e.samples[input]
	rate := e.SampleRate
	e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no audio registered for %s", input)
	}

	f, err := os.Create(output)
	if err != nil {
		return err
	}
	defer f.Close()

	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(math.Round(s * 32767))
	}
	enc := wav.NewEncoder(f, rate, 16, 1, 1)
	if err := enc.Write(&goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: rate},
		Data:           data,
		SourceBitDepth: 16,
	}); err != nil {
		return err
	}
	return enc.Close()
}

func (e *Engine) AnalyzeVolume(ctx context.Context, input string) (*ffmpeg.VolumeStats, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls.AnalyzeVolume++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &ffmpeg.VolumeStats{MaxVolume: e.MaxVolume, MeanVolume: e.MaxVolume - 20}, nil
}

func (e *Engine) DetectSilence(ctx context.Context, input string, noiseDB, minDuration float64) ([]ffmpeg.SilenceEvent, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls.DetectSilence++
	e.calls.NoiseDB = noiseDB
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return append([]ffmpeg.SilenceEvent(nil), e.Silences...), nil
}

func (e *Engine) ExtractClip(ctx context.Context, input string, opts ffmpeg.ClipOptions) error {
	e.mu.Lock()
	e.calls.ExtractClip++
	call := e.calls.ExtractClip
	fail := e.FailExtract
	after := e.AfterExtract
	_, known := e.lengths[filepath.Base(input)]
	e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if fail != nil {
		if err := fail(call, opts); err != nil {
			return err
		}
	}
	if !known {
		return fmt.Errorf("no such input %s", input)
	}

	body := fmt.Sprintf("clip:%s:%.3f-%.3f\n", input, opts.Start, opts.Start+opts.Duration)
	if err := os.WriteFile(opts.Output, []byte(body), 0644); err != nil {
		return err
	}

	e.mu.Lock()
	e.lengths[filepath.Base(opts.Output)] = opts.Duration
	e.mu.Unlock()

	if after != nil {
		after(call)
	}
	return nil
}

func (e *Engine) ConcatFilter(ctx context.Context, opts ffmpeg.ConcatOptions) error {
	e.mu.Lock()
	e.calls.ConcatFilter++
	fail := e.FailJoin
	e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if fail != nil {
		// leave a partial file behind, as a killed encoder would
		_ = os.WriteFile(opts.Output, []byte("partial"), 0644)
		return fail
	}
	return e.join(opts.Inputs, opts.Output)
}

func (e *Engine) Concat(ctx context.Context, inputs []string, output string) error {
	e.mu.Lock()
	e.calls.Concat++
	fail := e.FailCopy
	e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if fail != nil {
		return fail
	}
	return e.join(inputs, output)
}

func (e *Engine) join(inputs []string, output string) error {
	var (
		b     strings.Builder
		total float64
	)
	for _, in := range inputs {
		data, err := os.ReadFile(in)
		if err != nil {
			return err
		}
		b.Write(data)
		e.mu.Lock()
		total += e.lengths[filepath.Base(in)]
		e.mu.Unlock()
	}
	if err := os.WriteFile(output, []byte(b.String()), 0644); err != nil {
		return err
	}
	e.mu.Lock()
	e.lengths[filepath.Base(output)] = total
	e.mu.Unlock()
	return nil
}

func (e *Engine) ProbeVideo(ctx context.Context, path string) (*ffmpeg.VideoInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls.Probe++
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("ffprobe: %w", err)
	}
	if info, ok := e.info[path]; ok {
		return &info, nil
	}
	length, ok := e.lengths[filepath.Base(path)]
	if !ok {
		return nil, fmt.Errorf("ffprobe: %s: no such file", path)
	}
	return &ffmpeg.VideoInfo{
		FilePath: path,
		Duration: time.Duration(length * float64(time.Second)),
		HasAudio: true,
	}, nil
}
