// Package montage joins detected segments of a source video into one file.
package montage

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/keagan/eventcut/internal/apperr"
	"github.com/keagan/eventcut/internal/ffmpeg"
	"github.com/keagan/eventcut/internal/segments"
	"github.com/keagan/eventcut/pkg/util"
	"github.com/rs/zerolog"
)

// IncomingDir holds outputs that are still being written.
const IncomingDir = ".incoming"

// Engine is the slice of the ffmpeg executor the assembler drives.
type Engine interface {
	ExtractClip(ctx context.Context, input string, opts ffmpeg.ClipOptions) error
	ConcatFilter(ctx context.Context, opts ffmpeg.ConcatOptions) error
	ProbeVideo(ctx context.Context, path string) (*ffmpeg.VideoInfo, error)
}

// Artifact describes a finished montage.
type Artifact struct {
	Path             string             `json:"path"`
	Name             string             `json:"name"`
	Segments         []segments.Segment `json:"segments,omitempty"`
	TotalDuration    float64            `json:"total_duration"`
	SegmentsDuration float64            `json:"segments_duration"`
	Width            int                `json:"width"`
	Height           int                `json:"height"`
	FrameRate        float64            `json:"frame_rate"`
	SizeBytes        int64              `json:"size_bytes"`
}

// Options configures output naming, encoding and fallback geometry.
type Options struct {
	OutputDir     string
	Prefix        string
	Extension     string
	Profile       ffmpeg.EncodeProfile
	DefaultWidth  int
	DefaultHeight int
	DefaultFPS    float64
}

// Assembler cuts segments out of a source and joins them.
type Assembler struct {
	engine Engine
	opts   Options
	logger zerolog.Logger
}

func New(logger zerolog.Logger, engine Engine, opts Options) *Assembler {
	return &Assembler{
		engine: engine,
		opts:   opts,
		logger: logger.With().Str("component", "montage").Logger(),
	}
}

// Geometry picks the output size and rate: the source's where known,
// configured defaults otherwise.
func (a *Assembler) Geometry(info *ffmpeg.VideoInfo) (width, height int, fps float64) {
	if info != nil {
		width, height, fps = info.Width, info.Height, info.FPS
	}
	if width <= 0 || height <= 0 {
		a.logger.Warn().
			Int("width", a.opts.DefaultWidth).
			Int("height", a.opts.DefaultHeight).
			Msg("source reports no resolution, using configured default")
		width, height = a.opts.DefaultWidth, a.opts.DefaultHeight
	}
	if fps <= 0 {
		a.logger.Warn().
			Float64("fps", a.opts.DefaultFPS).
			Msg("source reports no frame rate, using configured default")
		fps = a.opts.DefaultFPS
	}
	return width, height, fps
}

// OutputName is {prefix}_{source-stem}_{suffix}.{ext}
func OutputName(prefix, source, ext string) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s_%s_%s.%s", prefix, util.CleanName(util.Stem(source)), suffix, strings.TrimPrefix(ext, "."))
}

// Assemble extracts every segment into workDir, joins them and registers the
// result in the output directory. Any failure removes everything this call
// wrote. Cancellation is checked after each extraction and before the join.
func (a *Assembler) Assemble(ctx context.Context, source string, info *ffmpeg.VideoInfo, segs []segments.Segment, workDir string) (*Artifact, error) {
	const op = "assemble montage"

	if len(segs) == 0 {
		return nil, apperr.Validation(op, "no segments to assemble")
	}

	width, height, fps := a.Geometry(info)
	profile := a.opts.Profile

	clipDir := filepath.Join(workDir, "clips")
	if err := util.EnsureDir(clipDir); err != nil {
		return nil, fmt.Errorf("create clip dir: %w", err)
	}
	defer os.RemoveAll(clipDir)

	clips := make([]string, 0, len(segs))
	for i, seg := range segs {
		clip := filepath.Join(clipDir, fmt.Sprintf("clip_%04d.%s", i+1, a.opts.Extension))
		err := a.engine.ExtractClip(ctx, source, ffmpeg.ClipOptions{
			Start:    seg.Start,
			Duration: seg.Duration(),
			Output:   clip,
			Width:    width,
			Height:   height,
			FPS:      fps,
			Profile:  profile,
		})
		if err != nil {
			return nil, apperr.FromEngine(ctx, fmt.Sprintf("extract segment %d", i+1), err)
		}
		clips = append(clips, clip)

		a.logger.Debug().
			Int("segment", i+1).
			Int("of", len(segs)).
			Stringer("range", seg).
			Msg("segment extracted")

		if err := apperr.Checkpoint(ctx, fmt.Sprintf("after segment %d", i+1)); err != nil {
			return nil, err
		}
	}

	if err := apperr.Checkpoint(ctx, "before join"); err != nil {
		return nil, err
	}

	name := OutputName(a.opts.Prefix, source, a.opts.Extension)
	incoming := filepath.Join(a.opts.OutputDir, IncomingDir)
	if err := util.EnsureDir(incoming); err != nil {
		return nil, fmt.Errorf("create incoming dir: %w", err)
	}
	partial := filepath.Join(incoming, name)
	final := filepath.Join(a.opts.OutputDir, name)

	err := a.engine.ConcatFilter(ctx, ffmpeg.ConcatOptions{
		Inputs:  clips,
		Output:  partial,
		Width:   width,
		Height:  height,
		FPS:     fps,
		Profile: profile,
		ProgressFunc: func(p *ffmpeg.Progress) {
			a.logger.Debug().Dur("at", p.Elapsed).Str("speed", p.Speed).Msg("joining")
		},
	})
	if err != nil {
		util.CleanupFiles(partial)
		return nil, apperr.FromEngine(ctx, "join segments", err)
	}

	if err := os.Rename(partial, final); err != nil {
		util.CleanupFiles(partial)
		return nil, fmt.Errorf("register montage: %w", err)
	}

	art := &Artifact{
		Path:             final,
		Name:             name,
		Segments:         segs,
		SegmentsDuration: segments.Total(segs),
		Width:            width,
		Height:           height,
		FrameRate:        fps,
	}

	if size, err := util.FileSize(final); err == nil {
		art.SizeBytes = size
	}

	probed, err := a.engine.ProbeVideo(ctx, final)
	if err != nil {
		a.logger.Warn().Err(err).Str("output", final).Msg("could not probe montage, reporting segment total")
		art.TotalDuration = art.SegmentsDuration
	} else {
		art.TotalDuration = probed.Duration.Seconds()
	}

	if drift := math.Abs(art.TotalDuration - art.SegmentsDuration); drift > 1/fps {
		a.logger.Warn().
			Float64("montage", art.TotalDuration).
			Float64("segments", art.SegmentsDuration).
			Float64("frame_interval", 1/fps).
			Msg("montage duration drifts from segment total by more than one frame")
	}

	a.logger.Info().
		Str("output", final).
		Int("segments", len(segs)).
		Float64("duration", art.TotalDuration).
		Int64("bytes", art.SizeBytes).
		Msg("montage assembled")

	return art, nil
}
