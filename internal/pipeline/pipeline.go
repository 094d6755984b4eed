// Package pipeline runs detection, montage assembly and segment storage for
// one media file, and exposes the later recombination path.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/keagan/eventcut/internal/apperr"
	"github.com/keagan/eventcut/internal/audio"
	"github.com/keagan/eventcut/internal/config"
	"github.com/keagan/eventcut/internal/detect"
	"github.com/keagan/eventcut/internal/ffmpeg"
	"github.com/keagan/eventcut/internal/logging"
	"github.com/keagan/eventcut/internal/montage"
	"github.com/keagan/eventcut/internal/segments"
	"github.com/keagan/eventcut/internal/store"
	"github.com/keagan/eventcut/pkg/util"
	"github.com/rs/zerolog"
)

// Pipeline wires the stages together. Build one per invocation; it holds
// no state that outlives a call.
type Pipeline struct {
	cfg        *config.Config
	engine     Engine
	logger     zerolog.Logger
	detector   *detect.Detector
	assembler  *montage.Assembler
	store      *store.Store
	recombiner *store.Recombiner
}

// OpenEngine locates ffmpeg and ffprobe and applies the configured timeouts.
func OpenEngine(logger zerolog.Logger, cfg *config.Config) (*ffmpeg.Executor, error) {
	executor, err := ffmpeg.New(logger, cfg.FFmpeg.BinaryPath, cfg.FFmpeg.ProbePath, cfg.FFmpeg.Threads)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize ffmpeg: %w", err)
	}
	t := cfg.Timeouts
	return executor.WithTimeouts(ffmpeg.Timeouts{
		Version:   t.Version,
		Probe:     t.Probe,
		Analysis:  t.Analysis,
		Segment:   t.Segment,
		Montage:   t.Montage,
		Recombine: t.Recombine,
	}), nil
}

// New creates a pipeline over engine. The segment store directory is
// created if missing.
func New(logger zerolog.Logger, cfg *config.Config, engine Engine) (*Pipeline, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if engine == nil {
		return nil, fmt.Errorf("engine is required")
	}

	profile := ffmpeg.EncodeProfile{
		VideoCodec: cfg.FFmpeg.VideoCodec,
		AudioCodec: cfg.FFmpeg.AudioCodec,
		CRF:        cfg.FFmpeg.CRF,
		Preset:     cfg.FFmpeg.Preset,
	}

	st, err := store.New(logger, engine, store.Options{
		Dir:       cfg.SegmentDir,
		Extension: cfg.Montage.Extension,
		Profile:   profile,
	})
	if err != nil {
		return nil, err
	}

	params := audio.Params{
		FrameLength: cfg.Detect.FrameLength,
		HopLength:   cfg.Detect.HopLength,
		TopDB:       cfg.Detect.TopDB,
	}
	gate := detect.GateParams{
		FloorOffsetDB: cfg.Detect.FloorOffsetDB,
		MaxDepthDB:    cfg.Detect.MaxDepthDB,
	}

	return &Pipeline{
		cfg:      cfg,
		engine:   engine,
		logger:   logger.With().Str("component", "pipeline").Logger(),
		detector: detect.NewDetector(logger, audio.NewExtractor(logger, engine, params), engine, gate),
		assembler: montage.New(logger, engine, montage.Options{
			OutputDir:     cfg.OutputDir,
			Prefix:        cfg.Montage.Prefix,
			Extension:     cfg.Montage.Extension,
			Profile:       profile,
			DefaultWidth:  cfg.Montage.DefaultWidth,
			DefaultHeight: cfg.Montage.DefaultHeight,
			DefaultFPS:    cfg.Montage.DefaultFPS,
		}),
		store: st,
		recombiner: store.NewRecombiner(logger, st, engine, store.RecombineOptions{
			OutputDir: cfg.OutputDir,
			Prefix:    cfg.Montage.RecombinePrefix,
			Extension: cfg.Montage.Extension,
		}),
	}, nil
}

// Store exposes the segment store for listing, pruning and watching.
func (p *Pipeline) Store() *store.Store { return p.store }

// CheckEngine runs the engine's version probe.
func (p *Pipeline) CheckEngine(ctx context.Context) (string, error) {
	v, err := p.engine.Version(ctx)
	if err != nil {
		return "", apperr.FromEngine(ctx, "engine version", err)
	}
	return v, nil
}

// Probe reports the metadata of mediaPath.
func (p *Pipeline) Probe(ctx context.Context, mediaPath string) (*ffmpeg.VideoInfo, error) {
	const op = "probe"
	if !util.FileExists(mediaPath) {
		return nil, apperr.NotFound(op, "media %q not found", mediaPath)
	}
	info, err := p.engine.ProbeVideo(ctx, mediaPath)
	if err != nil {
		return nil, apperr.FromEngine(ctx, op, err)
	}
	return info, nil
}

// DetectAndAssemble finds the active ranges of mediaPath, joins them into a
// montage and stores every range as its own segment file.
//
// Settings are validated before anything touches the media. Cancellation
// removes the montage; segments already stored are kept.
func (p *Pipeline) DetectAndAssemble(ctx context.Context, mediaPath string, s detect.Settings) (*Result, error) {
	const op = "detect and assemble"

	if err := s.Validate(); err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	log := logging.WithRun(p.logger, runID).With().Str("source", filepath.Base(mediaPath)).Logger()
	start := time.Now()

	info, err := p.Probe(ctx, mediaPath)
	if err != nil {
		return nil, err
	}
	if !info.HasAudio {
		return nil, apperr.Validation(op, "%s has no audio stream", filepath.Base(mediaPath))
	}

	log.Info().
		Str("policy", string(s.Policy)).
		Dur("duration", info.Duration).
		Int("width", info.Width).
		Int("height", info.Height).
		Float64("fps", info.FPS).
		Msg("starting run")

	workDir, err := p.makeWorkDir()
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(workDir)

	mask, err := p.detector.Detect(ctx, mediaPath, workDir, info.Duration.Seconds(), s)
	if err != nil {
		return nil, apperr.FromEngine(ctx, "detect activity", err)
	}
	if err := apperr.Checkpoint(ctx, "after analysis"); err != nil {
		return nil, err
	}

	segs := segments.Build(mask, s.MinSegmentDuration)
	segs = segments.Merge(segs, s, mask.Duration)
	if len(segs) == 0 {
		log.Info().Int("mask_samples", len(mask.Samples)).Msg("no activity detected")
		return nil, apperr.EmptyResult(op, "no segments detected in %s", filepath.Base(mediaPath))
	}
	if err := segments.Validate(segs, mask.Duration, s.MinSegmentDuration); err != nil {
		return nil, fmt.Errorf("segment list: %w", err)
	}

	log.Info().
		Int("segments", len(segs)).
		Float64("active_seconds", segments.Total(segs)).
		Msg("segments detected")

	art, err := p.assembler.Assemble(ctx, mediaPath, info, segs, workDir)
	if err != nil {
		return nil, err
	}

	width, height, fps := p.assembler.Geometry(info)
	persisted, err := p.store.Persist(ctx, store.PersistRequest{
		Source:   mediaPath,
		Segments: segs,
		Width:    width,
		Height:   height,
		FPS:      fps,
	})
	if err != nil {
		util.CleanupFiles(art.Path)
		log.Warn().Err(err).Str("montage", art.Name).Msg("run stopped, montage removed")
		return nil, err
	}

	log.Info().
		Str("montage", art.Path).
		Int("stored", len(persisted.Artifacts)).
		Int("skipped", persisted.Skipped).
		Dur("elapsed", time.Since(start)).
		Msg("run complete")

	return &Result{
		RunID:    runID,
		Source:   info,
		Montage:  art,
		Segments: persisted.Artifacts,
		Skipped:  persisted.Skipped,
	}, nil
}

// ListSegmentArtifacts returns the stored segments.
func (p *Pipeline) ListSegmentArtifacts(ctx context.Context) ([]store.SegmentArtifact, error) {
	return p.store.List(ctx)
}

// Recombine joins stored segments, in the given order, into a new file.
func (p *Pipeline) Recombine(ctx context.Context, names []string, outputName string) (*montage.Artifact, error) {
	return p.recombiner.Recombine(ctx, names, outputName)
}

func (p *Pipeline) makeWorkDir() (string, error) {
	root := p.cfg.TempDir
	if root == "" {
		root = p.cfg.WorkDir
	}
	if err := util.EnsureDir(root); err != nil {
		return "", fmt.Errorf("create work dir: %w", err)
	}
	dir, err := os.MkdirTemp(root, "run-")
	if err != nil {
		return "", fmt.Errorf("create work dir: %w", err)
	}
	return dir, nil
}
