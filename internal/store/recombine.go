package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/keagan/eventcut/internal/apperr"
	"github.com/keagan/eventcut/internal/montage"
	"github.com/keagan/eventcut/pkg/util"
	"github.com/rs/zerolog"
)

// RecombineOptions configures where recombined files go and how they are named.
type RecombineOptions struct {
	OutputDir string
	Prefix    string
	Extension string
}

// Recombiner stream-copies stored segments into a new file.
type Recombiner struct {
	store  *Store
	engine Engine
	opts   RecombineOptions
	logger zerolog.Logger
}

func NewRecombiner(logger zerolog.Logger, store *Store, engine Engine, opts RecombineOptions) *Recombiner {
	if opts.Prefix == "" {
		opts.Prefix = "combined"
	}
	opts.Extension = strings.TrimPrefix(opts.Extension, ".")
	if opts.Extension == "" {
		opts.Extension = "mp4"
	}
	return &Recombiner{
		store:  store,
		engine: engine,
		opts:   opts,
		logger: logger.With().Str("component", "recombine").Logger(),
	}
}

// Recombine joins the named segments in the given order. Every name is
// resolved before anything is encoded. An empty outputName picks
// {prefix}_segments_{suffix}.{ext}.
func (r *Recombiner) Recombine(ctx context.Context, names []string, outputName string) (*montage.Artifact, error) {
	const op = "recombine"

	if len(names) == 0 {
		return nil, apperr.Validation(op, "at least one segment name is required")
	}

	inputs := make([]string, 0, len(names))
	for _, name := range names {
		path, err := r.store.Resolve(name)
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, path)
	}

	name, err := r.outputName(outputName)
	if err != nil {
		return nil, err
	}

	incoming := filepath.Join(r.opts.OutputDir, montage.IncomingDir)
	if err := util.EnsureDir(incoming); err != nil {
		return nil, fmt.Errorf("create incoming dir: %w", err)
	}
	partial := filepath.Join(incoming, name)
	final := filepath.Join(r.opts.OutputDir, name)

	r.logger.Info().
		Int("segments", len(inputs)).
		Str("output", name).
		Msg("recombining segments")

	if err := r.engine.Concat(ctx, inputs, partial); err != nil {
		util.CleanupFiles(partial)
		return nil, apperr.FromEngine(ctx, op, err)
	}

	if util.FileExists(final) {
		util.CleanupFiles(partial)
		return nil, apperr.Validation(op, "output %q already exists", name)
	}
	if err := os.Rename(partial, final); err != nil {
		util.CleanupFiles(partial)
		return nil, fmt.Errorf("register %s: %w", name, err)
	}

	art := &montage.Artifact{Path: final, Name: name}
	if size, err := util.FileSize(final); err == nil {
		art.SizeBytes = size
	}

	info, err := r.engine.ProbeVideo(ctx, final)
	if err != nil {
		r.logger.Warn().Err(err).Str("output", final).Msg("could not probe recombined file")
	} else {
		art.TotalDuration = info.Duration.Seconds()
		art.SegmentsDuration = art.TotalDuration
		art.Width, art.Height, art.FrameRate = info.Width, info.Height, info.FPS
	}

	r.logger.Info().
		Str("output", final).
		Float64("duration", art.TotalDuration).
		Int64("bytes", art.SizeBytes).
		Msg("recombine complete")

	return art, nil
}

func (r *Recombiner) outputName(requested string) (string, error) {
	const op = "recombine"

	if requested == "" {
		return montage.OutputName(r.opts.Prefix, "segments", r.opts.Extension), nil
	}
	if !util.IsPlainFileName(requested) {
		return "", apperr.Validation(op, "output name %q must be a plain file name", requested)
	}
	if filepath.Ext(requested) == "" {
		requested += "." + r.opts.Extension
	}
	if util.FileExists(filepath.Join(r.opts.OutputDir, requested)) {
		return "", apperr.Validation(op, "output %q already exists", requested)
	}
	return requested, nil
}
