// Package store keeps extracted segments on disk and recombines them.
package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/keagan/eventcut/internal/apperr"
	"github.com/keagan/eventcut/internal/ffmpeg"
	"github.com/keagan/eventcut/internal/segments"
	"github.com/keagan/eventcut/pkg/util"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

const (
	incomingDir   = ".incoming"
	sidecarSuffix = ".yaml"
)

var artifactPattern = regexp.MustCompile(`^(.+)\.segment\.(\d+)\.([A-Za-z0-9]+)$`)

// Engine is what the store needs from the ffmpeg executor.
type Engine interface {
	ExtractClip(ctx context.Context, input string, opts ffmpeg.ClipOptions) error
	Concat(ctx context.Context, inputs []string, output string) error
	ProbeVideo(ctx context.Context, path string) (*ffmpeg.VideoInfo, error)
}

// SegmentArtifact is one registered segment file.
type SegmentArtifact struct {
	Filename  string    `json:"filename" yaml:"filename"`
	Source    string    `json:"source" yaml:"source"`
	Index     int       `json:"index" yaml:"index"`
	Start     float64   `json:"start" yaml:"start"`
	End       float64   `json:"end" yaml:"end"`
	Duration  float64   `json:"duration" yaml:"duration"`
	SizeBytes int64     `json:"size_bytes" yaml:"size_bytes"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}

// sidecar is written next to every segment as <filename>.yaml
type sidecar struct {
	Source    string    `yaml:"source"`
	Run       string    `yaml:"run"`
	Index     int       `yaml:"index"`
	Start     float64   `yaml:"start"`
	End       float64   `yaml:"end"`
	Duration  float64   `yaml:"duration"`
	CreatedAt time.Time `yaml:"created_at"`
}

// Options configures the store directory and encode target.
type Options struct {
	Dir       string
	Extension string
	Profile   ffmpeg.EncodeProfile
}

// Store is a directory of segment artifacts. It holds no state between
// calls, so concurrent runs may share one directory.
type Store struct {
	dir     string
	ext     string
	profile ffmpeg.EncodeProfile
	engine  Engine
	logger  zerolog.Logger
}

// New creates the store directory if needed.
func New(logger zerolog.Logger, engine Engine, opts Options) (*Store, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("store directory is required")
	}
	if err := util.EnsureDir(filepath.Join(opts.Dir, incomingDir)); err != nil {
		return nil, fmt.Errorf("create store: %w", err)
	}
	ext := strings.TrimPrefix(opts.Extension, ".")
	if ext == "" {
		ext = "mp4"
	}
	return &Store{
		dir:     opts.Dir,
		ext:     ext,
		profile: opts.Profile,
		engine:  engine,
		logger:  logger.With().Str("component", "store").Logger(),
	}, nil
}

// Dir is the store directory.
func (s *Store) Dir() string { return s.dir }

// PersistRequest describes one run's segments.
type PersistRequest struct {
	Source   string
	Segments []segments.Segment
	Width    int
	Height   int
	FPS      float64
}

// PersistResult lists what was registered and how many segments failed.
type PersistResult struct {
	Artifacts []SegmentArtifact `json:"artifacts"`
	Skipped   int               `json:"skipped"`
}

// Persist re-encodes every segment from the source into the store. A failed
// segment is logged and skipped. Cancellation stops after the current
// segment and returns what was registered so far along with the error.
func (s *Store) Persist(ctx context.Context, req PersistRequest) (*PersistResult, error) {
	token := strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
	base := util.CleanName(util.Stem(req.Source)) + "-" + token
	log := s.logger.With().Str("source", filepath.Base(req.Source)).Str("run", token).Logger()

	res := &PersistResult{Artifacts: make([]SegmentArtifact, 0, len(req.Segments))}

	for i, seg := range req.Segments {
		index := i + 1
		name := fmt.Sprintf("%s.segment.%d.%s", base, index, s.ext)

		art, err := s.persistOne(ctx, req, seg, index, name, token)
		if err != nil {
			if ctx.Err() != nil {
				return res, apperr.FromEngine(ctx, fmt.Sprintf("persist segment %d", index), err)
			}
			res.Skipped++
			log.Warn().Err(err).Int("segment", index).Stringer("range", seg).Msg("segment not persisted, skipping")
			continue
		}
		res.Artifacts = append(res.Artifacts, *art)

		if err := apperr.Checkpoint(ctx, fmt.Sprintf("after stored segment %d", index)); err != nil {
			return res, err
		}
	}

	log.Info().
		Int("persisted", len(res.Artifacts)).
		Int("skipped", res.Skipped).
		Msg("segments persisted")

	return res, nil
}

func (s *Store) persistOne(ctx context.Context, req PersistRequest, seg segments.Segment, index int, name, token string) (*SegmentArtifact, error) {
	partial := filepath.Join(s.dir, incomingDir, name)
	partialMeta := partial + sidecarSuffix
	final := filepath.Join(s.dir, name)
	finalMeta := final + sidecarSuffix

	err := s.engine.ExtractClip(ctx, req.Source, ffmpeg.ClipOptions{
		Start:    seg.Start,
		Duration: seg.Duration(),
		Output:   partial,
		Width:    req.Width,
		Height:   req.Height,
		FPS:      req.FPS,
		Profile:  s.profile,
	})
	if err != nil {
		util.CleanupFiles(partial)
		return nil, err
	}

	meta := sidecar{
		Source:    req.Source,
		Run:       token,
		Index:     index,
		Start:     seg.Start,
		End:       seg.End,
		Duration:  seg.Duration(),
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
	data, err := yaml.Marshal(&meta)
	if err != nil {
		util.CleanupFiles(partial)
		return nil, fmt.Errorf("encode sidecar: %w", err)
	}
	if err := os.WriteFile(partialMeta, data, 0644); err != nil {
		util.CleanupFiles(partial, partialMeta)
		return nil, fmt.Errorf("write sidecar: %w", err)
	}

	// sidecar first so a visible media file always has its metadata
	if err := os.Rename(partialMeta, finalMeta); err != nil {
		util.CleanupFiles(partial, partialMeta)
		return nil, fmt.Errorf("register sidecar: %w", err)
	}
	if err := os.Rename(partial, final); err != nil {
		util.CleanupFiles(partial, finalMeta)
		return nil, fmt.Errorf("register segment: %w", err)
	}

	size, _ := util.FileSize(final)
	return &SegmentArtifact{
		Filename:  name,
		Source:    req.Source,
		Index:     index,
		Start:     seg.Start,
		End:       seg.End,
		Duration:  seg.Duration(),
		SizeBytes: size,
		CreatedAt: meta.CreatedAt,
	}, nil
}

// List returns every registered artifact sorted by source name, then index.
func (s *Store) List(ctx context.Context) ([]SegmentArtifact, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read store: %w", err)
	}

	type keyed struct {
		art  SegmentArtifact
		base string
	}
	var found []keyed

	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		m := artifactPattern.FindStringSubmatch(e.Name())
		if m == nil || strings.EqualFold(m[3], "yaml") {
			continue
		}
		idx, _ := strconv.Atoi(m[2])

		art, err := s.describe(ctx, e.Name(), idx)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				// pruned between ReadDir and stat
				continue
			}
			return nil, err
		}
		found = append(found, keyed{art: *art, base: m[1]})
	}

	sort.Slice(found, func(i, j int) bool {
		if found[i].base != found[j].base {
			return found[i].base < found[j].base
		}
		return found[i].art.Index < found[j].art.Index
	})

	out := make([]SegmentArtifact, len(found))
	for i, k := range found {
		out[i] = k.art
	}
	return out, nil
}

// describe builds an artifact from the media stat and its sidecar, probing
// the media only when the sidecar is missing or unreadable.
func (s *Store) describe(ctx context.Context, name string, index int) (*SegmentArtifact, error) {
	path := filepath.Join(s.dir, name)
	st, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	art := &SegmentArtifact{
		Filename:  name,
		Index:     index,
		SizeBytes: st.Size(),
		CreatedAt: st.ModTime().UTC(),
	}

	if meta, err := readSidecar(path + sidecarSuffix); err == nil {
		art.Source = meta.Source
		art.Start = meta.Start
		art.End = meta.End
		art.Duration = meta.Duration
		if !meta.CreatedAt.IsZero() {
			art.CreatedAt = meta.CreatedAt
		}
		return art, nil
	}

	info, err := s.engine.ProbeVideo(ctx, path)
	if err != nil {
		s.logger.Warn().Err(err).Str("segment", name).Msg("no sidecar and probe failed")
		return art, nil
	}
	art.Duration = info.Duration.Seconds()
	art.End = art.Duration
	return art, nil
}

func readSidecar(path string) (*sidecar, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var meta sidecar
	if err := yaml.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return &meta, nil
}

// Resolve maps a plain artifact file name to its path.
func (s *Store) Resolve(name string) (string, error) {
	const op = "resolve segment"
	if !util.IsPlainFileName(name) {
		return "", apperr.Validation(op, "%q is not a plain file name", name)
	}
	path := filepath.Join(s.dir, name)
	st, err := os.Stat(path)
	if err != nil || st.IsDir() {
		return "", apperr.NotFound(op, "segment %q not found", name)
	}
	return path, nil
}

// Remove prunes an artifact, media first so it disappears from List
// before its sidecar does.
func (s *Store) Remove(name string) error {
	path, err := s.Resolve(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("remove %s: %w", name, err)
	}
	if err := os.Remove(path + sidecarSuffix); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove sidecar of %s: %w", name, err)
	}
	s.logger.Info().Str("segment", name).Msg("segment pruned")
	return nil
}

// IsArtifactName reports whether name looks like a registered segment file.
func IsArtifactName(name string) bool {
	m := artifactPattern.FindStringSubmatch(name)
	return m != nil && !strings.EqualFold(m[3], "yaml") && !strings.HasPrefix(name, ".")
}
