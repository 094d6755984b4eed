package pipeline

import (
	"context"

	"github.com/keagan/eventcut/internal/ffmpeg"
	"github.com/keagan/eventcut/internal/montage"
	"github.com/keagan/eventcut/internal/store"
)

// Engine is every external media operation a run can make.
// *ffmpeg.Executor satisfies it.
type Engine interface {
	Version(ctx context.Context) (string, error)
	ProbeVideo(ctx context.Context, path string) (*ffmpeg.VideoInfo, error)
	ExtractAudio(ctx context.Context, input, output string) error
	AnalyzeVolume(ctx context.Context, input string) (*ffmpeg.VolumeStats, error)
	DetectSilence(ctx context.Context, input string, noiseDB, minDuration float64) ([]ffmpeg.SilenceEvent, error)
	ExtractClip(ctx context.Context, input string, opts ffmpeg.ClipOptions) error
	ConcatFilter(ctx context.Context, opts ffmpeg.ConcatOptions) error
	Concat(ctx context.Context, inputs []string, output string) error
}

// Result is the outcome of one successful DetectAndAssemble run.
type Result struct {
	RunID    string                  `json:"run_id"`
	Source   *ffmpeg.VideoInfo       `json:"source"`
	Montage  *montage.Artifact       `json:"montage"`
	Segments []store.SegmentArtifact `json:"segments"`
	Skipped  int                     `json:"skipped"`
}
