package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 2048, cfg.Detect.FrameLength)
	assert.Equal(t, 512, cfg.Detect.HopLength)
	assert.Equal(t, 0.5, cfg.Detect.MinSegmentDuration)
	assert.Equal(t, "montage", cfg.Montage.Prefix)
	assert.Equal(t, 10*time.Second, cfg.Timeouts.Probe)
}

func TestLoadYAMLThenEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "eventcut.yaml")
	yml := `
concurrency: 3
output_dir: /srv/out
detect:
  policy: noise_gate
  padding_duration: 1.5
timeouts:
  segment: 2m
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0644))

	t.Setenv("EVENTCUT_CONCURRENCY", "6")
	t.Setenv("EVENTCUT_FFMPEG_BINARY_PATH", "/opt/ffmpeg/bin/ffmpeg")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 6, cfg.Concurrency)
	assert.Equal(t, "/srv/out", cfg.OutputDir)
	assert.Equal(t, "noise_gate", cfg.Detect.Policy)
	assert.Equal(t, 1.5, cfg.Detect.PaddingDuration)
	assert.Equal(t, 2*time.Minute, cfg.Timeouts.Segment)
	assert.Equal(t, "/opt/ffmpeg/bin/ffmpeg", cfg.FFmpeg.BinaryPath)
	// untouched by either layer
	assert.Equal(t, 0.3, cfg.Detect.Sensitivity)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.Concurrency = 0
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Detect.HopLength = 4096
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Timeouts.Montage = 0
	assert.Error(t, cfg.Validate())

	assert.NoError(t, Default().Validate())
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "saved.yaml")
	cfg := Default()
	cfg.Montage.Prefix = "highlights"
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "highlights", loaded.Montage.Prefix)
}

func TestContextCarrier(t *testing.T) {
	cfg := Default()
	cfg.Concurrency = 9
	ctx := WithConfig(context.Background(), cfg)

	assert.Same(t, cfg, FromContext(ctx))
	assert.Equal(t, 2, FromContext(context.Background()).Concurrency)
}
