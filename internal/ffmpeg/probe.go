package ffmpeg

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/keagan/eventcut/pkg/util"
)

var hdrMarkers = []string{"bt2020", "smpte2084", "arib-std-b67", "hlg"}

// ProbeVideo extracts metadata from a video file
func (e *Executor) ProbeVideo(ctx context.Context, filePath string) (*VideoInfo, error) {
	if filePath == "" {
		return nil, fmt.Errorf("file path is required")
	}

	ctx, cancel := withTimeout(ctx, e.timeouts.Probe)
	defer cancel()

	args := []string{
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		filePath,
	}

	cmd := exec.CommandContext(ctx, e.ffprobePath, args...)
	var stderr strings.Builder
	cmd.Stderr = &stderr
	output, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("ffprobe: %w", ctx.Err())
		}
		return nil, &ExecError{Tool: "ffprobe", Err: err, Stderr: strings.TrimSpace(stderr.String())}
	}

	info, err := ParseProbe(output)
	if err != nil {
		return nil, err
	}
	info.FilePath = filePath
	return info, nil
}

// ParseProbe converts ffprobe JSON into VideoInfo. The first video and
// first audio stream win.
func ParseProbe(data []byte) (*VideoInfo, error) {
	var probe probeResult
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	info := &VideoInfo{FormatName: probe.Format.FormatName}

	// Parse duration
	if dur, err := strconv.ParseFloat(probe.Format.Duration, 64); err == nil {
		info.Duration = util.Seconds(dur)
	}

	// Parse bitrate
	if br, err := strconv.ParseInt(probe.Format.BitRate, 10, 64); err == nil {
		info.Bitrate = br
	}

	var sawVideo bool
	for _, stream := range probe.Streams {
		switch stream.CodecType {
		case "video":
			if sawVideo {
				continue
			}
			sawVideo = true
			info.Width = stream.Width
			info.Height = stream.Height
			info.VideoCodec = stream.CodecName
			info.AspectRatio = util.AspectRatio(stream.Width, stream.Height)

			// r_frame_rate is the container's nominal rate; avg_frame_rate
			// is what variable-rate phone footage actually averages
			info.FPS = util.ParseFrameRate(stream.RFrameRate)
			if info.FPS <= 0 || info.FPS > 240 {
				info.FPS = util.ParseFrameRate(stream.AvgFrameRate)
			}

			color := strings.ToLower(stream.ColorSpace + " " + stream.ColorTransfer + " " + stream.ColorPrimaries)
			for _, m := range hdrMarkers {
				if strings.Contains(color, m) {
					info.HDR = true
					break
				}
			}
		case "audio":
			if info.HasAudio {
				continue
			}
			info.HasAudio = true
			info.AudioCodec = stream.CodecName
			info.AudioChannels = stream.Channels
			if br, err := strconv.ParseInt(stream.BitRate, 10, 64); err == nil {
				info.AudioBitrate = br
			}
			if sr, err := strconv.Atoi(stream.SampleRate); err == nil {
				info.AudioSampleRate = sr
			}
		}
	}

	return info, nil
}

// probeResult matches ffprobe JSON output structure
type probeResult struct {
	Format struct {
		FormatName string `json:"format_name"`
		Duration   string `json:"duration"`
		BitRate    string `json:"bit_rate"`
	} `json:"format"`
	Streams []struct {
		CodecType      string `json:"codec_type"`
		CodecName      string `json:"codec_name"`
		Width          int    `json:"width"`
		Height         int    `json:"height"`
		RFrameRate     string `json:"r_frame_rate"`
		AvgFrameRate   string `json:"avg_frame_rate"`
		BitRate        string `json:"bit_rate"`
		SampleRate     string `json:"sample_rate"`
		Channels       int    `json:"channels"`
		ColorSpace     string `json:"color_space"`
		ColorTransfer  string `json:"color_transfer"`
		ColorPrimaries string `json:"color_primaries"`
	} `json:"streams"`
}
