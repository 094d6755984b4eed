package ffmpeg

import (
	"strconv"
	"time"
)

// VideoInfo contains metadata about a video file
type VideoInfo struct {
	FilePath        string
	FormatName      string
	Duration        time.Duration
	Width           int
	Height          int
	FPS             float64
	AspectRatio     string
	Bitrate         int64
	VideoCodec      string
	HDR             bool
	HasAudio        bool
	AudioCodec      string
	AudioBitrate    int64
	AudioSampleRate int
	AudioChannels   int
}

// Progress represents ffmpeg progress data
type Progress struct {
	Frame   int
	FPS     float64
	Bitrate string
	Time    string
	Elapsed time.Duration
	Speed   string
}

// ProgressFunc is a callback for progress updates during ffmpeg operations.
type ProgressFunc func(*Progress)

// RunOptions configures ffmpeg execution
type RunOptions struct {
	Args            []string
	Timeout         time.Duration
	ProgressHandler func(*Progress)
	LogHandler      func(line string)
}

// EncodeProfile is the re-encode target shared by clip extraction and joins.
type EncodeProfile struct {
	VideoCodec string
	AudioCodec string
	CRF        int
	Preset     string
}

// Default encoding settings
const (
	DefaultCRF        = 18
	DefaultPreset     = "medium"
	DefaultVideoCodec = "libx264"
	DefaultAudioCodec = "aac"
)

// withDefaults fills unset fields of an encode profile.
func (p EncodeProfile) withDefaults() EncodeProfile {
	if p.VideoCodec == "" {
		p.VideoCodec = DefaultVideoCodec
	}
	if p.AudioCodec == "" {
		p.AudioCodec = DefaultAudioCodec
	}
	if p.CRF == 0 {
		p.CRF = DefaultCRF
	}
	if p.Preset == "" {
		p.Preset = DefaultPreset
	}
	return p
}

func (p EncodeProfile) args() []string {
	p = p.withDefaults()
	return []string{
		"-c:v", p.VideoCodec,
		"-preset", p.Preset,
		"-crf", strconv.Itoa(p.CRF),
		"-pix_fmt", "yuv420p",
		"-c:a", p.AudioCodec,
	}
}
