package audio

import (
	"fmt"
	"io"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// chunkFrames is how many sample frames are decoded per read.
const chunkFrames = 8192

// AnalyzeWAV streams a PCM WAV through the framer in bounded chunks.
// Multi-channel input is averaged down to mono.
func AnalyzeWAV(r io.ReadSeeker, p Params) (*Analysis, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("not a valid wav file")
	}
	dec.ReadInfo()
	if err := dec.Err(); err != nil {
		return nil, fmt.Errorf("read wav header: %w", err)
	}

	channels := int(dec.NumChans)
	rate := int(dec.SampleRate)
	depth := int(dec.BitDepth)
	if channels < 1 || rate < 1 || depth < 8 {
		return nil, fmt.Errorf("unsupported wav format: %d ch, %d Hz, %d bit", channels, rate, depth)
	}

	scale := float64(int64(1) << (depth - 1))
	offset := 0
	if depth == 8 {
		// 8-bit PCM is unsigned
		offset = 128
	}

	buf := &goaudio.IntBuffer{
		Data:           make([]int, chunkFrames*channels),
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: rate},
		SourceBitDepth: depth,
	}

	fr := newFramer(p.FrameLength, p.HopLength, rate)
	for {
		n, err := dec.PCMBuffer(buf)
		if err != nil {
			return nil, fmt.Errorf("decode wav: %w", err)
		}
		if n == 0 {
			break
		}
		for i := 0; i+channels <= n; i += channels {
			var sum int
			for c := 0; c < channels; c++ {
				sum += buf.Data[i+c] - offset
			}
			fr.push(float64(sum) / float64(channels) / scale)
		}
	}

	return fr.finish(p.TopDB), nil
}
