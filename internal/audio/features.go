// Package audio turns a decoded audio track into a short-time energy series.
package audio

import (
	"math"
)

// amin keeps log10 finite for digital silence.
const amin = 1e-5

// Frame is the energy of one analysis window.
type Frame struct {
	Timestamp  float64 // seconds, window centre
	RMS        float64
	Decibels   float64 // relative to the loudest window, >= -TopDB
	Normalized float64 // min-max scaled Decibels in [0,1]
}

// Analysis is the full energy series of one clip.
type Analysis struct {
	Frames     []Frame
	SampleRate int
	Samples    int
	Duration   float64
}

// Params are the analysis constants.
type Params struct {
	FrameLength int
	HopLength   int
	TopDB       float64
}

// DefaultParams matches the configuration defaults.
func DefaultParams() Params {
	return Params{FrameLength: 2048, HopLength: 512, TopDB: 80}
}

// ComputeFrames runs the full analysis over an in-memory mono signal.
// Samples are expected in [-1, 1].
func ComputeFrames(samples []float64, sampleRate int, p Params) *Analysis {
	fr := newFramer(p.FrameLength, p.HopLength, sampleRate)
	for _, s := range samples {
		fr.push(s)
	}
	return fr.finish(p.TopDB)
}

// framer slides a centred window over a streamed signal. The signal is
// padded with FrameLength/2 zeros on both sides, so frame k is centred on
// sample k*hop and there are 1 + n/hop frames. A signal shorter than one
// window yields a single zero-padded frame at t=0.
type framer struct {
	frame, hop int
	rate       int

	head   []float64 // first frame's worth of samples, until a full window is seen
	buf    []float64
	n      int
	frames []Frame
}

func newFramer(frame, hop, rate int) *framer {
	return &framer{
		frame:  frame,
		hop:    hop,
		rate:   rate,
		head:   make([]float64, 0, frame),
		buf:    make([]float64, 0, frame),
		frames: make([]Frame, 0, 1024),
	}
}

func (f *framer) push(s float64) {
	f.n++
	if f.n <= f.frame {
		f.head = append(f.head, s)
		if f.n == f.frame {
			f.buf = append(f.buf, make([]float64, f.frame/2)...)
			for _, h := range f.head {
				f.feed(h)
			}
			f.head = nil
		}
		return
	}
	f.feed(s)
}

func (f *framer) feed(s float64) {
	f.buf = append(f.buf, s)
	if len(f.buf) == f.frame {
		f.emit()
	}
}

func (f *framer) emit() {
	idx := len(f.frames)
	f.frames = append(f.frames, Frame{
		Timestamp: float64(idx*f.hop) / float64(f.rate),
		RMS:       rms(f.buf[:f.frame], f.frame),
	})
	n := copy(f.buf, f.buf[f.hop:])
	f.buf = f.buf[:n]
}

// finish flushes the trailing padding and converts the series to dB.
func (f *framer) finish(topDB float64) *Analysis {
	a := &Analysis{SampleRate: f.rate, Samples: f.n}
	if f.rate > 0 {
		a.Duration = float64(f.n) / float64(f.rate)
	}
	if f.n == 0 {
		return a
	}

	if f.n < f.frame {
		f.frames = append(f.frames, Frame{Timestamp: 0, RMS: rms(f.head, f.frame)})
	} else {
		total := 1 + f.n/f.hop
		for len(f.frames) < total {
			for len(f.buf) < f.frame {
				f.buf = append(f.buf, 0)
			}
			f.emit()
		}
	}

	toDecibels(f.frames, topDB)
	normalize(f.frames)
	a.Frames = f.frames
	return a
}

// rms of window zero-padded to length n
func rms(window []float64, n int) float64 {
	var sum float64
	for _, v := range window {
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}

// toDecibels references every frame to the loudest one and floors the
// result at -topDB.
func toDecibels(frames []Frame, topDB float64) {
	var peak float64
	for _, fr := range frames {
		peak = math.Max(peak, fr.RMS)
	}
	ref := 20 * math.Log10(math.Max(peak, amin))
	for i := range frames {
		db := 20*math.Log10(math.Max(frames[i].RMS, amin)) - ref
		frames[i].Decibels = math.Max(db, -topDB)
	}
}

// normalize min-max scales Decibels into [0,1]. A flat series maps to zeros.
func normalize(frames []Frame) {
	if len(frames) == 0 {
		return
	}
	lo, hi := frames[0].Decibels, frames[0].Decibels
	for _, fr := range frames[1:] {
		lo = math.Min(lo, fr.Decibels)
		hi = math.Max(hi, fr.Decibels)
	}
	span := hi - lo
	for i := range frames {
		if span == 0 {
			frames[i].Normalized = 0
			continue
		}
		frames[i].Normalized = (frames[i].Decibels - lo) / span
	}
}
