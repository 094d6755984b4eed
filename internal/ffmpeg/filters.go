package ffmpeg

import (
	"fmt"
	"strconv"
	"strings"
)

// FilterBuilder helps construct complex ffmpeg filter chains
type FilterBuilder struct {
	filters []string
}

// NewFilterBuilder creates a new filter builder
func NewFilterBuilder() *FilterBuilder {
	return &FilterBuilder{
		filters: make([]string, 0),
	}
}

// Scale adds a scale filter
func (fb *FilterBuilder) Scale(width, height int) *FilterBuilder {
	if width <= 0 || height <= 0 {
		// Return self without adding filter - allows chaining to continue
		return fb
	}
	fb.filters = append(fb.filters, fmt.Sprintf("scale=%d:%d", width, height))
	return fb
}

// FPS adds an fps filter
func (fb *FilterBuilder) FPS(fps float64) *FilterBuilder {
	if fps <= 0 {
		return fb
	}
	fb.filters = append(fb.filters, "fps="+formatRate(fps))
	return fb
}

// SetSAR forces square pixels so scaled inputs agree on aspect
func (fb *FilterBuilder) SetSAR() *FilterBuilder {
	fb.filters = append(fb.filters, "setsar=1")
	return fb
}

// Custom adds a custom filter string
func (fb *FilterBuilder) Custom(filter string) *FilterBuilder {
	fb.filters = append(fb.filters, filter)
	return fb
}

// Build returns the complete filter string joined with commas
func (fb *FilterBuilder) Build() string {
	if len(fb.filters) == 0 {
		return ""
	}
	return strings.Join(fb.filters, ",")
}

// ConcatGraph builds an n-way concat filter graph. Every video input is
// normalised to the same rate, size and sample aspect before joining.
// Outputs are labelled [outv] and [outa].
func ConcatGraph(n, width, height int, fps float64) string {
	var b strings.Builder
	chain := NewFilterBuilder().FPS(fps).Scale(width, height).SetSAR().Build()

	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "[%d:v:0]%s[v%d];", i, chain, i)
	}
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "[v%d][%d:a:0]", i, i)
	}
	fmt.Fprintf(&b, "concat=n=%d:v=1:a=1[outv][outa]", n)
	return b.String()
}

func formatRate(fps float64) string {
	return strconv.FormatFloat(fps, 'f', -1, 64)
}
