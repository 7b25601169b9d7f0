package ui

import "strings"

// sparkChars are eight block heights, empty to full.
var sparkChars = []rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}

// Sparkline is a fixed-width ring of samples rendered as block characters.
// The watch view feeds it one throughput sample per snapshot.
type Sparkline struct {
	samples []float64
	head    int
	count   int
	max     float64
}

// NewSparkline creates a sparkline of the given display width.
func NewSparkline(width int) *Sparkline {
	if width <= 0 {
		width = 60
	}
	return &Sparkline{samples: make([]float64, width)}
}

// Add appends a sample, evicting the oldest once the ring is full.
func (s *Sparkline) Add(v float64) {
	s.samples[s.head] = v
	s.head = (s.head + 1) % len(s.samples)
	s.count++
	if v > s.max {
		s.max = v
	}
	// Rescale once per revolution so a past spike does not flatten the
	// rest of the chart forever.
	if s.count%len(s.samples) == 0 {
		s.max = 0
		for _, v := range s.samples {
			if v > s.max {
				s.max = v
			}
		}
	}
}

// Render returns the chart, oldest sample first.
func (s *Sparkline) Render() string {
	width := len(s.samples)
	if s.count == 0 {
		return strings.Repeat(" ", width)
	}
	max := s.max
	if max <= 0 {
		max = 1
	}

	start := 0
	if s.count >= width {
		start = s.head
	}
	filled := min(s.count, width)

	var sb strings.Builder
	sb.Grow(width * 3)
	for i := 0; i < width; i++ {
		if i >= filled {
			sb.WriteRune(' ')
			continue
		}
		v := s.samples[(start+i)%width]
		idx := int(v / max * float64(len(sparkChars)-1))
		if idx < 0 {
			idx = 0
		}
		if idx >= len(sparkChars) {
			idx = len(sparkChars) - 1
		}
		sb.WriteRune(sparkChars[idx])
	}
	return sb.String()
}
