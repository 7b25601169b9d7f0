package ui

import "strings"

// barWidth is the inner width of watch-view progress bars.
const barWidth = 30

// renderBar draws a percent bar: filled blocks, a partial edge, padding.
func renderBar(percent float64, width int) string {
	if width <= 0 {
		width = barWidth
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}

	filled := int(percent / 100 * float64(width))
	var sb strings.Builder
	sb.Grow(width)
	sb.WriteString(strings.Repeat("█", filled))
	if filled < width {
		// Partial cell when the fraction has started the next block.
		if remainder := percent/100*float64(width) - float64(filled); remainder >= 0.5 {
			sb.WriteString("▌")
			filled++
		}
		sb.WriteString(strings.Repeat("░", width-filled))
	}
	return sb.String()
}
