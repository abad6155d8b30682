package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Sparkline block characters representing 8 vertical levels (lowest to highest).
const sparklineBlocks = "▁▂▃▄▅▆▇█"

var sparklineBlockRunes = []rune(sparklineBlocks)

// RenderSparkline draws the most recent width percentages on a fixed 0-100
// scale, so a flat 90% reads as high rather than as the middle of its own
// range. The color follows the last value:
//   - below 60: green
//   - 60 to 80: yellow
//   - 80 and up: red
func RenderSparkline(data []float64, width int) string {
	if len(data) == 0 || width <= 0 {
		return ""
	}

	if len(data) > width {
		data = data[len(data)-width:]
	}

	var sb strings.Builder
	sb.Grow(len(data) * 3)

	top := len(sparklineBlockRunes) - 1
	for _, v := range data {
		level := int(v / 100 * float64(top))
		if level < 0 {
			level = 0
		} else if level > top {
			level = top
		}
		sb.WriteRune(sparklineBlockRunes[level])
	}

	return lipgloss.NewStyle().Foreground(thresholdColor(data[len(data)-1])).Render(sb.String())
}

// RenderTrend renders "label  sparkline  last%" for watch mode.
func RenderTrend(label string, data []float64, width int) string {
	if len(data) == 0 {
		return padRight(label, 16) + styled(ColorMuted).Render("no data")
	}
	return padRight(label, 16) + padRight(RenderSparkline(data, width), width) + " " +
		formatPercent(data[len(data)-1])
}

func thresholdColor(percent float64) lipgloss.Color {
	switch {
	case percent >= 80:
		return ColorError
	case percent >= 60:
		return ColorWarning
	default:
		return ColorSuccess
	}
}
