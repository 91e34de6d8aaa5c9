package tui

import "strings"

// ADC range shown on the strip.
const (
	plotMin = 300
	plotMax = 1200
)

// strip keeps the most recent decimated points. Each point is the maximum
// of a group of samples so narrow R waves survive decimation.
type strip struct {
	points   []int
	capacity int

	decimate int
	group    int
	groupMax int
}

func newStrip(capacity, decimate int) *strip {
	return &strip{capacity: max(capacity, 1), decimate: max(decimate, 1)}
}

func (s *strip) add(value int) {
	if s.group == 0 || value > s.groupMax {
		s.groupMax = value
	}
	s.group++
	if s.group < s.decimate {
		return
	}

	s.points = append(s.points, s.groupMax)
	if len(s.points) > s.capacity {
		s.points = s.points[len(s.points)-s.capacity:]
	}
	s.group = 0
}

func (s *strip) resize(capacity int) {
	s.capacity = max(capacity, 1)
	if len(s.points) > s.capacity {
		s.points = s.points[len(s.points)-s.capacity:]
	}
}

func (s *strip) clear() {
	s.points = s.points[:0]
	s.group = 0
}

// renderWave draws values as a dot plot of width x height cells with a dashed
// line at the threshold. The newest value is on the right.
func renderWave(values []int, width, height, threshold int) string {
	if width <= 0 || height <= 0 {
		return ""
	}

	grid := make([][]rune, height)
	for i := range grid {
		grid[i] = []rune(strings.Repeat(" ", width))
	}

	if t := row(threshold, height); t >= 0 {
		for x := 0; x < width; x += 2 {
			grid[t][x] = '╌'
		}
	}

	if len(values) > width {
		values = values[len(values)-width:]
	}
	offset := width - len(values)
	for i, v := range values {
		grid[row(clamp(v), height)][offset+i] = '•'
	}

	lines := make([]string, height)
	for i, r := range grid {
		lines[i] = string(r)
	}
	return strings.Join(lines, "\n")
}

// row maps an ADC value to a grid row, top row first. Values outside the
// plotted range return -1.
func row(v, height int) int {
	if v < plotMin || v > plotMax {
		return -1
	}
	level := (v - plotMin) * (height - 1) / (plotMax - plotMin)
	return height - 1 - level
}

func clamp(v int) int {
	return min(max(v, plotMin), plotMax)
}
