// Package confidence defines the four-level reliability tag shared by
// boundary detection and measurements.
package confidence

// Level is one of high, medium, low or unreliable.
type Level string

const (
	High       Level = "high"
	Medium     Level = "medium"
	Low        Level = "low"
	Unreliable Level = "unreliable"
)

// Rank orders levels from Unreliable (0) to High (3).
func (l Level) Rank() int {
	switch l {
	case High:
		return 3
	case Medium:
		return 2
	case Low:
		return 1
	default:
		return 0
	}
}

// FromScore maps a 0-100 fusion score to a level. High additionally
// requires that no area penalty was applied.
func FromScore(score float64, areaPenalized bool) Level {
	switch {
	case score >= 80 && !areaPenalized:
		return High
	case score >= 60:
		return Medium
	case score >= 40:
		return Low
	default:
		return Unreliable
	}
}
