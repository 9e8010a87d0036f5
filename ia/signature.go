package ia

import (
	"fmt"
	"math"
	"strings"
)

// Signature fingerprints a snapshot's shape list: geometry rounded to half a
// pixel plus a text prefix per shape. Identical consecutive snapshots from
// the same source can be deduplicated on it.
func Signature(shapes []Shape) string {
	if len(shapes) == 0 {
		return "empty"
	}
	parts := make([]string, 0, len(shapes))
	for _, c := range shapes {
		txt := textPrefix(c.Text, 80)
		parts = append(parts, fmt.Sprintf("%s,%s,%s,%s:%s",
			roundHalf(c.X), roundHalf(c.Y), roundHalf(c.Width), roundHalf(c.Height), txt))
	}
	return strings.Join(parts, "|")
}

// textPrefix cuts s to at most n runes without splitting a multi-byte rune.
func textPrefix(s string, n int) string {
	for i := range s {
		if n == 0 {
			return s[:i]
		}
		n--
	}
	return s
}

func roundHalf(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "NaN"
	}
	return fmt.Sprintf("%.1f", math.Round(v*2)/2)
}
