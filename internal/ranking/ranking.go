// Package ranking holds the pure scoring functions for the memory tier:
// the bucketed recency score, the aggregate RFM score, cosine similarity,
// and relative-time phrasing for prompts. No I/O.
package ranking

import (
	"fmt"
	"math"
	"time"
)

// RFM weights. The aggregate is recency*0.3 + frequency*0.2 + magnitude*0.5.
const (
	recencyWeight   = 0.3
	frequencyWeight = 0.2
	magnitudeWeight = 0.5
)

// RecencyScore buckets how long ago a timestamp was into a 1-5 score.
// Naive timestamps are treated as UTC.
func RecencyScore(lastUsed time.Time, now time.Time) int {
	daysAgo := int(now.UTC().Sub(lastUsed.UTC()).Hours() / 24)
	switch {
	case daysAgo <= 1:
		return 5
	case daysAgo <= 3:
		return 4
	case daysAgo <= 7:
		return 3
	case daysAgo <= 14:
		return 2
	default:
		return 1
	}
}

// RFMScore computes the weighted recency/frequency/magnitude aggregate,
// rounded to 2 decimals.
func RFMScore(lastUsed time.Time, frequency int, magnitude float64, now time.Time) float64 {
	r := float64(RecencyScore(lastUsed, now))
	score := r*recencyWeight + float64(frequency)*frequencyWeight + magnitude*magnitudeWeight
	return math.Round(score*100) / 100
}

// Cosine returns the cosine similarity of two vectors. Zero vectors (or a
// length mismatch) yield 0.0.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0.0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0.0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// TimeAgo renders a past timestamp as a largest-unit relative phrase
// ("just now", "3 days ago"). Used only for prompt formatting.
func TimeAgo(past time.Time, now time.Time) string {
	d := now.UTC().Sub(past.UTC())
	if d < 0 {
		d = 0
	}
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return plural(int(d.Minutes()), "minute")
	case d < 24*time.Hour:
		return plural(int(d.Hours()), "hour")
	case d < 30*24*time.Hour:
		return plural(int(d.Hours()/24), "day")
	case d < 365*24*time.Hour:
		return plural(int(d.Hours()/(24*30)), "month")
	default:
		return plural(int(d.Hours()/(24*365)), "year")
	}
}

func plural(n int, unit string) string {
	if n <= 1 {
		return fmt.Sprintf("1 %s ago", unit)
	}
	return fmt.Sprintf("%d %ss ago", n, unit)
}
