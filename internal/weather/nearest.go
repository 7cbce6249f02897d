package weather

import (
	"time"
)

// Nearest returns the index of the entry whose time is closest to target.
// Ties keep the earlier entry. It returns -1 for an empty series.
func Nearest(series Series, target time.Time) int {
	best := -1
	var bestDist time.Duration

	for i, e := range series {
		d := absDuration(e.Time.Sub(target))
		if best == -1 || d < bestDist {
			best = i
			bestDist = d
		}
	}
	return best
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
