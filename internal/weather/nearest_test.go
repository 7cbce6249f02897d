package weather

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNearest(t *testing.T) {
	series := hourly(1, 2, 3, 4)

	tests := []struct {
		name   string
		series Series
		target time.Time
		want   int
	}{
		{"empty", nil, base, -1},
		{"exact", series, base.Add(6 * time.Hour), 2},
		{"before first", series, base.Add(-time.Hour), 0},
		{"after last", series, base.Add(48 * time.Hour), 3},
		{"closer to next", series, base.Add(2 * time.Hour), 1},
		{"tie keeps first", series, base.Add(90 * time.Minute), 0},
		{"unsorted", Series{{Time: base.Add(9 * time.Hour)}, {Time: base}}, base.Add(time.Hour), 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Nearest(tt.series, tt.target))
		})
	}
}
