package weather

import (
	"time"
)

// Entry is a single forecast point returned by a provider.
type Entry struct {
	Time        time.Time `json:"time"` // always UTC
	Temperature float64   `json:"temperature"`
}

// Series is a provider forecast in the order the provider returned it,
// normally ascending by Time.
type Series []Entry
