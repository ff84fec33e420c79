// Package domain contains core domain types for the Mr M application.
package domain

import (
	"time"
)

// Visit represents a single page visit recorded by the analytics pipeline.
// The IP is stored anonymized; coordinates are nil when geo lookup failed.
type Visit struct {
	ID        string    `json:"id"`
	IP        string    `json:"ip"`
	Country   string    `json:"country"`
	Device    string    `json:"device"`
	UserAgent string    `json:"user_agent"`
	Timestamp time.Time `json:"timestamp"`
	Proxy     bool      `json:"proxy"`
	Latitude  *float64  `json:"latitude"`
	Longitude *float64  `json:"longitude"`
	Path      string    `json:"path"`
	Tab       string    `json:"tab"`
}

// IsRecent reports whether the visit falls inside the retention window.
func (v *Visit) IsRecent(cutoff time.Time) bool {
	return !v.Timestamp.Before(cutoff)
}

// Day returns the visit date in YYYY-MM-DD form (UTC).
func (v *Visit) Day() string {
	return v.Timestamp.UTC().Format("2006-01-02")
}
