package models

import "time"

// GeoPoint is a coarse location derived from the client IP by an external
// geolocation collaborator. Optional on LoginRecord.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// LoginRecord is one observed login, kept in a bounded rolling window per
// user and used as the comparison baseline for anomaly detection.
type LoginRecord struct {
	UserID    string    `json:"user_id"`
	IP        string    `json:"ip"`
	UserAgent string    `json:"user_agent"`
	Location  *GeoPoint `json:"location,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
