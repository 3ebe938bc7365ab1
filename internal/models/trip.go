package models

import "time"

// Category is a lookup-table row for trip place categories.
type Category struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	Icon string `json:"icon,omitempty"`
}

// Station is a fuel station or point of interest tracked for trip planning.
type Station struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Lat          float64   `json:"lat"`
	Lon          float64   `json:"lon"`
	Serial       *int64    `json:"serial,omitempty"`
	PhotoURL     *string   `json:"photo_url,omitempty"`
	ThumbnailKey *string   `json:"thumbnail_key,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// StationPrice is one observed fuel price at a station.
type StationPrice struct {
	StationID  string    `json:"station_id"`
	Name       string    `json:"name,omitempty"`
	Lat        float64   `json:"lat,omitempty"`
	Lon        float64   `json:"lon,omitempty"`
	FuelType   string    `json:"fuel_type"`
	Price      float64   `json:"price"`
	Currency   string    `json:"currency"`
	RecordedAt time.Time `json:"recorded_at"`
}
