package models

import (
	"time"
)

// RawRecord is one row of the day-ahead trading CSV for a single delivery
// interval. All fields are kept exactly as the feed published them; numeric
// coercion happens downstream so that an empty or malformed cell never makes
// a whole dataset unusable.
type RawRecord struct {
	DeliveryDay   string `json:"delivery_day"`
	Interval      string `json:"interval"`
	Price         string `json:"price"`
	TradedVolume  string `json:"traded_volume"`
	BaseloadPrice string `json:"baseload_price"`
	Status        string `json:"status"`
}

// RawDataset is the latest full download for one region, both resolutions.
// It is replaced wholesale on every successful fetch and never mutated in
// place; the coordinator owns the only mutable reference.
type RawDataset struct {
	Region        string      `json:"region"`
	FetchedAt     time.Time   `json:"fetched_at"`
	Records15Min  []RawRecord `json:"records_15min"`
	RecordsHourly []RawRecord `json:"records_hourly"`
}

// RecordCount returns the total number of rows across both resolutions.
func (d *RawDataset) RecordCount() int {
	if d == nil {
		return 0
	}
	return len(d.Records15Min) + len(d.RecordsHourly)
}
