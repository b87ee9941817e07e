package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// CurrentValue is the derived state of one resolution at a reference instant.
// Pointer fields are nil when the source cell was empty or unparseable; that
// is a normal condition, not an error.
type CurrentValue struct {
	Timestamp     *time.Time       `json:"timestamp,omitempty"`
	DeliveryDay   string           `json:"delivery_day,omitempty"`
	Interval      *int             `json:"interval,omitempty"`
	Price         *decimal.Decimal `json:"price,omitempty"`
	TradedVolume  *decimal.Decimal `json:"traded_volume,omitempty"`
	BaseloadPrice *decimal.Decimal `json:"baseload_price,omitempty"`
	Status        string           `json:"status,omitempty"`
}

// Absent reports whether no record could be resolved for the reference day.
func (v CurrentValue) Absent() bool {
	return v.DeliveryDay == "" && v.Interval == nil
}

// ForecastWindow holds up to 48 hours of upcoming intervals as parallel
// slices, anchored at the current record's position in sort order.
type ForecastWindow struct {
	Timestamps     []*time.Time       `json:"timestamps"`
	DeliveryDays   []string           `json:"delivery_days"`
	Intervals      []*int             `json:"intervals"`
	Prices         []*decimal.Decimal `json:"prices"`
	TradedVolumes  []*decimal.Decimal `json:"traded_volumes"`
	BaseloadPrices []*decimal.Decimal `json:"baseload_prices"`
	Statuses       []string           `json:"statuses"`
}

// Len returns the number of entries in the window.
func (w ForecastWindow) Len() int {
	return len(w.DeliveryDays)
}

// DerivedView is the only structure consumers ever see. LastUpdate advances
// on every recompute; LastAPIFetch only on a successful fetch, so
// LastAPIFetch <= LastUpdate always holds.
type DerivedView struct {
	Region             string         `json:"region"`
	DataCount          int            `json:"data_count"`
	CurrentValue15Min  CurrentValue   `json:"current_value_15min"`
	CurrentValueHourly CurrentValue   `json:"current_value_hourly"`
	Forecast15Min      ForecastWindow `json:"forecast_48h_15min"`
	ForecastHourly     ForecastWindow `json:"forecast_48h_hourly"`
	LastUpdate         time.Time      `json:"last_update"`
	LastAPIFetch       *time.Time     `json:"last_api_fetch,omitempty"`
}
