package timeseries

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/MysteriousWolf/southpool-hacs/models"
)

// Derive resolves the current record and the 48-hour forecast window for one
// resolution at the reference instant. It is a pure function over the record
// slice: no I/O, no hidden state, and it never fails. Missing or malformed
// data degrades to absent fields.
func Derive(records []models.RawRecord, now time.Time, res Resolution) (models.CurrentValue, models.ForecastWindow) {
	if len(records) == 0 {
		return models.CurrentValue{}, models.ForecastWindow{}
	}

	sorted := sortRecords(records)
	today := now.In(MarketTimezone).Format("2006-01-02")
	target := res.TargetIndex(now)

	pos := findCurrent(sorted, today, target)
	if pos < 0 {
		pos = fallbackCurrent(sorted, today)
	}

	var current models.CurrentValue
	windowStart := 0
	if pos >= 0 {
		current = currentValue(sorted[pos], res)
		windowStart = pos
	}

	return current, buildForecast(sorted, windowStart, res)
}

// sortRecords orders by (delivery day, interval index) ascending. The sort is
// stable so duplicate keys keep their input order; lookups then pick the
// earliest duplicate.
func sortRecords(records []models.RawRecord) []models.RawRecord {
	sorted := make([]models.RawRecord, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.DeliveryDay != b.DeliveryDay {
			return a.DeliveryDay < b.DeliveryDay
		}
		ai, _ := parseIndex(a.Interval)
		bi, _ := parseIndex(b.Interval)
		return ai < bi
	})
	return sorted
}

// findCurrent scans for the first exact match on (today, target index) and
// returns its position, or -1 when today has no record at that index.
func findCurrent(sorted []models.RawRecord, today string, target int) int {
	for i, r := range sorted {
		if recordDay(r) != today {
			continue
		}
		if idx, ok := parseIndex(r.Interval); ok && idx == target {
			return i
		}
	}
	return -1
}

// fallbackCurrent returns the position of the last record belonging to
// today, or -1 when today has no records at all.
func fallbackCurrent(sorted []models.RawRecord, today string) int {
	last := -1
	for i, r := range sorted {
		if recordDay(r) == today {
			last = i
		}
	}
	return last
}

func recordDay(r models.RawRecord) string {
	if len(r.DeliveryDay) < 10 {
		return r.DeliveryDay
	}
	return r.DeliveryDay[:10]
}

func currentValue(r models.RawRecord, res Resolution) models.CurrentValue {
	v := models.CurrentValue{
		Timestamp:     intervalTimestamp(r.DeliveryDay, r.Interval, res),
		DeliveryDay:   r.DeliveryDay,
		Price:         parseDecimal(r.Price),
		TradedVolume:  parseDecimal(r.TradedVolume),
		BaseloadPrice: parseDecimal(r.BaseloadPrice),
		Status:        r.Status,
	}
	if idx, ok := parseIndex(r.Interval); ok {
		v.Interval = &idx
	}
	return v
}

// buildForecast takes up to ForecastLength records from the given position in
// sort order. Running past today into future delivery days is the point of
// the 48-hour look-ahead; a shorter tail is not an error.
func buildForecast(sorted []models.RawRecord, start int, res Resolution) models.ForecastWindow {
	end := start + res.ForecastLength()
	if end > len(sorted) {
		end = len(sorted)
	}
	window := sorted[start:end]

	w := models.ForecastWindow{
		Timestamps:     make([]*time.Time, 0, len(window)),
		DeliveryDays:   make([]string, 0, len(window)),
		Intervals:      make([]*int, 0, len(window)),
		Prices:         make([]*decimal.Decimal, 0, len(window)),
		TradedVolumes:  make([]*decimal.Decimal, 0, len(window)),
		BaseloadPrices: make([]*decimal.Decimal, 0, len(window)),
		Statuses:       make([]string, 0, len(window)),
	}
	for _, r := range window {
		w.Timestamps = append(w.Timestamps, intervalTimestamp(r.DeliveryDay, r.Interval, res))
		w.DeliveryDays = append(w.DeliveryDays, r.DeliveryDay)
		var interval *int
		if idx, ok := parseIndex(r.Interval); ok {
			interval = &idx
		}
		w.Intervals = append(w.Intervals, interval)
		w.Prices = append(w.Prices, parseDecimal(r.Price))
		w.TradedVolumes = append(w.TradedVolumes, parseDecimal(r.TradedVolume))
		w.BaseloadPrices = append(w.BaseloadPrices, parseDecimal(r.BaseloadPrice))
		w.Statuses = append(w.Statuses, r.Status)
	}
	return w
}
