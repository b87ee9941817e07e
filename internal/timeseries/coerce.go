package timeseries

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Coercion of feed cells is best effort across the board: an empty or
// malformed value maps to "absent" (nil), never to an error. The feed leaves
// cells blank for intervals that have not cleared yet.

func parseIndex(raw string) (int, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	idx, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return idx, true
}

func parseDecimal(raw string) *decimal.Decimal {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return nil
	}
	return &d
}

// deliveryDate parses the date part of a delivery day cell. The feed emits
// ISO dates, sometimes with a trailing time component which is ignored.
func deliveryDate(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if len(raw) < 10 {
		return time.Time{}, false
	}
	day, err := time.ParseInLocation("2006-01-02", raw[:10], MarketTimezone)
	if err != nil {
		return time.Time{}, false
	}
	return day, true
}

// intervalTimestamp computes the instant a record covers from its delivery
// day and 1-based interval index. Malformed input yields nil.
func intervalTimestamp(deliveryDay, interval string, res Resolution) *time.Time {
	day, ok := deliveryDate(deliveryDay)
	if !ok {
		return nil
	}
	idx, ok := parseIndex(interval)
	if !ok {
		return nil
	}
	ts := day.Add(time.Duration(idx-1) * res.IntervalLength())
	return &ts
}
