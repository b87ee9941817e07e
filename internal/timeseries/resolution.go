package timeseries

import "time"

// MarketTimezone is the feed's fixed reference timezone. The exchange
// publishes delivery days in literal CET (UTC+1) year round, without DST.
var MarketTimezone = time.FixedZone("CET", 3600)

// Resolution selects one of the two publication granularities of the feed.
type Resolution int

const (
	// QuarterHourly covers 96 fifteen-minute intervals per delivery day.
	QuarterHourly Resolution = iota
	// Hourly covers 24 one-hour intervals per delivery day.
	Hourly
)

const forecastHours = 48

func (r Resolution) String() string {
	if r == Hourly {
		return "hourly"
	}
	return "15min"
}

// IntervalLength returns the wall-clock span of a single interval.
func (r Resolution) IntervalLength() time.Duration {
	if r == Hourly {
		return time.Hour
	}
	return 15 * time.Minute
}

// IntervalsPerDay returns the number of intervals in a delivery day.
func (r Resolution) IntervalsPerDay() int {
	if r == Hourly {
		return 24
	}
	return 96
}

// ForecastLength returns how many records make up a 48-hour look-ahead.
func (r Resolution) ForecastLength() int {
	if r == Hourly {
		return forecastHours
	}
	return forecastHours * 4
}

// TargetIndex maps a wall-clock instant to the 1-based interval index of the
// resolution. Quarter-hourly indexes run 1..96, hourly 1..24.
func (r Resolution) TargetIndex(now time.Time) int {
	now = now.In(MarketTimezone)
	if r == Hourly {
		return now.Hour() + 1
	}
	return (now.Hour()*60+now.Minute())/15 + 1
}
