package source

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/MysteriousWolf/southpool-hacs/config"
	"github.com/MysteriousWolf/southpool-hacs/internal/timeseries"
	"github.com/MysteriousWolf/southpool-hacs/logger"
	"github.com/MysteriousWolf/southpool-hacs/models"
)

// DataSource fetches raw day-ahead trading data for a market region. The two
// delivery windows (today and tomorrow) come back in a single dataset holding
// both the quarter-hourly and the hourly product records.
type DataSource interface {
	GetData(ctx context.Context, region string) (*models.RawDataset, error)
	GetDataForDate(ctx context.Context, region, date string) (*models.RawDataset, error)
}

// Client downloads the published CSV exports over HTTPS. A shared rate
// limiter spaces out requests across regions so a multi-region deployment
// does not hammer the feed at the top of the hour.
type Client struct {
	config     config.SourceConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	log        *logger.Log
}

// NewClient creates a Client from the source configuration.
func NewClient(cfg config.SourceConfig, log *logger.Log) *Client {
	return &Client{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit.RequestsPerSecond), cfg.RateLimit.BurstSize),
		log:     log,
	}
}

// GetData fetches today's and tomorrow's records for the region. Dates are
// computed in the market timezone since the feed publishes delivery days in
// CET regardless of where the caller runs.
func (c *Client) GetData(ctx context.Context, region string) (*models.RawDataset, error) {
	now := time.Now().In(timeseries.MarketTimezone)
	today := now.Format("2006-01-02")
	tomorrow := now.AddDate(0, 0, 1).Format("2006-01-02")
	return c.fetch(ctx, region, today, tomorrow)
}

// GetDataForDate fetches records for a single delivery day, given as
// YYYY-MM-DD.
func (c *Client) GetDataForDate(ctx context.Context, region, date string) (*models.RawDataset, error) {
	return c.fetch(ctx, region, date, date)
}

func (c *Client) fetch(ctx context.Context, region, from, to string) (*models.RawDataset, error) {
	log := c.log.WithComponent("source").WithRegion(region)
	filter := buildFilter(from, to, region)

	start := time.Now()

	records15Min, size15, err := c.fetchCSV(ctx, c.config.URL15Min, filter)
	if err != nil {
		return nil, fmt.Errorf("15min fetch for %s: %w", region, err)
	}
	logger.IncrementFetch15Min(size15)

	recordsHourly, sizeHourly, err := c.fetchCSV(ctx, c.config.URLHourly, filter)
	if err != nil {
		return nil, fmt.Errorf("hourly fetch for %s: %w", region, err)
	}
	logger.IncrementFetchHourly(sizeHourly)

	dataset := &models.RawDataset{
		Region:        region,
		FetchedAt:     time.Now().In(timeseries.MarketTimezone),
		Records15Min:  records15Min,
		RecordsHourly: recordsHourly,
	}

	logger.LogPerformanceEntry(log, "source", "fetch", time.Since(start), logger.Fields{
		"records_15min":  len(records15Min),
		"records_hourly": len(recordsHourly),
		"from":           from,
		"to":             to,
	})

	return dataset, nil
}

// buildFilter assembles the feed's filter expression. The feed expects the
// comma separated form DeliveryDay__gte__X,DeliveryDay__lte__Y,Region__in__Z.
func buildFilter(from, to, region string) string {
	return fmt.Sprintf("DeliveryDay__gte__%s,DeliveryDay__lte__%s,Region__in__%s", from, to, region)
}

func (c *Client) fetchCSV(ctx context.Context, baseURL, filter string) ([]models.RawRecord, int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrCommunication, err)
	}

	requestURL := baseURL + "?filter=" + url.QueryEscape(filter)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrCommunication, err)
	}
	req.Header.Set("Accept", "text/csv")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrCommunication, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, 0, fmt.Errorf("%w: status %d", ErrAuthentication, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, 0, fmt.Errorf("%w: unexpected status %d", ErrCommunication, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: reading body: %v", ErrCommunication, err)
	}

	records, err := parseCSV(body)
	if err != nil {
		return nil, 0, err
	}
	return records, len(body), nil
}

// parseCSV decodes the feed export into raw records. The header row decides
// column positions, so reordered or extra columns in future exports do not
// break decoding. An empty body yields an empty slice, not an error.
func parseCSV(body []byte) ([]models.RawRecord, error) {
	reader := csv.NewReader(strings.NewReader(string(body)))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	if len(rows) == 0 {
		return []models.RawRecord{}, nil
	}

	header := rows[0]
	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.TrimSpace(name)] = i
	}

	cell := func(row []string, name string) string {
		idx, ok := columns[name]
		if !ok || idx >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[idx])
	}

	records := make([]models.RawRecord, 0, len(rows)-1)
	for _, row := range rows[1:] {
		record := models.RawRecord{
			DeliveryDay:   cell(row, "Delivery day"),
			Price:         cell(row, "Price"),
			TradedVolume:  cell(row, "Traded volume"),
			BaseloadPrice: cell(row, "Baseload price"),
			Status:        cell(row, "Status"),
		}
		// Quarter-hourly exports label the interval column "Quarter hour",
		// hourly exports label it "Hour".
		if interval := cell(row, "Quarter hour"); interval != "" {
			record.Interval = interval
		} else {
			record.Interval = cell(row, "Hour")
		}
		records = append(records, record)
	}

	return records, nil
}
