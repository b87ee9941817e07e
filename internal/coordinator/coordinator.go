package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MysteriousWolf/southpool-hacs/config"
	"github.com/MysteriousWolf/southpool-hacs/internal/scheduler"
	"github.com/MysteriousWolf/southpool-hacs/internal/source"
	"github.com/MysteriousWolf/southpool-hacs/internal/timeseries"
	"github.com/MysteriousWolf/southpool-hacs/logger"
	"github.com/MysteriousWolf/southpool-hacs/models"
)

// ViewListener receives a copy of the derived view after every recompute.
type ViewListener func(view models.DerivedView)

// DatasetListener receives the raw dataset after every successful fetch.
type DatasetListener func(dataset *models.RawDataset)

// Coordinator owns the refresh lifecycle for one market region. A single
// mutex serializes fetches and recomputes, so listeners always observe a
// view derived from a consistent dataset. The raw dataset is cached across
// failed fetches; consumers keep getting views derived from the last good
// data until the feed recovers.
type Coordinator struct {
	region string
	cfg    config.SchedulerConfig
	source source.DataSource
	clock  scheduler.Clock
	log    *logger.Log

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool

	dataset       *models.RawDataset
	lastFetch     *time.Time
	view          models.DerivedView
	viewSet       bool
	lastUpdateOK  bool
	viewListeners []ViewListener
	dataListeners []DatasetListener
}

// New creates a Coordinator for the given region. It does not fetch or start
// any loops; call Start.
func New(region string, cfg config.SchedulerConfig, src source.DataSource, log *logger.Log) *Coordinator {
	return &Coordinator{
		region: region,
		cfg:    cfg,
		source: src,
		clock:  scheduler.SystemClock(),
		log:    log,
	}
}

// OnViewUpdate registers a listener for derived view updates. Must be called
// before Start.
func (c *Coordinator) OnViewUpdate(fn ViewListener) {
	c.viewListeners = append(c.viewListeners, fn)
}

// OnDatasetFetched registers a listener for successful raw fetches. Must be
// called before Start.
func (c *Coordinator) OnDatasetFetched(fn DatasetListener) {
	c.dataListeners = append(c.dataListeners, fn)
}

// Start performs the first refresh and launches the two scheduling loops:
// a quarter-hour recompute aligned to :00/:15/:30/:45 and an hourly refetch
// aligned to the top of the hour.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("coordinator for %s already running", c.region)
	}
	c.running = true
	c.mu.Unlock()

	c.ctx, c.cancel = context.WithCancel(ctx)
	log := c.log.WithComponent("coordinator").WithRegion(c.region)

	// The first refresh is allowed to fail; the hourly loop retries. A
	// recompute always follows so consumers get a view immediately, even
	// an empty one.
	if err := c.Fetch(c.ctx); err != nil {
		log.WithError(err).Warn("initial fetch failed, starting with empty view")
	}
	c.Recompute(c.ctx)

	quarterTask := scheduler.NewTask(scheduler.TaskConfig{
		Name:              "quarter_hour",
		Interval:          c.cfg.QuarterHour.Interval,
		RecoveryThreshold: c.cfg.QuarterHour.RecoveryThreshold,
		Backoff:           c.cfg.QuarterHour.Backoff,
	}, c.clock, func(ctx context.Context, recovered bool) error {
		c.Recompute(ctx)
		return nil
	})

	hourlyTask := scheduler.NewTask(scheduler.TaskConfig{
		Name:              "hourly",
		Interval:          c.cfg.Hourly.Interval,
		RecoveryThreshold: c.cfg.Hourly.RecoveryThreshold,
		Backoff:           c.cfg.Hourly.Backoff,
	}, c.clock, func(ctx context.Context, recovered bool) error {
		if err := c.Fetch(ctx); err != nil {
			return err
		}
		c.Recompute(ctx)
		return nil
	})

	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		quarterTask.Run(c.ctx)
	}()
	go func() {
		defer c.wg.Done()
		hourlyTask.Run(c.ctx)
	}()

	log.Info("coordinator started")
	return nil
}

// Stop cancels the scheduling loops and waits for them to exit.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	c.log.WithComponent("coordinator").WithRegion(c.region).Info("coordinator stopped")
}

// Fetch downloads fresh raw data and replaces the cached dataset. On any
// failure the cached dataset and last fetch time are left untouched.
func (c *Coordinator) Fetch(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	log := c.log.WithComponent("coordinator.hourly").WithRegion(c.region)

	dataset, err := c.source.GetData(ctx, c.region)
	if err != nil {
		c.lastUpdateOK = false
		switch {
		case errors.Is(err, source.ErrAuthentication):
			log.WithError(err).Error("fetch rejected, check feed credentials")
		case errors.Is(err, source.ErrParse):
			log.WithError(err).Error("fetch returned malformed payload")
		default:
			log.WithError(err).Warn("fetch failed, keeping cached dataset")
		}
		return err
	}

	fetchedAt := dataset.FetchedAt
	c.dataset = dataset
	c.lastFetch = &fetchedAt
	c.lastUpdateOK = true

	log.WithFields(logger.Fields{
		"records_15min":  len(dataset.Records15Min),
		"records_hourly": len(dataset.RecordsHourly),
	}).Info("fetched fresh dataset")

	for _, fn := range c.dataListeners {
		fn(dataset)
	}
	return nil
}

// Recompute derives a fresh view from the cached dataset against the current
// wall clock. With no cached dataset it publishes an empty view with a zero
// data count. Recompute never fetches.
func (c *Coordinator) Recompute(ctx context.Context) {
	c.mu.Lock()

	log := c.log.WithComponent("coordinator.quarter_hour").WithRegion(c.region)
	now := c.clock.Now().In(timeseries.MarketTimezone)

	view := models.DerivedView{
		Region:     c.region,
		LastUpdate: now,
	}

	if c.dataset == nil {
		log.Warn("no cached dataset, publishing empty view")
	} else {
		view.DataCount = c.dataset.RecordCount()
		view.CurrentValue15Min, view.Forecast15Min = timeseries.Derive(c.dataset.Records15Min, now, timeseries.QuarterHourly)
		view.CurrentValueHourly, view.ForecastHourly = timeseries.Derive(c.dataset.RecordsHourly, now, timeseries.Hourly)
		view.LastAPIFetch = c.lastFetch
	}

	c.view = view
	c.viewSet = true
	listeners := c.viewListeners
	c.mu.Unlock()

	logger.IncrementRecompute(c.region)
	log.WithFields(logger.Fields{
		"data_count":            view.DataCount,
		"current_absent_15min":  view.CurrentValue15Min.Absent(),
		"current_absent_hourly": view.CurrentValueHourly.Absent(),
	}).Debug("recomputed derived view")

	for _, fn := range listeners {
		fn(view)
	}
}

// CurrentView returns a copy of the latest derived view. The second return
// is false before the first recompute has happened.
func (c *Coordinator) CurrentView() (models.DerivedView, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.view, c.viewSet
}

// LastUpdateSuccess reports whether the most recent fetch attempt succeeded.
func (c *Coordinator) LastUpdateSuccess() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastUpdateOK
}

// Region returns the market region this coordinator serves.
func (c *Coordinator) Region() string {
	return c.region
}

// SetClock replaces the wall clock. Must be called before Start.
func (c *Coordinator) SetClock(clock scheduler.Clock) {
	c.clock = clock
}
