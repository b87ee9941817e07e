package archive

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	appconfig "github.com/MysteriousWolf/southpool-hacs/config"
	"github.com/MysteriousWolf/southpool-hacs/logger"
	"github.com/MysteriousWolf/southpool-hacs/models"
)

// s3Uploader is the slice of the S3 client the archiver uses; tests swap in
// a recorder.
type s3Uploader interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Archiver persists every successfully fetched raw dataset to S3 as two
// parquet files, one per resolution. Datasets arrive on a buffered channel
// so a slow upload never blocks a coordinator's fetch path; when the buffer
// is full the dataset is dropped with a warning.
type Archiver struct {
	config   *appconfig.Config
	s3Client s3Uploader
	datasets chan *models.RawDataset
	ctx      context.Context
	wg       sync.WaitGroup
	mu       sync.RWMutex
	running  bool
	log      *logger.Log
}

// New creates an Archiver with an initialized S3 client.
func New(cfg *appconfig.Config) (*Archiver, error) {
	log := logger.GetLogger()

	ctx := context.Background()

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Storage.S3.Region),
	}
	if cfg.Storage.S3.AccessKeyID != "" && cfg.Storage.S3.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				cfg.Storage.S3.AccessKeyID,
				cfg.Storage.S3.SecretAccessKey,
				"",
			),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	creds, err := awsCfg.Credentials.Retrieve(ctx)
	if err != nil || !creds.HasKeys() {
		return nil, fmt.Errorf("aws credentials not found")
	}

	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Storage.S3.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Storage.S3.Endpoint)
		}
		o.UsePathStyle = cfg.Storage.S3.PathStyle
	})

	log.WithComponent("archive").WithFields(logger.Fields{
		"bucket":     cfg.Storage.S3.Bucket,
		"region":     cfg.Storage.S3.Region,
		"endpoint":   cfg.Storage.S3.Endpoint,
		"path_style": cfg.Storage.S3.PathStyle,
	}).Info("archiver initialized")

	return &Archiver{
		config:   cfg,
		s3Client: s3Client,
		datasets: make(chan *models.RawDataset, 16),
		log:      log,
	}, nil
}

// Enqueue hands a dataset to the upload worker without blocking. Returns
// false when the buffer is full and the dataset was dropped.
func (a *Archiver) Enqueue(dataset *models.RawDataset) bool {
	select {
	case a.datasets <- dataset:
		return true
	default:
		a.log.WithComponent("archive").WithRegion(dataset.Region).Warn("archive buffer full, dropping dataset")
		return false
	}
}

// Start launches the upload worker.
func (a *Archiver) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("archiver already running")
	}
	a.running = true
	a.ctx = ctx
	a.mu.Unlock()

	a.wg.Add(1)
	go a.worker()

	a.log.WithComponent("archive").Info("archiver started")
	return nil
}

// Stop waits for the upload worker to drain and exit.
func (a *Archiver) Stop() {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return
	}
	a.running = false
	a.mu.Unlock()

	a.wg.Wait()
	a.log.WithComponent("archive").Info("archiver stopped")
}

func (a *Archiver) worker() {
	defer a.wg.Done()

	log := a.log.WithComponent("archive").WithFields(logger.Fields{"worker": "upload"})
	log.Info("starting archive worker")

	for {
		select {
		case <-a.ctx.Done():
			// Drain what is already buffered before exiting.
			for {
				select {
				case dataset := <-a.datasets:
					a.processDataset(dataset)
				default:
					log.Info("archive worker stopped due to context cancellation")
					return
				}
			}
		case dataset := <-a.datasets:
			a.processDataset(dataset)
		}
	}
}

func (a *Archiver) processDataset(dataset *models.RawDataset) {
	if dataset == nil || dataset.RecordCount() == 0 {
		return
	}

	a.uploadResolution(dataset, "15min", dataset.Records15Min)
	a.uploadResolution(dataset, "hourly", dataset.RecordsHourly)
}

func (a *Archiver) uploadResolution(dataset *models.RawDataset, resolution string, records []models.RawRecord) {
	log := a.log.WithComponent("archive").WithFields(logger.Fields{
		"region":       dataset.Region,
		"resolution":   resolution,
		"record_count": len(records),
	})

	if len(records) == 0 {
		log.Debug("no records for resolution, skipping upload")
		return
	}

	key := a.objectKey(dataset, resolution)
	log = log.WithFields(logger.Fields{"s3_key": key})

	data, err := createParquetFile(dataset, resolution, records, a.config.Storage.S3.Compression)
	if err != nil {
		log.WithError(err).Error("failed to create parquet file")
		return
	}

	if err := a.upload(key, data); err != nil {
		log.WithError(err).
			WithEnv("S3_BUCKET").
			WithFields(logger.Fields{"bucket": a.config.Storage.S3.Bucket}).
			Error("failed to upload to S3")
		return
	}

	logger.IncrementArchiveWrite(int64(len(data)))
	log.WithFields(logger.Fields{"file_size": len(data)}).Info("dataset archived")
}

// objectKey builds the partitioned key for one upload, e.g.
// region=HU/resolution=15min/year=2026/month=03/day=10/20260310110000_<uuid>.parquet.
func (a *Archiver) objectKey(dataset *models.RawDataset, resolution string) string {
	ts := dataset.FetchedAt
	parts := []string{
		fmt.Sprintf("region=%s", dataset.Region),
		fmt.Sprintf("resolution=%s", resolution),
		fmt.Sprintf("year=%04d", ts.Year()),
		fmt.Sprintf("month=%02d", int(ts.Month())),
		fmt.Sprintf("day=%02d", ts.Day()),
		fmt.Sprintf("%s_%s.parquet", ts.UTC().Format("20060102150405"), uuid.New().String()),
	}
	return filepath.ToSlash(filepath.Join(parts...))
}

func (a *Archiver) upload(key string, data []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, err := a.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.config.Storage.S3.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
	})
	return err
}
