package archive

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"

	appconfig "github.com/MysteriousWolf/southpool-hacs/config"
	"github.com/MysteriousWolf/southpool-hacs/logger"
	"github.com/MysteriousWolf/southpool-hacs/models"
)

type recordingUploader struct {
	mu   sync.Mutex
	keys []string
	size []int
}

func (r *recordingUploader) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys = append(r.keys, *params.Key)
	buf := make([]byte, 0)
	tmp := make([]byte, 4096)
	for {
		n, err := params.Body.Read(tmp)
		buf = append(buf, tmp[:n]...)
		if err != nil {
			break
		}
	}
	r.size = append(r.size, len(buf))
	return &s3.PutObjectOutput{}, nil
}

func testArchiver(uploader s3Uploader) *Archiver {
	cfg := &appconfig.Config{}
	cfg.Storage.S3.Bucket = "southpool-archive"
	cfg.Storage.S3.Compression = "snappy"
	return &Archiver{
		config:   cfg,
		s3Client: uploader,
		datasets: make(chan *models.RawDataset, 2),
		log:      logger.Logger(),
	}
}

func testDataset() *models.RawDataset {
	return &models.RawDataset{
		Region:    "HU",
		FetchedAt: time.Date(2026, 3, 10, 11, 0, 0, 0, time.UTC),
		Records15Min: []models.RawRecord{
			{DeliveryDay: "2026-03-10", Interval: "1", Price: "100.5", Status: "Final"},
			{DeliveryDay: "2026-03-10", Interval: "2", Price: "98.2", Status: "Final"},
		},
		RecordsHourly: []models.RawRecord{
			{DeliveryDay: "2026-03-10", Interval: "1", Price: "99.0", Status: "Final"},
		},
	}
}

func TestObjectKeyPartitioning(t *testing.T) {
	a := testArchiver(&recordingUploader{})
	key := a.objectKey(testDataset(), "15min")

	for _, part := range []string{"region=HU/", "resolution=15min/", "year=2026/", "month=03/", "day=10/"} {
		if !strings.Contains(key, part) {
			t.Errorf("key missing partition %q: %s", part, key)
		}
	}
	if !strings.HasSuffix(key, ".parquet") {
		t.Errorf("key missing parquet suffix: %s", key)
	}
	if strings.Contains(key, "\\") {
		t.Errorf("key contains backslashes: %s", key)
	}
}

func TestObjectKeysAreUnique(t *testing.T) {
	a := testArchiver(&recordingUploader{})
	dataset := testDataset()
	first := a.objectKey(dataset, "15min")
	second := a.objectKey(dataset, "15min")
	if first == second {
		t.Errorf("expected unique keys for identical datasets, both were %s", first)
	}
}

func TestCreateParquetFileSkipsEmptyRows(t *testing.T) {
	dataset := testDataset()
	records := append(dataset.Records15Min, models.RawRecord{})

	data, err := createParquetFile(dataset, "15min", records, "snappy")
	if err != nil {
		t.Fatalf("createParquetFile returned error: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("expected non-empty parquet payload")
	}
}

func TestProcessDatasetUploadsBothResolutions(t *testing.T) {
	uploader := &recordingUploader{}
	a := testArchiver(uploader)

	a.processDataset(testDataset())

	if len(uploader.keys) != 2 {
		t.Fatalf("expected 2 uploads, got %d", len(uploader.keys))
	}
	if !strings.Contains(uploader.keys[0], "resolution=15min") {
		t.Errorf("first upload should be quarter-hourly: %s", uploader.keys[0])
	}
	if !strings.Contains(uploader.keys[1], "resolution=hourly") {
		t.Errorf("second upload should be hourly: %s", uploader.keys[1])
	}
	for i, size := range uploader.size {
		if size == 0 {
			t.Errorf("upload %d had empty body", i)
		}
	}
}

func TestProcessDatasetSkipsEmptyDataset(t *testing.T) {
	uploader := &recordingUploader{}
	a := testArchiver(uploader)

	a.processDataset(nil)
	a.processDataset(&models.RawDataset{Region: "HU"})

	if len(uploader.keys) != 0 {
		t.Errorf("expected no uploads for empty datasets, got %d", len(uploader.keys))
	}
}

func TestEnqueueDropsWhenBufferFull(t *testing.T) {
	a := testArchiver(&recordingUploader{})

	if !a.Enqueue(testDataset()) || !a.Enqueue(testDataset()) {
		t.Fatal("expected first two enqueues to succeed")
	}
	if a.Enqueue(testDataset()) {
		t.Error("expected enqueue to drop when buffer is full")
	}
}

func TestWorkerDrainsBufferOnShutdown(t *testing.T) {
	uploader := &recordingUploader{}
	a := testArchiver(uploader)

	ctx, cancel := context.WithCancel(context.Background())
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	a.Enqueue(testDataset())
	time.Sleep(100 * time.Millisecond)
	cancel()
	a.Stop()

	uploader.mu.Lock()
	defer uploader.mu.Unlock()
	if len(uploader.keys) != 2 {
		t.Errorf("expected 2 uploads after drain, got %d", len(uploader.keys))
	}
}
