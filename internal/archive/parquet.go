package archive

import (
	"bytes"
	"fmt"

	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/MysteriousWolf/southpool-hacs/models"
)

// archiveRow is the parquet layout for one raw feed record. Cells stay as
// the strings the feed sent; coercion happens at view derivation time, not
// in the archive.
type archiveRow struct {
	Region        string `parquet:"name=region, type=BYTE_ARRAY, convertedtype=UTF8"`
	Resolution    string `parquet:"name=resolution, type=BYTE_ARRAY, convertedtype=UTF8"`
	DeliveryDay   string `parquet:"name=delivery_day, type=BYTE_ARRAY, convertedtype=UTF8"`
	Interval      string `parquet:"name=interval, type=BYTE_ARRAY, convertedtype=UTF8"`
	Price         string `parquet:"name=price, type=BYTE_ARRAY, convertedtype=UTF8"`
	TradedVolume  string `parquet:"name=traded_volume, type=BYTE_ARRAY, convertedtype=UTF8"`
	BaseloadPrice string `parquet:"name=baseload_price, type=BYTE_ARRAY, convertedtype=UTF8"`
	Status        string `parquet:"name=status, type=BYTE_ARRAY, convertedtype=UTF8"`
	FetchedAt     int64  `parquet:"name=fetched_at, type=INT64"`
}

// memoryFileWriter implements ParquetFile for in-memory writing.
type memoryFileWriter struct {
	buffer *bytes.Buffer
}

func newMemoryFileWriter() *memoryFileWriter {
	return &memoryFileWriter{buffer: &bytes.Buffer{}}
}

func (mfw *memoryFileWriter) Create(name string) (source.ParquetFile, error) {
	return mfw, nil
}

func (mfw *memoryFileWriter) Open(name string) (source.ParquetFile, error) {
	return mfw, nil
}

func (mfw *memoryFileWriter) Seek(offset int64, whence int) (int64, error) {
	return int64(mfw.buffer.Len()), nil
}

func (mfw *memoryFileWriter) Read(b []byte) (int, error) {
	return mfw.buffer.Read(b)
}

func (mfw *memoryFileWriter) Write(b []byte) (int, error) {
	return mfw.buffer.Write(b)
}

func (mfw *memoryFileWriter) Close() error {
	return nil
}

func (mfw *memoryFileWriter) Bytes() []byte {
	return mfw.buffer.Bytes()
}

func compressionCodec(name string) parquet.CompressionCodec {
	switch name {
	case "snappy":
		return parquet.CompressionCodec_SNAPPY
	case "gzip":
		return parquet.CompressionCodec_GZIP
	case "lzo":
		return parquet.CompressionCodec_LZO
	default:
		return parquet.CompressionCodec_UNCOMPRESSED
	}
}

// createParquetFile encodes records of one resolution into an in-memory
// parquet file. Rows with no delivery day carry nothing worth archiving and
// are skipped.
func createParquetFile(dataset *models.RawDataset, resolution string, records []models.RawRecord, compression string) ([]byte, error) {
	fw := newMemoryFileWriter()

	pw, err := writer.NewParquetWriter(fw, new(archiveRow), 4)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet writer: %w", err)
	}
	pw.CompressionType = compressionCodec(compression)

	fetchedAt := dataset.FetchedAt.UnixMilli()
	for _, record := range records {
		if record.DeliveryDay == "" {
			continue
		}
		row := archiveRow{
			Region:        dataset.Region,
			Resolution:    resolution,
			DeliveryDay:   record.DeliveryDay,
			Interval:      record.Interval,
			Price:         record.Price,
			TradedVolume:  record.TradedVolume,
			BaseloadPrice: record.BaseloadPrice,
			Status:        record.Status,
			FetchedAt:     fetchedAt,
		}
		if err := pw.Write(row); err != nil {
			pw.WriteStop()
			return nil, fmt.Errorf("failed to write parquet row: %w", err)
		}
	}

	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("failed to finalize parquet writing: %w", err)
	}

	return fw.Bytes(), nil
}
