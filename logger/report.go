package logger

import (
	"context"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	gnet "github.com/shirou/gopsutil/v3/net" //cloudwatch

	"github.com/aws/aws-sdk-go-v2/aws"                              //cloudwatch
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types" //cloudwatch
)

type flowStat struct {
	messages int64
	bytes    int64
}

var (
	errorsQuarter  int64
	errorsHourly   int64
	warnsQuarter   int64
	warnsHourly    int64
	fetches15Min   int64
	fetchesHourly  int64
	recomputes     int64
	archiveWrites  int64
	flows          sync.Map // map[string]*flowStat
)

func recordWarn(component string) {
	if strings.Contains(component, "quarter") {
		atomic.AddInt64(&warnsQuarter, 1)
	} else if strings.Contains(component, "hourly") {
		atomic.AddInt64(&warnsHourly, 1)
	}
}

func recordError(component string) {
	if strings.Contains(component, "quarter") {
		atomic.AddInt64(&errorsQuarter, 1)
	} else if strings.Contains(component, "hourly") {
		atomic.AddInt64(&errorsHourly, 1)
	}
}

func IncrementFetch15Min(size int) {
	atomic.AddInt64(&fetches15Min, 1)
	recordFlow("fetch_15min", size)
}

func IncrementFetchHourly(size int) {
	atomic.AddInt64(&fetchesHourly, 1)
	recordFlow("fetch_hourly", size)
}

func IncrementRecompute(region string) {
	atomic.AddInt64(&recomputes, 1)
	recordFlow("recompute_"+strings.ToLower(region), 0)
}

func IncrementArchiveWrite(size int64) {
	atomic.AddInt64(&archiveWrites, 1)
	recordFlow("archive_write", int(size))
}

func RecordFlowMessage(name string, size int) {
	recordFlow(name, size)
}

func recordFlow(name string, size int) {
	v, _ := flows.LoadOrStore(name, &flowStat{})
	fs := v.(*flowStat)
	atomic.AddInt64(&fs.messages, 1)
	atomic.AddInt64(&fs.bytes, int64(size))
}

func startReport(ctx context.Context, log *Log, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-ctx.Done():
				ticker.Stop()
				return
			case <-ticker.C:
				logReport(ctx, log)
			}
		}
	}()
}

// StartReport begins periodic logging of system and flow statistics.
// It exposes the internal startReport function for use by other packages.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	startReport(ctx, log, interval)
}

func logReport(ctx context.Context, log *Log) {
	cpuPercent, _ := cpu.Percent(0, false)
	memStats, _ := mem.VirtualMemory()
	diskStats, _ := disk.Usage("/")
	netStats, _ := gnet.IOCounters(false)
	flowData := map[string]map[string]int64{}
	flows.Range(func(k, v any) bool {
		name := k.(string)
		fs := v.(*flowStat)
		flowData[name] = map[string]int64{
			"messages": atomic.LoadInt64(&fs.messages),
			"bytes":    atomic.LoadInt64(&fs.bytes),
		}
		return true
	})

	cpuPct := 0.0
	if len(cpuPercent) > 0 {
		cpuPct = cpuPercent[0]
	}

	bytesSent := uint64(0)
	bytesRecv := uint64(0)
	if len(netStats) > 0 {
		bytesSent = netStats[0].BytesSent
		bytesRecv = netStats[0].BytesRecv
	}

	fields := Fields{
		"errors_quarter": atomic.LoadInt64(&errorsQuarter),
		"errors_hourly":  atomic.LoadInt64(&errorsHourly),
		"warns_quarter":  atomic.LoadInt64(&warnsQuarter),
		"warns_hourly":   atomic.LoadInt64(&warnsHourly),
		"fetches_15min":  atomic.LoadInt64(&fetches15Min),
		"fetches_hourly": atomic.LoadInt64(&fetchesHourly),
		"recomputes":     atomic.LoadInt64(&recomputes),
		"archive_writes": atomic.LoadInt64(&archiveWrites),
		"goroutines":     runtime.NumGoroutine(),
		"cpu_percent":    cpuPct,
		"memory_mb":      int64(memStats.Used) / 1024 / 1024,
		"disk_mb":        int64(diskStats.Used) / 1024 / 1024,
		"flows":          flowData,
		"net_bytes_sent": int64(bytesSent),
		"net_bytes_recv": int64(bytesRecv),
	}

	log.WithComponent("report").WithFields(fields).Info("runtime report")

	var data []cwtypes.MetricDatum
	data = append(data,
		cwtypes.MetricDatum{MetricName: aws.String("Southpool-CPUPercent"), Unit: cwtypes.StandardUnitPercent, Value: aws.Float64(cpuPct)},
		cwtypes.MetricDatum{MetricName: aws.String("Southpool-MemoryMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(memStats.Used) / 1024 / 1024)},
		cwtypes.MetricDatum{MetricName: aws.String("Southpool-DiskMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(diskStats.Used) / 1024 / 1024)},
		cwtypes.MetricDatum{MetricName: aws.String("Southpool-ErrorsQuarter"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["errors_quarter"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("Southpool-ErrorsHourly"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["errors_hourly"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("Southpool-WarnsQuarter"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["warns_quarter"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("Southpool-WarnsHourly"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["warns_hourly"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("Southpool-Fetches15Min"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["fetches_15min"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("Southpool-FetchesHourly"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["fetches_hourly"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("Southpool-Recomputes"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["recomputes"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("Southpool-ArchiveWrites"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["archive_writes"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("Southpool-NetBytesSent"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesSent))},
		cwtypes.MetricDatum{MetricName: aws.String("Southpool-NetBytesRecv"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesRecv))},
	)

	for name, stats := range flowData {
		data = append(data,
			cwtypes.MetricDatum{
				MetricName: aws.String("Southpool-FlowMessages"),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Flow"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["messages"])),
			},
			cwtypes.MetricDatum{
				MetricName: aws.String("Southpool-FlowBytes"),
				Unit:       cwtypes.StandardUnitBytes,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Flow"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["bytes"])),
			},
		)
	}

	publishMetrics(ctx, data)
}
