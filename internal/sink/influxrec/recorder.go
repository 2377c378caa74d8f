// Package influxrec is the optional InfluxDB recorder sink: numeric SAMPLE
// observations are written as points so operators can chart machine
// telemetry next to the rest of their time-series data. Disabled by
// default; observations in the circular buffer remain the only history the
// agent itself serves.
package influxrec

import (
	"context"
	"fmt"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/SMSLab-dev/mtconnect-agent/internal/asset"
	"github.com/SMSLab-dev/mtconnect-agent/internal/device"
	"github.com/SMSLab-dev/mtconnect-agent/internal/infrastructure/config"
	"github.com/SMSLab-dev/mtconnect-agent/internal/observation"
	"github.com/SMSLab-dev/mtconnect-agent/internal/sink"
)

// connectTimeout bounds the startup health check.
const connectTimeout = 10 * time.Second

// Recorder is the InfluxDB recorder sink.
type Recorder struct {
	cfg    config.InfluxDBConfig
	logger sink.Logger

	client   influxdb2.Client
	writeAPI api.WriteAPI

	mu      sync.Mutex
	started bool
}

// New creates the recorder. The connection is made in Start.
func New(cfg config.InfluxDBConfig, logger sink.Logger) *Recorder {
	return &Recorder{cfg: cfg, logger: logger}
}

// Name implements sink.Sink.
func (r *Recorder) Name() string { return "influxdb" }

// Start connects to InfluxDB and verifies it is reachable.
func (r *Recorder) Start(ctx context.Context) error {
	opts := influxdb2.DefaultOptions().
		SetBatchSize(uint(r.cfg.BatchSize)).
		SetFlushInterval(uint(r.cfg.FlushInterval * 1000))

	r.client = influxdb2.NewClientWithOptions(r.cfg.URL, r.cfg.Token, opts)

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	ok, err := r.client.Ping(pingCtx)
	if err != nil || !ok {
		r.client.Close()
		return fmt.Errorf("influxdb not reachable at %s: %w", r.cfg.URL, err)
	}

	r.writeAPI = r.client.WriteAPI(r.cfg.Org, r.cfg.Bucket)
	errCh := r.writeAPI.Errors()
	go func() {
		for err := range errCh {
			r.logger.Error("influxdb write error", "error", err)
		}
	}()

	r.mu.Lock()
	r.started = true
	r.mu.Unlock()

	r.logger.Info("influxdb recorder started", "url", r.cfg.URL, "bucket", r.cfg.Bucket)
	return nil
}

// Stop flushes pending writes and closes the client.
func (r *Recorder) Stop() {
	r.mu.Lock()
	started := r.started
	r.started = false
	r.mu.Unlock()

	if !started {
		return
	}
	r.writeAPI.Flush()
	r.client.Close()
}

// PublishObservation implements sink.Sink: numeric samples become points
// tagged by device, component, and data item.
func (r *Recorder) PublishObservation(obs *observation.Observation) {
	r.mu.Lock()
	started := r.started
	r.mu.Unlock()
	if !started {
		return
	}

	di := obs.DataItem
	if di == nil || !di.IsSample() {
		return
	}
	value, ok := obs.Value.(float64)
	if !ok {
		return
	}

	tags := map[string]string{
		"dataItem": di.ID,
	}
	if d := di.Device(); d != nil {
		tags["device"] = d.UUID()
	}
	if c := di.Component(); c != nil {
		tags["component"] = c.ID
	}
	if di.SubType != "" {
		tags["subType"] = di.SubType
	}

	point := influxdb2.NewPoint(
		di.Type,
		tags,
		map[string]any{"value": value},
		obs.Timestamp,
	)
	r.writeAPI.WritePoint(point)
}

// PublishAsset implements sink.Sink; assets are not recorded.
func (r *Recorder) PublishAsset(*asset.Asset) {}

// PublishDeviceChange implements sink.Sink; device models are not recorded.
func (r *Recorder) PublishDeviceChange(*device.Device) {}
