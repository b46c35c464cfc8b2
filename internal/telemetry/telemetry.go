// Package telemetry exports periodic hub status to InfluxDB.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxdb2_api "github.com/influxdata/influxdb-client-go/v2/api"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement is the InfluxDB measurement heartbeat points are written to.
const Measurement = "hub_status"

// Status is one heartbeat observation.
type Status struct {
	Clients    int
	Entities   int
	Recordings int
	Recording  bool
	Time       time.Time
}

// Sink receives heartbeat observations.
type Sink interface {
	Write(ctx context.Context, s Status) error
	Close()
}

// Nop discards every observation.
type Nop struct{}

func (Nop) Write(context.Context, Status) error { return nil }
func (Nop) Close()                              {}

// InfluxConfig addresses an InfluxDB v2 bucket.
type InfluxConfig struct {
	URL    string
	Token  string
	Org    string
	Bucket string
	// Host tags every point.
	Host string
}

// Influx writes heartbeat points synchronously to InfluxDB.
type Influx struct {
	cfg    InfluxConfig
	client influxdb2.Client
	writer influxdb2_api.WriteAPIBlocking
	logger *slog.Logger
}

// NewInflux creates an Influx sink. It does not contact the server; write
// failures surface from Write.
func NewInflux(cfg InfluxConfig, logger *slog.Logger) (*Influx, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("influx url is required")
	}
	if cfg.Org == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("influx org and bucket are required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	client := influxdb2.NewClientWithOptions(
		cfg.URL,
		cfg.Token,
		influxdb2.DefaultOptions().SetHTTPRequestTimeout(5),
	)
	return &Influx{
		cfg:    cfg,
		client: client,
		writer: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		logger: logger,
	}, nil
}

// Point converts s to an InfluxDB point.
func Point(s Status, host string) *influxdb2_write.Point {
	ts := s.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	tags := map[string]string{}
	if host != "" {
		tags["host"] = host
	}
	return influxdb2.NewPoint(
		Measurement,
		tags,
		map[string]interface{}{
			"clients":    s.Clients,
			"ai_boats":   s.Entities,
			"recordings": s.Recordings,
			"recording":  s.Recording,
		},
		ts,
	)
}

// Write sends one point.
func (i *Influx) Write(ctx context.Context, s Status) error {
	if err := i.writer.WritePoint(ctx, Point(s, i.cfg.Host)); err != nil {
		return fmt.Errorf("writing %s point: %w", Measurement, err)
	}
	return nil
}

// Close releases the HTTP client.
func (i *Influx) Close() {
	i.client.Close()
	i.logger.Debug("InfluxDB client closed")
}

// LineProtocol renders s the way it is sent on the wire.
func LineProtocol(s Status, host string) string {
	return influxdb2_write.PointToLineProtocol(Point(s, host), time.Nanosecond)
}
