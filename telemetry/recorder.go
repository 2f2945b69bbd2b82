package telemetry

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/vsslctrl/vsslctrl/bus"
	"github.com/vsslctrl/vsslctrl/config"
	"github.com/vsslctrl/vsslctrl/logging"
)

// Recorder streams property changes into an InfluxDB bucket.
//
// Thread Safety:
//   - Start and Close are safe to call from any goroutine.
type Recorder struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	log      *logging.Logger

	sub  *bus.Subscription
	done chan struct{}
	wg   sync.WaitGroup
}

// Start verifies the InfluxDB connection and begins recording every event on
// the bus.
func Start(ctx context.Context, cfg config.TelemetryConfig, events *bus.Bus, log *logging.Logger) (*Recorder, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}
	if log == nil {
		log = logging.Default()
	}

	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	ok, err := client.Ping(ctx)
	if err != nil || !ok {
		client.Close()
		if err == nil {
			err = fmt.Errorf("ping returned not ready")
		}
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	r := &Recorder{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
		log:      log.With("component", "telemetry"),
		sub:      events.Subscribe(bus.NameAll, bus.EntityAll, 0),
		done:     make(chan struct{}),
	}

	r.wg.Add(2)
	go r.run()
	go r.watchErrors()

	r.log.Info("telemetry started", "url", cfg.URL, "bucket", cfg.Bucket)
	return r, nil
}

func (r *Recorder) run() {
	defer r.wg.Done()

	for {
		select {
		case <-r.done:
			return
		case e, ok := <-r.sub.C():
			if !ok {
				return
			}
			r.writeAPI.WritePoint(Point(e))
		}
	}
}

// watchErrors drains the async write error channel so batched write failures
// surface in the log instead of piling up.
func (r *Recorder) watchErrors() {
	defer r.wg.Done()

	for {
		select {
		case <-r.done:
			return
		case err, ok := <-r.writeAPI.Errors():
			if !ok {
				return
			}
			r.log.Warn("telemetry write failed", "error", err)
		}
	}
}

// Close flushes buffered points and releases the client.
func (r *Recorder) Close() {
	select {
	case <-r.done:
		return
	default:
	}
	close(r.done)
	r.wg.Wait()
	r.writeAPI.Flush()
	r.client.Close()
	r.log.Info("telemetry stopped")
}

// Point converts one bus event into an InfluxDB point. The entity tag is
// "device" for device-wide properties and the zone slot otherwise.
func Point(e bus.Event) *write.Point {
	entity := "device"
	if e.Entity > 0 {
		entity = strconv.Itoa(e.Entity)
	}

	return write.NewPoint(
		"property",
		map[string]string{
			"entity": entity,
			"key":    e.Name,
		},
		map[string]interface{}{
			"value": fieldValue(e.Value),
		},
		time.Now(),
	)
}

// fieldValue keeps the field type stable across points. Ints are widened to
// int64 and anything non-scalar is stringified, so a key never flips field
// type mid-series.
func fieldValue(v any) any {
	switch t := v.(type) {
	case int:
		return int64(t)
	case int64, float64, bool, string:
		return t
	default:
		return fmt.Sprintf("%v", t)
	}
}
