package metrics

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	bolt "go.etcd.io/bbolt"
)

// CampaignCounter reports how many campaigns are stored
type CampaignCounter interface {
	Count(ctx context.Context) (int, error)
}

var (
	bucketMetrics = []byte("metrics")
	countersKey   = []byte("counters")
)

// series is one labelled counter value
type series struct {
	Labels map[string]string `json:"labels"`
	Value  float64           `json:"value"`
}

// counterValues maps a counter name to its series
type counterValues map[string][]series

// Collector keeps counters across restarts and refreshes the system gauges
type Collector struct {
	db            *bolt.DB
	metrics       *Metrics
	campaigns     CampaignCounter
	storagePath   string
	flushInterval time.Duration
	startTime     time.Time
	logger        *slog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewCollector creates a collector and restores persisted counters
func NewCollector(db *bolt.DB, m *Metrics, campaigns CampaignCounter, storagePath string, flushInterval time.Duration, logger *slog.Logger) (*Collector, error) {
	if flushInterval == 0 {
		flushInterval = 10 * time.Second
	}

	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketMetrics)
		return err
	})
	if err != nil {
		return nil, err
	}

	c := &Collector{
		db:            db,
		metrics:       m,
		campaigns:     campaigns,
		storagePath:   storagePath,
		flushInterval: flushInterval,
		startTime:     time.Now(),
		logger:        logger.With("component", "metrics"),
		stopCh:        make(chan struct{}),
	}

	if err := c.loadCounters(); err != nil {
		return nil, err
	}
	return c, nil
}

// persisted lists the counters that survive restarts
func (m *Metrics) persisted() map[string]*prometheus.CounterVec {
	return map[string]*prometheus.CounterVec{
		"copymode_edits_total":        m.EditsTotal,
		"copymode_tool_calls_total":   m.ToolCallsTotal,
		"copymode_saves_total":        m.SavesTotal,
		"copymode_proofs_total":       m.ProofsTotal,
		"copymode_api_requests_total": m.APIRequestsTotal,
		"copymode_api_errors_total":   m.APIErrorsTotal,
	}
}

// Start begins the collector background tasks
func (c *Collector) Start(ctx context.Context) {
	c.collectSystemMetrics(ctx)
	c.wg.Add(2)
	go c.persistLoop(ctx)
	go c.updateSystemMetrics(ctx)
}

// Stop stops the collector and persists final values
func (c *Collector) Stop() error {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
	return c.persistCounters()
}

func (c *Collector) loadCounters() error {
	var stored counterValues
	err := c.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketMetrics).Get(countersKey)
		if data == nil {
			return nil
		}
		if err := json.Unmarshal(data, &stored); err != nil {
			c.logger.Warn("ignoring unreadable persisted counters", "error", err)
			stored = nil
		}
		return nil
	})
	if err != nil {
		return err
	}

	vecs := c.metrics.persisted()
	for name, values := range stored {
		vec, ok := vecs[name]
		if !ok {
			continue
		}
		for _, sr := range values {
			counter, err := vec.GetMetricWith(prometheus.Labels(sr.Labels))
			if err != nil {
				c.logger.Warn("dropping persisted series", "metric", name, "error", err)
				continue
			}
			counter.Add(sr.Value)
		}
	}
	return nil
}

// snapshot reads the current value of every persisted counter
func (c *Collector) snapshot() (counterValues, error) {
	families, err := c.metrics.Registry().Gather()
	if err != nil {
		return nil, err
	}

	vecs := c.metrics.persisted()
	out := counterValues{}
	for _, fam := range families {
		if _, ok := vecs[fam.GetName()]; !ok || fam.GetType() != dto.MetricType_COUNTER {
			continue
		}
		var values []series
		for _, metric := range fam.GetMetric() {
			values = append(values, series{
				Labels: labelMap(metric.GetLabel()),
				Value:  metric.GetCounter().GetValue(),
			})
		}
		out[fam.GetName()] = values
	}
	return out, nil
}

func (c *Collector) persistCounters() error {
	values, err := c.snapshot()
	if err != nil {
		return err
	}
	data, err := json.Marshal(values)
	if err != nil {
		return err
	}
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMetrics).Put(countersKey, data)
	})
}

func (c *Collector) persistLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			if err := c.persistCounters(); err != nil {
				c.logger.Warn("failed to persist counters", "error", err)
			}
		}
	}
}

func (c *Collector) updateSystemMetrics(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.collectSystemMetrics(ctx)
		}
	}
}

func (c *Collector) collectSystemMetrics(ctx context.Context) {
	c.metrics.UptimeSeconds.Set(time.Since(c.startTime).Seconds())
	c.metrics.Goroutines.Set(float64(runtime.NumGoroutine()))

	if c.storagePath != "" {
		if info, err := os.Stat(c.storagePath); err == nil {
			c.metrics.StorageUsedBytes.Set(float64(info.Size()))
		}
	}

	if c.campaigns != nil {
		if n, err := c.campaigns.Count(ctx); err == nil {
			c.metrics.Campaigns.Set(float64(n))
		}
	}
}

func labelMap(labels []*dto.LabelPair) map[string]string {
	out := make(map[string]string, len(labels))
	for _, l := range labels {
		out[l.GetName()] = l.GetValue()
	}
	return out
}
