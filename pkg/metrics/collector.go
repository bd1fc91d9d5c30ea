package metrics

import (
	"time"
)

// QueueStatser reports night-shift queue depth by status
type QueueStatser interface {
	CountByStatus() (map[string]int, error)
}

// Collector periodically samples gauge-style metrics that are not updated
// inline, currently the night-shift queue depth.
type Collector struct {
	queue  QueueStatser
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(queue QueueStatser) *Collector {
	return &Collector{
		queue:  queue,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		// Collect immediately on start
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	if c.queue == nil {
		return
	}
	counts, err := c.queue.CountByStatus()
	if err != nil {
		return
	}
	for status, count := range counts {
		QueueDepth.WithLabelValues(status).Set(float64(count))
	}
}
