package pool

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/probelabs/deepresearch/internal/metrics"
)

const (
	sampleWindow   = 10
	maxSamples     = 50
	adjustCooldown = 30 * time.Second
	hardCeiling    = 8
	slowAvg        = 15 * time.Second
	fastAvg        = 5 * time.Second
	highErrorRate  = 0.10
	lowErrorRate   = 0.05
)

type sample struct {
	duration time.Duration
	success  bool
}

// Controller adapts pool width from observed completion times and error
// rates. Width never exceeds the initially configured value even when the
// hard ceiling would allow it.
type Controller struct {
	logger *zap.Logger

	mu         sync.Mutex
	width      int
	floor      int
	ceiling    int
	samples    []sample
	lastAdjust time.Time
}

func NewController(initialWidth int, logger *zap.Logger) *Controller {
	if initialWidth < 1 {
		initialWidth = 1
	}
	ceiling := hardCeiling
	if initialWidth < ceiling {
		ceiling = initialWidth
	}
	metrics.PoolWidth.Set(float64(initialWidth))
	return &Controller{
		logger:  logger,
		width:   initialWidth,
		floor:   1,
		ceiling: ceiling,
	}
}

// Width returns the current parallelism budget.
func (c *Controller) Width() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.width
}

// Record notes one task completion and possibly adjusts width. Adjustments
// are rate-limited to one per cooldown period.
func (c *Controller) Record(d time.Duration, success bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.samples = append(c.samples, sample{duration: d, success: success})
	if len(c.samples) > maxSamples {
		c.samples = c.samples[len(c.samples)-maxSamples:]
	}
	if len(c.samples) < sampleWindow {
		return
	}
	if time.Since(c.lastAdjust) < adjustCooldown {
		return
	}

	window := c.samples[len(c.samples)-sampleWindow:]
	var total time.Duration
	failures := 0
	for _, s := range window {
		total += s.duration
		if !s.success {
			failures++
		}
	}
	avg := total / sampleWindow
	errRate := float64(failures) / sampleWindow

	switch {
	case errRate > highErrorRate || avg > slowAvg:
		if c.width > c.floor {
			c.width--
			c.lastAdjust = time.Now()
			metrics.PoolWidth.Set(float64(c.width))
			metrics.PoolAdjustments.WithLabelValues("down").Inc()
			c.logger.Info("Pool width decreased",
				zap.Int("width", c.width),
				zap.Duration("avg_duration", avg),
				zap.Float64("error_rate", errRate))
		}
	case avg < fastAvg && errRate < lowErrorRate:
		if c.width < c.ceiling {
			c.width++
			c.lastAdjust = time.Now()
			metrics.PoolWidth.Set(float64(c.width))
			metrics.PoolAdjustments.WithLabelValues("up").Inc()
			c.logger.Info("Pool width increased",
				zap.Int("width", c.width),
				zap.Duration("avg_duration", avg),
				zap.Float64("error_rate", errRate))
		}
	}
}
