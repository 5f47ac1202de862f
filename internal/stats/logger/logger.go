// Package logger is a stats.Collector that writes every sample to zap at
// debug level. Handy for the CLI, where nothing scrapes /metrics.
package logger

import (
	"go.uber.org/zap"

	"github.com/randomtoy/chess-arena/internal/stats"
)

type Collector struct {
	log *zap.Logger
}

var _ stats.Collector = (*Collector)(nil)

func New(log *zap.Logger) *Collector {
	if log == nil {
		log = zap.NewNop()
	}
	return &Collector{log: log.Named("stats")}
}

func (c *Collector) IncCounter(name string, delta int64) {
	c.log.Debug("counter", zap.String("metric", name), zap.Int64("delta", delta))
}

func (c *Collector) AddGauge(name string, delta int64) {
	c.log.Debug("gauge", zap.String("metric", name), zap.Int64("delta", delta))
}

func (c *Collector) ObserveHistogram(name string, value float64) {
	c.log.Debug("histogram", zap.String("metric", name), zap.Float64("value", value))
}
