package service

import (
	"context"
	"time"

	"github.com/dtroode/refreshguard/internal/logger"
	"github.com/dtroode/refreshguard/internal/metrics"
	"github.com/dtroode/refreshguard/internal/model"
)

// Cleaner periodically removes expired refresh-token records.
type Cleaner struct {
	store    model.TokenStore
	interval time.Duration
	logger   *logger.Logger
}

func NewCleaner(store model.TokenStore, interval time.Duration, logger *logger.Logger) *Cleaner {
	return &Cleaner{store: store, interval: interval, logger: logger}
}

// Run sweeps the store every interval until ctx is done.
func (c *Cleaner) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_, _ = c.RunOnce(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// RunOnce performs a single sweep.
func (c *Cleaner) RunOnce(ctx context.Context) (int, error) {
	removed, err := c.store.CleanupExpired(ctx)
	if err != nil {
		c.logger.Error("Cleaner: failed to remove expired refresh tokens",
			"error", err.Error())
		return 0, err
	}

	metrics.CleanupRemoved.Add(float64(removed))
	if removed > 0 {
		c.logger.Info("Cleaner: expired refresh tokens removed",
			"count", removed)
	}
	return removed, nil
}
