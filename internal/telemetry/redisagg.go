package telemetry

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"renderfleet/internal/pkg/logger"
)

const keyPrefix = "renderfleet:gpu:"

// Reporter publishes one worker's local utilization sample under a
// TTL'd key. A crashed worker's sample ages out on its own.
type Reporter struct {
	rdb      *redis.Client
	workerID string
	local    Provider
	interval time.Duration
	log      *logger.Logger
}

func NewReporter(rdb *redis.Client, workerID string, local Provider, interval time.Duration, log *logger.Logger) *Reporter {
	if log == nil {
		log = logger.NewDefault()
	}
	return &Reporter{
		rdb:      rdb,
		workerID: workerID,
		local:    local,
		interval: interval,
		log:      log.WithComponent("telemetry-reporter").WithWorkerID(workerID),
	}
}

// Run samples and publishes until ctx is canceled. Sampling failures
// are logged and skipped; the loop never dies.
func (r *Reporter) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		util, err := r.local.Utilization(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.log.Warn("gpu sample failed", "error", err.Error())
			continue
		}

		// three missed reports and the sample disappears from the average
		ttl := 3 * r.interval
		key := keyPrefix + r.workerID
		if err := r.rdb.Set(ctx, key, strconv.FormatFloat(util, 'f', 1, 64), ttl).Err(); err != nil {
			r.log.Warn("gpu sample publish failed", "error", err.Error())
		}
	}
}

// FleetAverage aggregates the published samples of all live workers.
// It implements Provider for the autoscaler.
type FleetAverage struct {
	rdb *redis.Client
}

func NewFleetAverage(rdb *redis.Client) *FleetAverage {
	return &FleetAverage{rdb: rdb}
}

func (f *FleetAverage) Utilization(ctx context.Context) (float64, error) {
	var sum float64
	var count int

	iter := f.rdb.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		raw, err := f.rdb.Get(ctx, iter.Val()).Result()
		if err != nil {
			// key expired between scan and get
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			continue
		}
		sum += v
		count++
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("telemetry: scan samples: %w", err)
	}

	if count == 0 {
		return 0, nil
	}
	return sum / float64(count), nil
}
