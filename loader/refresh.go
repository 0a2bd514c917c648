package loader

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/ortelius/advisory-index/index"
	"github.com/ortelius/advisory-index/metrics"
	"github.com/ortelius/advisory-index/model"
	"go.uber.org/zap"
)

// DefaultMaxRetries is how many times a failing load is retried before the
// refresh gives up and the previous generation keeps serving.
const DefaultMaxRetries = 3

// Refresher loads the full record set from a Source, builds a new index and
// publishes it. Refreshes are serialized by the holder.
type Refresher struct {
	source     Source
	holder     *index.Holder
	logger     *zap.Logger
	metrics    *metrics.Metrics
	interval   time.Duration
	maxRetries uint64
	newBackOff func() backoff.BackOff
}

// NewRefresher wires a source to the holder. m may be nil. An interval of
// zero disables periodic refresh in Run.
func NewRefresher(source Source, holder *index.Holder, logger *zap.Logger, m *metrics.Metrics, interval time.Duration) *Refresher {
	return &Refresher{
		source:     source,
		holder:     holder,
		logger:     logger,
		metrics:    m,
		interval:   interval,
		maxRetries: DefaultMaxRetries,
		newBackOff: func() backoff.BackOff {
			bo := backoff.NewExponentialBackOff()
			bo.InitialInterval = 2 * time.Second
			bo.MaxInterval = 30 * time.Second
			bo.MaxElapsedTime = 0
			return bo
		},
	}
}

// Refresh performs one load-build-publish cycle. When loading fails after
// retries the error is returned and the serving generation is left in place.
func (r *Refresher) Refresh(ctx context.Context) (*index.ModuleIndex, error) {
	start := time.Now()

	bo := backoff.WithContext(backoff.WithMaxRetries(r.newBackOff(), r.maxRetries), ctx)

	var records []*model.Advisory
	err := backoff.RetryNotify(func() error {
		loaded, err := r.source.Load(ctx)
		if err != nil {
			return err
		}
		records = loaded
		return nil
	}, bo, func(err error, wait time.Duration) {
		r.logger.Warn("Retrying advisory load", zap.String("source", r.source.Name()), zap.Duration("wait", wait), zap.Error(err))
	})
	if err == nil {
		err = ctx.Err()
	}

	if err != nil {
		r.metrics.ObserveRefresh(r.source.Name(), time.Since(start).Seconds(), err, 0)
		r.logger.Error("Advisory refresh failed, keeping current index",
			zap.String("source", r.source.Name()),
			zap.Uint64("generation", r.holder.Load().Generation()),
			zap.Error(err))
		return nil, fmt.Errorf("loading advisories from %s: %w", r.source.Name(), err)
	}

	idx, warnings := index.Build(records)
	for _, w := range warnings {
		r.logger.Warn("Advisory data-quality warning",
			zap.String("kind", string(w.Kind)),
			zap.String("id", w.ID),
			zap.String("module", w.Module),
			zap.String("detail", w.Message))
	}

	r.holder.Publish(idx)

	counts := make(map[string]int)
	for _, w := range warnings {
		counts[string(w.Kind)]++
	}
	r.metrics.SetIndex(metrics.IndexStats{
		Generation: idx.Generation(),
		Records:    idx.Len(),
		Modules:    len(idx.Modules()),
		Warnings:   counts,
	})
	finished := time.Now()
	r.metrics.ObserveRefresh(r.source.Name(), finished.Sub(start).Seconds(), nil, float64(finished.Unix()))

	r.logger.Info("Advisory index published",
		zap.String("source", r.source.Name()),
		zap.Uint64("generation", idx.Generation()),
		zap.Int("records", idx.Len()),
		zap.Int("warnings", len(warnings)),
		zap.Duration("elapsed", finished.Sub(start)))

	return idx, nil
}

// Run refreshes on every tick until ctx is cancelled. Failed refreshes are
// logged and the next tick tries again.
func (r *Refresher) Run(ctx context.Context) {
	if r.interval <= 0 {
		return
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = r.Refresh(ctx)
		}
	}
}
