package service

import (
	"context"
	"time"

	"github.com/fluxorio/mstflow/pkg/core"
	"github.com/fluxorio/mstflow/pkg/core/concurrency"
)

// LogTasks logs every task at debug level with its outcome and duration
func LogTasks(logger core.Logger) concurrency.Middleware {
	return func(next concurrency.Handler) concurrency.Handler {
		return func(ctx context.Context, t concurrency.Task) error {
			start := time.Now()
			err := next(ctx, t)

			log := logger.WithContext(core.WithConnID(ctx, t.ConnID())).WithFields(core.Fields{
				"task":     t.ID,
				"op":       t.Op.String(),
				"worker":   concurrency.WorkerFrom(ctx),
				"forward":  t.Forwarded,
				"duration": time.Since(start).String(),
			})
			if err != nil {
				log.Debugf("task failed: %v", err)
			} else {
				log.Debug("task done")
			}
			return err
		}
	}
}
