package worker

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"mailprobe/internal/config"
	"mailprobe/internal/models"
	"mailprobe/internal/queue"
	"mailprobe/internal/store"
	"mailprobe/internal/validator"
)

// Runner consumes verification tasks from the queue and persists their
// results. One Runner per process; it handles one task at a time and
// the coordinator registry routes each task to its domain's coordinator.
type Runner struct {
	cfg      *config.Config
	registry *validator.Registry
	log      *logrus.Entry
}

func NewRunner(cfg *config.Config, registry *validator.Registry) *Runner {
	return &Runner{
		cfg:      cfg,
		registry: registry,
		log:      logrus.WithField("component", "worker"),
	}
}

// Start blocks on the queue until ctx is cancelled.
func (r *Runner) Start(ctx context.Context) {
	r.log.Info("worker started, waiting for tasks")

	for {
		if ctx.Err() != nil {
			return
		}

		task, err := queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.log.WithError(err).Error("dequeue failed")
			time.Sleep(time.Second)
			continue
		}

		r.process(ctx, task)
	}
}

func (r *Runner) process(ctx context.Context, task queue.Task) {
	verifyCtx, cancel := context.WithTimeout(ctx, r.cfg.PipelineTimeout)
	result, err := r.registry.Verify(verifyCtx, task.Email)
	cancel()

	if err != nil {
		// Admission rejections go back on the queue; the gate will have
		// drained by the time the task comes around again.
		if err == models.ErrTooManyVerifications {
			r.log.WithField("email", task.Email).Debug("admission rejected, requeueing")
			time.Sleep(250 * time.Millisecond)
			if qerr := queue.Enqueue(ctx, task); qerr != nil {
				r.log.WithError(qerr).WithField("email", task.Email).Error("requeue failed")
			}
			return
		}
		r.log.WithError(err).WithField("email", task.Email).Error("verification failed")
		return
	}

	if err := r.save(ctx, task.JobID, result); err != nil {
		r.log.WithError(err).WithField("email", task.Email).Error("persisting result failed")
		return
	}

	r.log.WithFields(logrus.Fields{
		"email":  result.Email,
		"status": result.Status,
		"score":  result.Score,
	}).Info("task processed")
}

func (r *Runner) save(ctx context.Context, jobID string, result *models.VerificationResult) error {
	tx, err := store.DB.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := store.UpsertResult(ctx, tx, jobID, result); err != nil {
		return err
	}
	if jobID != "" {
		if err := store.AdvanceJob(ctx, tx, jobID); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}
