package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/maltedev/amazon-rank-scraper/internal/locale"
	"github.com/maltedev/amazon-rank-scraper/internal/models"
	"github.com/maltedev/amazon-rank-scraper/internal/queue"
)

// StartWorker processes queued jobs one after another until ctx is done or
// the queue is closed.
func (m *Manager) StartWorker(ctx context.Context) {
	m.logger.Info("job worker started")

	for {
		task, err := m.queue.Pop(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrQueueClosed) || ctx.Err() != nil {
				m.logger.Info("job worker stopping")
				return
			}
			m.logger.Error("failed to take job from queue", "error", err)
			continue
		}

		m.processJob(ctx, task)
	}
}

func (m *Manager) processJob(ctx context.Context, task *queue.Task) {
	logger := m.logger.With("job_id", task.ID, "country", task.Country)
	logger.Info("processing job", "keywords", len(task.Keywords))

	started := time.Now()
	m.update(task.ID, func(job *Job) {
		job.Status = StatusRunning
		job.StartedAt = &started
	})

	result, err := m.runJob(ctx, task)

	completed := time.Now()
	m.update(task.ID, func(job *Job) {
		job.CompletedAt = &completed
		if result != nil {
			job.Result = result
			job.Summary = &result.Summary
		}
		if err != nil {
			job.Status = StatusFailed
			job.Error = err.Error()
			return
		}
		job.Status = StatusCompleted
	})

	if err != nil {
		logger.Error("job failed", "error", err)
		return
	}
	logger.Info("job completed",
		"succeeded", result.Summary.KeywordsSucceeded,
		"failed", result.Summary.KeywordsFailed,
		"duration", completed.Sub(started).Round(time.Second))
}

func (m *Manager) runJob(ctx context.Context, task *queue.Task) (*models.RunResult, error) {
	loc, err := locale.Lookup(task.Country)
	if err != nil {
		return nil, err
	}

	coordinator, err := m.factory(loc, task.MaxProducts, &progressSink{manager: m, jobID: task.ID})
	if err != nil {
		return nil, fmt.Errorf("failed to set up run: %w", err)
	}

	return coordinator.Run(ctx, task.Keywords)
}
