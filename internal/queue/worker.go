package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/maheshrc27/postflow/internal/jobs"
	"go.uber.org/zap"
)

func (q *Queue) HandleScheduledPassTask(ctx context.Context, task *asynq.Task) error {
	var payload ScheduledPassPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("invalid pass payload: %v: %w", err, asynq.SkipRetry)
	}

	summary, err := q.runner.Run(ctx)
	if errors.Is(err, jobs.ErrPassInProgress) {
		q.logger.Info("pass already running, dropping task", zap.String("source", payload.Source))
		return nil
	}
	if err != nil {
		return err
	}

	q.logger.Info("queued pass finished",
		zap.String("source", payload.Source),
		zap.String("run_id", summary.RunID),
		zap.Int("processed", summary.Processed),
		zap.Int("failed", summary.Failed))
	return nil
}

func (q *Queue) ServeMux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskTypeScheduledPass, q.HandleScheduledPassTask)
	return mux
}
