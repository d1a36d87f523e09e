package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/maheshrc27/postflow/internal/jobs"
)

// EnqueuePass queues a pass. At most one pass task exists per uniqueFor
// window; a duplicate reports jobs.ErrPassInProgress.
func EnqueuePass(asynqClient *asynq.Client, payload ScheduledPassPayload, uniqueFor, timeout time.Duration) error {
	taskPayload, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	task := asynq.NewTask(TaskTypeScheduledPass, taskPayload)

	_, err = asynqClient.Enqueue(task,
		asynq.Unique(uniqueFor),
		asynq.MaxRetry(0),
		asynq.Timeout(timeout))
	if errors.Is(err, asynq.ErrDuplicateTask) {
		return jobs.ErrPassInProgress
	}
	if err != nil {
		return fmt.Errorf("failed to enqueue pass: %w", err)
	}
	return nil
}

// EnqueueTrigger returns a Trigger that hands passes to the worker instead of
// running them in the scheduler's goroutine.
func EnqueueTrigger(asynqClient *asynq.Client, source string, uniqueFor, timeout time.Duration) jobs.Trigger {
	return func(ctx context.Context) error {
		return EnqueuePass(asynqClient, ScheduledPassPayload{
			Source:      source,
			RequestedAt: time.Now().UTC(),
		}, uniqueFor, timeout)
	}
}
