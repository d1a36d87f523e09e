package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/maheshrc27/postflow/internal/jobs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubRunner struct {
	calls int
	err   error
}

func (r *stubRunner) Run(ctx context.Context) (*jobs.PassSummary, error) {
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	return &jobs.PassSummary{RunID: "run-1", Success: true}, nil
}

func passTask(t *testing.T) *asynq.Task {
	payload, err := json.Marshal(ScheduledPassPayload{Source: "cron", RequestedAt: time.Now()})
	require.NoError(t, err)
	return asynq.NewTask(TaskTypeScheduledPass, payload)
}

func TestHandleScheduledPassTask_Runs(t *testing.T) {
	runner := &stubRunner{}
	q := NewQueue(runner, zap.NewNop())

	require.NoError(t, q.HandleScheduledPassTask(context.Background(), passTask(t)))
	assert.Equal(t, 1, runner.calls)
}

func TestHandleScheduledPassTask_PassInProgressIsDropped(t *testing.T) {
	runner := &stubRunner{err: jobs.ErrPassInProgress}
	q := NewQueue(runner, zap.NewNop())

	assert.NoError(t, q.HandleScheduledPassTask(context.Background(), passTask(t)))
}

func TestHandleScheduledPassTask_ReturnsPassError(t *testing.T) {
	boom := errors.New("database down")
	q := NewQueue(&stubRunner{err: boom}, zap.NewNop())

	err := q.HandleScheduledPassTask(context.Background(), passTask(t))
	assert.ErrorIs(t, err, boom)
}

func TestHandleScheduledPassTask_BadPayloadSkipsRetry(t *testing.T) {
	runner := &stubRunner{}
	q := NewQueue(runner, zap.NewNop())

	err := q.HandleScheduledPassTask(context.Background(), asynq.NewTask(TaskTypeScheduledPass, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
	assert.Zero(t, runner.calls)
}
