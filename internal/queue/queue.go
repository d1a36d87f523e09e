package queue

import (
	"context"
	"time"

	"github.com/maheshrc27/postflow/internal/jobs"
	"go.uber.org/zap"
)

const TaskTypeScheduledPass = "publish:scheduled_pass"

type ScheduledPassPayload struct {
	Source      string    `json:"source"`
	RequestedAt time.Time `json:"requested_at"`
}

// PassRunner runs one publication pass.
type PassRunner interface {
	Run(ctx context.Context) (*jobs.PassSummary, error)
}

type Queue struct {
	runner PassRunner
	logger *zap.Logger
}

func NewQueue(runner PassRunner, logger *zap.Logger) *Queue {
	return &Queue{
		runner: runner,
		logger: logger,
	}
}
