package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/maheshrc27/postflow/internal/jobs"
	"github.com/maheshrc27/postflow/internal/queue"
	"github.com/maheshrc27/postflow/internal/service"
	"github.com/maheshrc27/postflow/internal/transfer"
	"go.uber.org/zap"
)

type JobHandler struct {
	runner      queue.PassRunner
	query       service.PostQueryService
	enqueue     jobs.Trigger
	passTimeout time.Duration
	validate    *validator.Validate
	now         func() time.Time
	logger      *zap.Logger
}

// NewJobHandler returns the pass handler. enqueue may be nil, in which case
// async requests run inline. passTimeout bounds an inline pass and should not
// exceed the pass lock TTL.
func NewJobHandler(runner queue.PassRunner, query service.PostQueryService, enqueue jobs.Trigger, passTimeout time.Duration, clock func() time.Time, logger *zap.Logger) *JobHandler {
	if clock == nil {
		clock = time.Now
	}
	return &JobHandler{
		runner:      runner,
		query:       query,
		enqueue:     enqueue,
		passTimeout: passTimeout,
		validate:    validator.New(),
		now:         clock,
		logger:      logger,
	}
}

func (h *JobHandler) RunScheduledPublish(c *fiber.Ctx) error {
	var req transfer.PassRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Unable to parse json",
			})
		}
	}
	if err := h.validate.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "mode must be sync or async",
		})
	}

	subject := GetJobSubject(c)
	if req.Mode == "async" && h.enqueue != nil {
		err := h.enqueue(c.UserContext())
		if errors.Is(err, jobs.ErrPassInProgress) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
		if err != nil {
			h.logger.Error("failed to enqueue pass", zap.String("subject", subject), zap.Error(err))
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Unable to queue publication pass",
			})
		}
		return c.Status(fiber.StatusAccepted).JSON(transfer.PassQueued{Queued: true, Source: subject})
	}

	// The pass outlives a client that hangs up; claims already taken must
	// reach a final status. It still ends before the pass lock expires.
	ctx := context.WithoutCancel(c.UserContext())
	if h.passTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.passTimeout)
		defer cancel()
	}
	summary, err := h.runner.Run(ctx)
	if errors.Is(err, jobs.ErrPassInProgress) {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	if err != nil {
		h.logger.Error("publication pass failed", zap.String("subject", subject), zap.Error(err))
		body := fiber.Map{"error": err.Error()}
		if summary != nil {
			body["summary"] = summary
		}
		return c.Status(fiber.StatusInternalServerError).JSON(body)
	}

	return c.JSON(summary)
}

func (h *JobHandler) ListMissed(c *fiber.Ctx) error {
	now := h.now()
	posts, err := h.query.FindMissedPosts(c.UserContext(), now)
	if err != nil {
		h.logger.Error("failed to list missed posts", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Unable to list missed posts",
		})
	}

	resp := transfer.MissedPostsResponse{Posts: make([]transfer.MissedPost, 0, len(posts))}
	for _, p := range posts {
		if p.ScheduledAt == nil {
			continue
		}
		resp.Posts = append(resp.Posts, transfer.MissedPost{
			ID:          p.ID,
			UserID:      p.UserID,
			ScheduledAt: *p.ScheduledAt,
			OverdueBy:   now.Sub(*p.ScheduledAt).Truncate(time.Second).String(),
		})
	}
	resp.Count = len(resp.Posts)
	return c.JSON(resp)
}
