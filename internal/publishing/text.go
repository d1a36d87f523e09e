package publishing

import (
	"context"

	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/threads"
	"github.com/maheshrc27/postflow/internal/validation"
	"go.uber.org/zap"
)

type TextStrategy struct {
	containerFlow
}

func NewTextStrategy(publisher threads.Publisher, validator *validation.ContentValidator, cfg Config, logger *zap.Logger) *TextStrategy {
	return &TextStrategy{newContainerFlow(publisher, validator, cfg, logger)}
}

func (s *TextStrategy) Type() models.ContentType {
	return models.ContentTypeText
}

func (s *TextStrategy) CanHandle(post *models.Post) bool {
	return post.ContentType == models.ContentTypeText
}

func (s *TextStrategy) Validate(ctx context.Context, pc *PublishContext) validation.Errors {
	return s.validate(ctx, pc)
}

func (s *TextStrategy) Publish(ctx context.Context, pc *PublishContext) (*PublishResult, error) {
	params := baseParams(pc, threads.MediaTypeText)

	containerID, err := s.create(ctx, pc, params, s.cfg.TextPoll)
	if err != nil {
		return nil, err
	}
	return s.publish(ctx, pc, containerID)
}
