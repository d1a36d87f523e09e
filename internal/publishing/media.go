package publishing

import (
	"context"

	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/threads"
	"github.com/maheshrc27/postflow/internal/validation"
	"go.uber.org/zap"
)

// MediaStrategy publishes a post carrying exactly one image or one video.
type MediaStrategy struct {
	containerFlow
	contentType models.ContentType
	mediaType   models.MediaType
	poll        PollPolicy
}

func NewImageStrategy(publisher threads.Publisher, validator *validation.ContentValidator, cfg Config, logger *zap.Logger) *MediaStrategy {
	return &MediaStrategy{
		containerFlow: newContainerFlow(publisher, validator, cfg, logger),
		contentType:   models.ContentTypeImage,
		mediaType:     models.MediaTypeImage,
		poll:          cfg.ImagePoll,
	}
}

func NewVideoStrategy(publisher threads.Publisher, validator *validation.ContentValidator, cfg Config, logger *zap.Logger) *MediaStrategy {
	return &MediaStrategy{
		containerFlow: newContainerFlow(publisher, validator, cfg, logger),
		contentType:   models.ContentTypeVideo,
		mediaType:     models.MediaTypeVideo,
		poll:          cfg.VideoPoll,
	}
}

func (s *MediaStrategy) Type() models.ContentType {
	return s.contentType
}

func (s *MediaStrategy) CanHandle(post *models.Post) bool {
	return post.ContentType == s.contentType
}

func (s *MediaStrategy) Validate(ctx context.Context, pc *PublishContext) validation.Errors {
	return s.validate(ctx, pc)
}

func (s *MediaStrategy) Publish(ctx context.Context, pc *PublishContext) (*PublishResult, error) {
	item, err := singleMedia(pc.Media, s.mediaType)
	if err != nil {
		return nil, err
	}

	params := baseParams(pc, threads.MediaType(s.mediaType))
	params.AltText = item.AltText
	if s.mediaType == models.MediaTypeVideo {
		params.VideoURL = item.URL
	} else {
		params.ImageURL = item.URL
	}

	containerID, err := s.create(ctx, pc, params, s.poll)
	if err != nil {
		return nil, err
	}
	return s.publish(ctx, pc, containerID)
}
