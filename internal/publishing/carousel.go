package publishing

import (
	"context"
	"fmt"
	"sort"

	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/threads"
	"github.com/maheshrc27/postflow/internal/validation"
	"go.uber.org/zap"
)

type CarouselStrategy struct {
	containerFlow
}

func NewCarouselStrategy(publisher threads.Publisher, validator *validation.ContentValidator, cfg Config, logger *zap.Logger) *CarouselStrategy {
	return &CarouselStrategy{newContainerFlow(publisher, validator, cfg, logger)}
}

func (s *CarouselStrategy) Type() models.ContentType {
	return models.ContentTypeCarousel
}

func (s *CarouselStrategy) CanHandle(post *models.Post) bool {
	return post.ContentType == models.ContentTypeCarousel
}

func (s *CarouselStrategy) Validate(ctx context.Context, pc *PublishContext) validation.Errors {
	return s.validate(ctx, pc)
}

// Publish creates one item container per media entry in order, then the
// carousel container referencing them, then publishes it.
func (s *CarouselStrategy) Publish(ctx context.Context, pc *PublishContext) (*PublishResult, error) {
	if n := len(pc.Media); n < validation.MinCarouselItems || n > validation.MaxCarouselItems {
		return nil, fmt.Errorf("CAROUSEL posts require between %d and %d media items, got %d",
			validation.MinCarouselItems, validation.MaxCarouselItems, n)
	}

	media := make([]*models.Media, len(pc.Media))
	copy(media, pc.Media)
	sort.SliceStable(media, func(i, j int) bool {
		return media[i].OrderIndex < media[j].OrderIndex
	})

	parentPoll := s.cfg.ImagePoll
	children := make([]string, 0, len(media))
	for i, item := range media {
		params := threads.ContainerParams{
			IsCarouselItem: true,
			AltText:        item.AltText,
		}
		poll := s.cfg.ImagePoll
		switch validation.MediaTypeOf(item) {
		case models.MediaTypeVideo:
			params.MediaType = threads.MediaTypeVideo
			params.VideoURL = item.URL
			poll = s.cfg.VideoPoll
			parentPoll = s.cfg.VideoPoll
		case models.MediaTypeImage:
			params.MediaType = threads.MediaTypeImage
			params.ImageURL = item.URL
		default:
			return nil, fmt.Errorf("carousel item %d is neither an image nor a video", i)
		}

		id, err := s.create(ctx, pc, params, poll)
		if err != nil {
			return nil, fmt.Errorf("carousel item %d: %w", i, err)
		}
		children = append(children, id)
	}

	s.logger.Debug("created carousel items",
		zap.Int64("post_id", pc.Post.ID),
		zap.Strings("containers", children))

	params := baseParams(pc, threads.MediaTypeCarousel)
	params.Children = children

	containerID, err := s.create(ctx, pc, params, parentPoll)
	if err != nil {
		return nil, err
	}
	return s.publish(ctx, pc, containerID)
}
