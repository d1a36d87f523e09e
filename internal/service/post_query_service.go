package service

import (
	"context"
	"fmt"
	"time"

	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/repository"
	"go.uber.org/zap"
)

type PostQueryService interface {
	// FindDueForPublishing returns posts due at or before before, earliest
	// first, with media, pinned account and publications loaded.
	FindDueForPublishing(ctx context.Context, before time.Time) ([]*models.Post, error)
	// BatchLoadParentPosts loads the given parents with their publications in
	// one query per table.
	BatchLoadParentPosts(ctx context.Context, parentIDs []int64) (map[int64]*models.Post, error)
	// FindMissedPosts returns SCHEDULED posts overdue by more than the grace
	// period at now.
	FindMissedPosts(ctx context.Context, now time.Time) ([]*models.Post, error)
	// FindStuckPublishing returns PUBLISHING posts last updated before
	// updatedBefore, with publications loaded.
	FindStuckPublishing(ctx context.Context, updatedBefore time.Time) ([]*models.Post, error)
}

type QueryOptions struct {
	IncludeRetryableFailed bool
	MaxRetryCount          int
	BatchSize              int
	MissedGracePeriod      time.Duration
}

type postQueryService struct {
	store  repository.Store
	links  MediaLinker
	opts   QueryOptions
	logger *zap.Logger
}

// NewPostQueryService returns the query service. links may be nil when media
// is always stored with a public URL.
func NewPostQueryService(store repository.Store, links MediaLinker, opts QueryOptions, logger *zap.Logger) PostQueryService {
	return &postQueryService{
		store:  store,
		links:  links,
		opts:   opts,
		logger: logger,
	}
}

func (s *postQueryService) FindDueForPublishing(ctx context.Context, before time.Time) ([]*models.Post, error) {
	posts, err := s.store.Posts().FindDueForPublishing(ctx, before, repository.DueQuery{
		IncludeRetryableFailed: s.opts.IncludeRetryableFailed,
		MaxRetryCount:          s.opts.MaxRetryCount,
		Limit:                  s.opts.BatchSize,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to find due posts: %w", err)
	}
	if len(posts) == 0 {
		return posts, nil
	}

	ids := make([]int64, 0, len(posts))
	var accountIDs []int64
	for _, p := range posts {
		ids = append(ids, p.ID)
		if p.SocialAccountID != nil {
			accountIDs = append(accountIDs, *p.SocialAccountID)
		}
	}

	media, err := s.store.Media().ListByPostIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load media of due posts: %w", err)
	}
	publications, err := s.store.Publications().ListByPostIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load publications of due posts: %w", err)
	}
	accounts := map[int64]*models.SocialAccount{}
	if len(accountIDs) > 0 {
		accounts, err = s.store.SocialAccounts().ListByIDs(ctx, uniqueIDs(accountIDs))
		if err != nil {
			return nil, fmt.Errorf("failed to load accounts of due posts: %w", err)
		}
	}

	for _, p := range posts {
		p.Media = s.resolveMedia(ctx, p.ID, media[p.ID])
		p.Publications = publications[p.ID]
		if p.SocialAccountID != nil {
			p.SocialAccount = accounts[*p.SocialAccountID]
		}
	}
	return posts, nil
}

func (s *postQueryService) BatchLoadParentPosts(ctx context.Context, parentIDs []int64) (map[int64]*models.Post, error) {
	parents := make(map[int64]*models.Post)
	ids := uniqueIDs(parentIDs)
	if len(ids) == 0 {
		return parents, nil
	}

	posts, err := s.store.Posts().FindByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load parent posts: %w", err)
	}
	publications, err := s.store.Publications().ListByPostIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load parent publications: %w", err)
	}
	for _, p := range posts {
		p.Publications = publications[p.ID]
		parents[p.ID] = p
	}
	return parents, nil
}

func (s *postQueryService) FindMissedPosts(ctx context.Context, now time.Time) ([]*models.Post, error) {
	posts, err := s.store.Posts().FindMissed(ctx, now.Add(-s.opts.MissedGracePeriod))
	if err != nil {
		return nil, fmt.Errorf("failed to find missed posts: %w", err)
	}
	return posts, nil
}

func (s *postQueryService) FindStuckPublishing(ctx context.Context, updatedBefore time.Time) ([]*models.Post, error) {
	posts, err := s.store.Posts().FindStuckPublishing(ctx, updatedBefore)
	if err != nil {
		return nil, fmt.Errorf("failed to find stuck posts: %w", err)
	}
	if len(posts) == 0 {
		return posts, nil
	}

	ids := make([]int64, 0, len(posts))
	for _, p := range posts {
		ids = append(ids, p.ID)
	}
	publications, err := s.store.Publications().ListByPostIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load publications of stuck posts: %w", err)
	}
	for _, p := range posts {
		p.Publications = publications[p.ID]
	}
	return posts, nil
}

// resolveMedia fills in URLs of media stored only by object key. Items that
// cannot be linked keep an empty URL and fail validation later.
func (s *postQueryService) resolveMedia(ctx context.Context, postID int64, media []*models.Media) []*models.Media {
	if s.links == nil {
		return media
	}
	for _, m := range media {
		if m.URL != "" || m.StorageKey == "" {
			continue
		}
		link, err := s.links.PresignGetURL(ctx, m.StorageKey)
		if err != nil {
			s.logger.Warn("failed to link stored media",
				zap.Int64("post_id", postID),
				zap.Int64("media_id", m.ID),
				zap.Error(err))
			continue
		}
		m.URL = link
	}
	return media
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
