package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/publishing"
	"github.com/maheshrc27/postflow/internal/repository"
	"go.uber.org/zap"
)

var ErrAlreadyClaimed = errors.New("post already claimed")

type PublicationService interface {
	CreatePublicationRecord(ctx context.Context, pub *models.PostPublication) (*models.PostPublication, error)
	MarkPostAsPublished(ctx context.Context, postID int64) error
	MarkPostAsFailed(ctx context.Context, postID int64, errorMessage string, retryCount int) error
	// MarkPostAsPublishing claims the post. It returns ErrAlreadyClaimed when
	// the post is no longer SCHEDULED or FAILED.
	MarkPostAsPublishing(ctx context.Context, postID int64) error
	// RecordSuccess inserts the publication and marks the post PUBLISHED in
	// one transaction.
	RecordSuccess(ctx context.Context, post *models.Post, account *models.SocialAccount, result *publishing.PublishResult) (*models.PostPublication, error)
	// ReconcilePublished marks a post PUBLISHED when a publication for it was
	// already recorded.
	ReconcilePublished(ctx context.Context, post *models.Post) error
	// RefreshClaim bumps the claim of a post still PUBLISHING so the stuck
	// sweep leaves it alone. It returns ErrAlreadyClaimed once the claim is gone.
	RefreshClaim(ctx context.Context, postID int64) error
	// MarkStuckAsFailed fails a PUBLISHING post whose claim was last touched
	// before updatedBefore. It reports false when the post moved on meanwhile.
	MarkStuckAsFailed(ctx context.Context, postID int64, updatedBefore time.Time, errorMessage string, retryCount int) (bool, error)
	// SavePendingPublication stores a platform id the platform accepted but
	// RecordSuccess could not write, without refreshing the claim.
	SavePendingPublication(ctx context.Context, post *models.Post, account *models.SocialAccount, result *publishing.PublishResult) error
	// RecordPending records the publication saved by SavePendingPublication.
	RecordPending(ctx context.Context, post *models.Post) (*models.PostPublication, error)
}

type publicationService struct {
	store  repository.Store
	now    func() time.Time
	logger *zap.Logger
}

// NewPublicationService returns the recorder. A nil clock uses time.Now.
func NewPublicationService(store repository.Store, clock func() time.Time, logger *zap.Logger) PublicationService {
	if clock == nil {
		clock = time.Now
	}
	return &publicationService{store: store, now: clock, logger: logger}
}

func (s *publicationService) with(store repository.Store) *publicationService {
	return &publicationService{store: store, now: s.now, logger: s.logger}
}

func (s *publicationService) CreatePublicationRecord(ctx context.Context, pub *models.PostPublication) (*models.PostPublication, error) {
	id, err := s.store.Publications().Create(ctx, pub)
	if err != nil {
		return nil, fmt.Errorf("failed to create publication for post %d: %w", pub.PostID, err)
	}
	pub.ID = id
	return pub, nil
}

func (s *publicationService) MarkPostAsPublished(ctx context.Context, postID int64) error {
	now := s.now()
	err := s.store.Posts().UpdateStatus(ctx, postID, models.PostStatusPublished, repository.StatusUpdate{
		ClearError:  true,
		PublishedAt: &now,
		UpdatedAt:   now,
	})
	if err != nil {
		return fmt.Errorf("failed to mark post %d as published: %w", postID, err)
	}
	return nil
}

func (s *publicationService) MarkPostAsFailed(ctx context.Context, postID int64, errorMessage string, retryCount int) error {
	now := s.now()
	err := s.store.Posts().UpdateStatus(ctx, postID, models.PostStatusFailed, repository.StatusUpdate{
		ErrorMessage: &errorMessage,
		RetryCount:   &retryCount,
		FailedAt:     &now,
		UpdatedAt:    now,
	})
	if err != nil {
		return fmt.Errorf("failed to mark post %d as failed: %w", postID, err)
	}
	return nil
}

func (s *publicationService) MarkPostAsPublishing(ctx context.Context, postID int64) error {
	ok, err := s.store.Posts().ClaimForPublishing(ctx, postID, s.now())
	if err != nil {
		return fmt.Errorf("failed to claim post %d: %w", postID, err)
	}
	if !ok {
		return fmt.Errorf("%w: post %d", ErrAlreadyClaimed, postID)
	}
	return nil
}

func (s *publicationService) RecordSuccess(ctx context.Context, post *models.Post, account *models.SocialAccount, result *publishing.PublishResult) (*models.PostPublication, error) {
	return s.record(ctx, post, models.PendingPublication{
		PlatformPostID:  result.PlatformPostID,
		PlatformPostURL: result.PlatformPostURL,
		SocialAccountID: account.ID,
		PublishedAt:     s.now(),
	})
}

func (s *publicationService) record(ctx context.Context, post *models.Post, accepted models.PendingPublication) (*models.PostPublication, error) {
	var pub *models.PostPublication
	err := s.store.WithTransaction(ctx, func(tx repository.Store) error {
		txs := s.with(tx)
		publishedAt := accepted.PublishedAt

		created, err := txs.CreatePublicationRecord(ctx, &models.PostPublication{
			PostID:          post.ID,
			SocialAccountID: accepted.SocialAccountID,
			PlatformPostID:  accepted.PlatformPostID,
			PlatformPostURL: accepted.PlatformPostURL,
			Status:          models.PublicationStatusPublished,
			PublishedAt:     &publishedAt,
		})
		if err != nil {
			return err
		}
		if err := txs.MarkPostAsPublished(ctx, post.ID); err != nil {
			return err
		}
		pub = created
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record publication of post %d: %w", post.ID, err)
	}
	return pub, nil
}

func (s *publicationService) ReconcilePublished(ctx context.Context, post *models.Post) error {
	if post.PublishedPlatformPostID() == "" {
		return fmt.Errorf("post %d has no recorded publication", post.ID)
	}
	s.logger.Info("post already has a publication, marking published",
		zap.Int64("post_id", post.ID),
		zap.String("platform_post_id", post.PublishedPlatformPostID()))
	return s.MarkPostAsPublished(ctx, post.ID)
}

func (s *publicationService) RefreshClaim(ctx context.Context, postID int64) error {
	ok, err := s.store.Posts().RefreshClaim(ctx, postID, s.now())
	if err != nil {
		return fmt.Errorf("failed to refresh claim on post %d: %w", postID, err)
	}
	if !ok {
		return fmt.Errorf("%w: post %d is no longer publishing", ErrAlreadyClaimed, postID)
	}
	return nil
}

func (s *publicationService) MarkStuckAsFailed(ctx context.Context, postID int64, updatedBefore time.Time, errorMessage string, retryCount int) (bool, error) {
	now := s.now()
	ok, err := s.store.Posts().FailStuck(ctx, postID, updatedBefore, repository.StatusUpdate{
		ErrorMessage: &errorMessage,
		RetryCount:   &retryCount,
		FailedAt:     &now,
		UpdatedAt:    now,
	})
	if err != nil {
		return false, fmt.Errorf("failed to fail stuck post %d: %w", postID, err)
	}
	return ok, nil
}

func (s *publicationService) SavePendingPublication(ctx context.Context, post *models.Post, account *models.SocialAccount, result *publishing.PublishResult) error {
	err := s.store.Posts().SetPendingPublication(ctx, post.ID, models.PendingPublication{
		PlatformPostID:  result.PlatformPostID,
		PlatformPostURL: result.PlatformPostURL,
		SocialAccountID: account.ID,
		PublishedAt:     s.now(),
	})
	if err != nil {
		return fmt.Errorf("failed to save pending publication of post %d: %w", post.ID, err)
	}
	return nil
}

func (s *publicationService) RecordPending(ctx context.Context, post *models.Post) (*models.PostPublication, error) {
	pending := post.Metadata.PendingPublication()
	if pending == nil {
		return nil, fmt.Errorf("post %d has no pending publication", post.ID)
	}
	s.logger.Info("recording publication accepted by an earlier pass",
		zap.Int64("post_id", post.ID),
		zap.String("platform_post_id", pending.PlatformPostID))
	return s.record(ctx, post, *pending)
}
