package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/repository"
	"github.com/maheshrc27/postflow/internal/validation"
)

var ErrNoActiveAccount = errors.New("no active social account")

// AccountValidation is the outcome of resolving where and how a post is
// published.
type AccountValidation struct {
	Valid   bool
	Account *models.SocialAccount
	// ReplyToID is the platform id of the published parent for child posts.
	ReplyToID string
	Reason    string
}

// Err returns nil for a valid result and an error wrapping the reason
// otherwise.
func (v *AccountValidation) Err() error {
	if v.Valid {
		return nil
	}
	if v.Account == nil {
		return fmt.Errorf("%w: %s", ErrNoActiveAccount, v.Reason)
	}
	return errors.New(v.Reason)
}

type PostValidatorService interface {
	ValidateSocialAccount(ctx context.Context, post, parent *models.Post) (*AccountValidation, error)
	ValidateContent(ctx context.Context, post *models.Post) validation.Errors
}

type postValidatorService struct {
	accounts    repository.SocialAccountRepository
	content     *validation.ContentValidator
	ownHostname string
}

func NewPostValidatorService(accounts repository.SocialAccountRepository, content *validation.ContentValidator, ownHostname string) PostValidatorService {
	return &postValidatorService{
		accounts:    accounts,
		content:     content,
		ownHostname: ownHostname,
	}
}

// ValidateSocialAccount prefers the post's pinned account while it is ACTIVE
// and falls back to the owner's first ACTIVE account on the platform. For a
// child post parent must be the loaded parent post.
func (s *postValidatorService) ValidateSocialAccount(ctx context.Context, post, parent *models.Post) (*AccountValidation, error) {
	account, err := s.resolveAccount(ctx, post)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return &AccountValidation{
			Reason: fmt.Sprintf("user %d has no active %s account", post.UserID, models.PlatformThreads),
		}, nil
	}

	result := &AccountValidation{Valid: true, Account: account}
	if !post.IsChild() {
		return result, nil
	}

	if parent == nil || parent.ID != *post.ParentPostID {
		result.Valid = false
		result.Reason = fmt.Sprintf("parent post %d is not loaded", *post.ParentPostID)
		return result, nil
	}
	replyTo := parent.PublishedPlatformPostID()
	if parent.Status != models.PostStatusPublished || replyTo == "" {
		result.Valid = false
		result.Reason = fmt.Sprintf("parent post %d has no published platform post", parent.ID)
		return result, nil
	}
	result.ReplyToID = replyTo
	return result, nil
}

func (s *postValidatorService) resolveAccount(ctx context.Context, post *models.Post) (*models.SocialAccount, error) {
	if post.SocialAccountID != nil {
		pinned := post.SocialAccount
		if pinned == nil || pinned.ID != *post.SocialAccountID {
			var err error
			pinned, err = s.accounts.GetByID(ctx, *post.SocialAccountID)
			if err != nil {
				return nil, fmt.Errorf("failed to load social account %d: %w", *post.SocialAccountID, err)
			}
		}
		if pinned.IsActive() && pinned.Platform == models.PlatformThreads {
			return pinned, nil
		}
	}

	accounts, err := s.accounts.FindByUserIDAndPlatform(ctx, post.UserID, models.PlatformThreads)
	if err != nil {
		return nil, fmt.Errorf("failed to list social accounts of user %d: %w", post.UserID, err)
	}
	for _, a := range accounts {
		if a.IsActive() {
			return a, nil
		}
	}
	return nil, nil
}

// ValidateContent checks the post against its loaded media.
func (s *postValidatorService) ValidateContent(ctx context.Context, post *models.Post) validation.Errors {
	return s.content.Validate(ctx, post, post.Media, validation.URLOptions{
		AllowOwnHost: s.ownHostname != "",
		OwnHostname:  s.ownHostname,
	})
}
