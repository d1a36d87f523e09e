package publishing

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/cenkalti/backoff/v4"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/threads"
	"github.com/maheshrc27/postflow/internal/validation"
	"go.uber.org/zap"
)

var errContainerNotReady = errors.New("container not ready")

// containerFlow holds the steps shared by every strategy: create a container,
// wait until the platform has processed it, publish it and resolve its link.
type containerFlow struct {
	publisher threads.Publisher
	validator *validation.ContentValidator
	cfg       Config
	logger    *zap.Logger
}

func newContainerFlow(publisher threads.Publisher, validator *validation.ContentValidator, cfg Config, logger *zap.Logger) containerFlow {
	if cfg.WebBaseURL == "" {
		cfg.WebBaseURL = DefaultWebBaseURL
	}
	return containerFlow{
		publisher: publisher,
		validator: validator,
		cfg:       cfg,
		logger:    logger,
	}
}

func (f containerFlow) validate(ctx context.Context, pc *PublishContext) validation.Errors {
	return f.validator.Validate(ctx, pc.Post, pc.Media, pc.urlOptions())
}

// create makes a container and blocks until it is ready to publish.
func (f containerFlow) create(ctx context.Context, pc *PublishContext, params threads.ContainerParams, poll PollPolicy) (string, error) {
	id, err := f.publisher.CreateContainer(ctx, pc.AccessToken, pc.Account.AccountID, params)
	if err != nil {
		return "", err
	}
	if err := f.waitForContainer(ctx, pc.AccessToken, id, poll); err != nil {
		return "", err
	}
	return id, nil
}

// waitForContainer polls the container status with exponential backoff until
// it is FINISHED, fails permanently, or poll.MaxWait elapses.
func (f containerFlow) waitForContainer(ctx context.Context, token, containerID string, poll PollPolicy) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = poll.InitialInterval
	b.MaxInterval = poll.MaxInterval
	b.MaxElapsedTime = poll.MaxWait
	b.Reset()

	attempts := 0
	op := func() error {
		attempts++
		status, err := f.publisher.GetContainerStatus(ctx, token, containerID)
		if err != nil {
			if isPermanentAPIError(err) {
				return backoff.Permanent(err)
			}
			return err
		}

		switch status.Status {
		case threads.StatusFinished, threads.StatusPublished:
			return nil
		case threads.StatusError, threads.StatusExpired:
			msg := status.ErrorMessage
			if msg == "" {
				msg = strings.ToLower(string(status.Status))
			}
			return backoff.Permanent(fmt.Errorf("%w: container %s: %s", ErrContainerFailed, containerID, msg))
		}
		return errContainerNotReady
	}

	err := backoff.Retry(op, backoff.WithContext(b, ctx))
	if err == nil {
		f.logger.Debug("container ready", zap.String("container_id", containerID), zap.Int("attempts", attempts))
		return nil
	}
	if errors.Is(err, errContainerNotReady) {
		return fmt.Errorf("%w: container %s not ready after %s", ErrContainerFailed, containerID, poll.MaxWait)
	}
	return err
}

func isPermanentAPIError(err error) bool {
	var apiErr *threads.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return !apiErr.IsTransient && apiErr.StatusCode < http.StatusInternalServerError &&
		apiErr.StatusCode != http.StatusTooManyRequests
}

// publish publishes a ready container and resolves the post's link.
func (f containerFlow) publish(ctx context.Context, pc *PublishContext, containerID string) (*PublishResult, error) {
	postID, err := f.publisher.PublishContainer(ctx, pc.AccessToken, pc.Account.AccountID, containerID)
	if err != nil {
		return nil, err
	}
	return &PublishResult{
		PlatformPostID:  postID,
		PlatformPostURL: f.permalink(ctx, pc, postID),
	}, nil
}

// permalink never fails: when the platform cannot return a link one is built
// from the account's username.
func (f containerFlow) permalink(ctx context.Context, pc *PublishContext, postID string) string {
	link, err := f.publisher.GetPostPermalink(ctx, pc.AccessToken, postID)
	if err == nil && link != "" {
		return link
	}

	f.logger.Warn("falling back to constructed permalink",
		zap.Int64("post_id", pc.Post.ID),
		zap.String("platform_post_id", postID),
		zap.Error(err))

	base := strings.TrimRight(f.cfg.WebBaseURL, "/")
	if pc.Account.AccountUsername == "" {
		return fmt.Sprintf("%s/post/%s", base, postID)
	}
	return fmt.Sprintf("%s/@%s/post/%s", base, pc.Account.AccountUsername, postID)
}

// baseParams returns container params carrying the post's reply target and
// its recognised platform options.
func baseParams(pc *PublishContext, mediaType threads.MediaType) threads.ContainerParams {
	params := threads.ContainerParams{
		MediaType: mediaType,
		Text:      pc.Post.Content,
		ReplyToID: pc.ReplyToID,
	}
	params.ApplyOptions(pc.Post.Metadata.ThreadsOptions())
	return params
}

// singleMedia returns the one media item of the wanted type.
func singleMedia(media []*models.Media, want models.MediaType) (*models.Media, error) {
	kind := strings.ToLower(string(want))
	if len(media) == 0 {
		return nil, fmt.Errorf("missing %s media: %s posts require exactly one %s attachment", kind, want, kind)
	}
	if len(media) > 1 {
		return nil, fmt.Errorf("%s posts require exactly one media item, got %d", want, len(media))
	}
	if got := validation.MediaTypeOf(media[0]); got != want {
		return nil, fmt.Errorf("missing %s media: attachment is classified as %s", kind, got)
	}
	return media[0], nil
}
