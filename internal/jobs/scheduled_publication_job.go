package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/publishing"
	"github.com/maheshrc27/postflow/internal/service"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"go.uber.org/zap"
)

var ErrPassInProgress = errors.New("a publication pass is already running")

const maxRetryMessage = "maximum retry count exceeded"

// PassLocker guards a pass across processes. TryLock reports false when
// another holder owns the lock.
type PassLocker interface {
	TryLock(ctx context.Context) (unlock func(context.Context) error, ok bool, err error)
}

// TokenDecrypter opens the access tokens stored on social accounts.
type TokenDecrypter interface {
	Decrypt(encrypted string) (string, error)
}

type Options struct {
	MaxRetryCount          int
	StuckPublishingTimeout time.Duration
	// ClaimRefreshInterval is how often a claim is refreshed while the post
	// publishes. Zero defaults to a third of StuckPublishingTimeout.
	ClaimRefreshInterval time.Duration
	// RecordRetryWait bounds the retries of a failed RecordSuccess. Zero
	// means a single attempt.
	RecordRetryWait time.Duration
	OwnHostname     string
}

type Deps struct {
	Query     service.PostQueryService
	Validator service.PostValidatorService
	Recorder  service.PublicationService
	Registry  *publishing.Registry
	// Tokens may be nil, in which case stored tokens are used as is.
	Tokens TokenDecrypter
	// Locker may be nil for single-process deployments.
	Locker PassLocker
	Clock  func() time.Time
	Logger *zap.Logger
}

type PostResult struct {
	PostID         int64  `json:"post_id"`
	Success        bool   `json:"success"`
	PlatformPostID string `json:"platform_post_id,omitempty"`
	PlatformURL    string `json:"platform_url,omitempty"`
	Error          string `json:"error,omitempty"`
	// Skipped is set when no publish was attempted. Deferred posts carry a
	// Reason and no Error.
	Skipped bool   `json:"skipped,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

type PassSummary struct {
	RunID     string       `json:"run_id"`
	Success   bool         `json:"success"`
	Processed int          `json:"processed"`
	Succeeded int          `json:"succeeded"`
	Failed    int          `json:"failed"`
	Skipped   int          `json:"skipped"`
	Recovered int          `json:"recovered"`
	Missed    int          `json:"missed"`
	Results   []PostResult `json:"results"`
}

func (s *PassSummary) add(r PostResult) {
	s.Results = append(s.Results, r)
	s.Processed++
	switch {
	case r.Success:
		s.Succeeded++
	case r.Error != "":
		s.Failed++
	default:
		s.Skipped++
	}
}

// ScheduledPublicationJob runs publication passes: it recovers stuck posts,
// then publishes every due post in scheduled order.
type ScheduledPublicationJob struct {
	query     service.PostQueryService
	validator service.PostValidatorService
	recorder  service.PublicationService
	registry  *publishing.Registry
	tokens    TokenDecrypter
	locker    PassLocker
	opts      Options
	now       func() time.Time
	logger    *zap.Logger

	running atomic.Bool
}

func NewScheduledPublicationJob(deps Deps, opts Options) *ScheduledPublicationJob {
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.ClaimRefreshInterval == 0 {
		opts.ClaimRefreshInterval = opts.StuckPublishingTimeout / 3
	}
	return &ScheduledPublicationJob{
		query:     deps.Query,
		validator: deps.Validator,
		recorder:  deps.Recorder,
		registry:  deps.Registry,
		tokens:    deps.Tokens,
		locker:    deps.Locker,
		opts:      opts,
		now:       clock,
		logger:    logger,
	}
}

// Run executes one pass. It returns ErrPassInProgress without side effects
// when another pass holds the lock. Per-post failures are reported in the
// summary; only failures to select work abort the pass.
func (j *ScheduledPublicationJob) Run(ctx context.Context) (*PassSummary, error) {
	if !j.running.CompareAndSwap(false, true) {
		return nil, ErrPassInProgress
	}
	defer j.running.Store(false)

	if j.locker != nil {
		unlock, ok, err := j.locker.TryLock(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to acquire pass lock: %w", err)
		}
		if !ok {
			return nil, ErrPassInProgress
		}
		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				j.logger.Warn("failed to release pass lock", zap.Error(err))
			}
		}()
	}

	runID, err := gonanoid.New(12)
	if err != nil {
		return nil, fmt.Errorf("failed to generate run id: %w", err)
	}
	logger := j.logger.With(zap.String("run_id", runID))
	summary := &PassSummary{RunID: runID, Results: []PostResult{}}
	started := j.now()

	recovered, err := j.recoverStuckPosts(ctx, started, logger)
	if err != nil {
		logger.Error("recovery sweep failed", zap.Error(err))
		return summary, err
	}
	summary.Recovered = recovered

	missed, err := j.query.FindMissedPosts(ctx, started)
	if err != nil {
		logger.Warn("failed to count missed posts", zap.Error(err))
	} else if len(missed) > 0 {
		summary.Missed = len(missed)
		logger.Warn("posts missed their scheduled time", zap.Int("missed", len(missed)))
	}

	due, err := j.query.FindDueForPublishing(ctx, started)
	if err != nil {
		logger.Error("failed to select due posts", zap.Error(err))
		return summary, err
	}

	var parentIDs []int64
	for _, p := range due {
		if p.IsChild() {
			parentIDs = append(parentIDs, *p.ParentPostID)
		}
	}
	parents, err := j.query.BatchLoadParentPosts(ctx, parentIDs)
	if err != nil {
		logger.Error("failed to load parent posts", zap.Error(err))
		return summary, err
	}

	for _, post := range due {
		if err := ctx.Err(); err != nil {
			logger.Warn("pass interrupted", zap.Int("remaining", len(due)-summary.Processed), zap.Error(err))
			return summary, err
		}
		result := j.processPost(ctx, post, parents, logger)
		summary.add(result)
	}

	summary.Success = true
	logger.Info("publication pass finished",
		zap.Int("processed", summary.Processed),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
		zap.Int("skipped", summary.Skipped),
		zap.Int("recovered", summary.Recovered),
		zap.Int("missed", summary.Missed),
		zap.Duration("elapsed", j.now().Sub(started)))
	return summary, nil
}

// recoverStuckPosts settles posts left in PUBLISHING by a pass that died.
// Posts the platform already accepted are recorded as published; the rest
// fail unless their claim was refreshed after the sweep listed them.
func (j *ScheduledPublicationJob) recoverStuckPosts(ctx context.Context, now time.Time, logger *zap.Logger) (int, error) {
	cutoff := now.Add(-j.opts.StuckPublishingTimeout)
	stuck, err := j.query.FindStuckPublishing(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, post := range stuck {
		settled := true
		switch {
		case post.PublishedPlatformPostID() != "":
			err = j.recorder.ReconcilePublished(ctx, post)
		case post.Metadata.PendingPublication() != nil:
			_, err = j.recorder.RecordPending(ctx, post)
		default:
			msg := fmt.Sprintf("stuck in PUBLISHING since %s, assumed crashed", post.UpdatedAt.UTC().Format(time.RFC3339))
			settled, err = j.recorder.MarkStuckAsFailed(ctx, post.ID, cutoff, msg, post.RetryCount+1)
		}
		if err != nil {
			logger.Error("failed to recover stuck post", zap.Int64("post_id", post.ID), zap.Error(err))
			continue
		}
		if !settled {
			logger.Info("stuck post is active again, leaving it", zap.Int64("post_id", post.ID))
			continue
		}
		recovered++
		logger.Warn("recovered stuck post", zap.Int64("post_id", post.ID), zap.Int("retry_count", post.RetryCount+1))
	}
	return recovered, nil
}

func (j *ScheduledPublicationJob) processPost(ctx context.Context, post *models.Post, parents map[int64]*models.Post, logger *zap.Logger) PostResult {
	logger = logger.With(zap.Int64("post_id", post.ID), zap.String("content_type", string(post.ContentType)))
	result := PostResult{PostID: post.ID}

	// A publication recorded earlier means the platform already has the post.
	if platformID := post.PublishedPlatformPostID(); platformID != "" {
		if err := j.recorder.ReconcilePublished(ctx, post); err != nil {
			result.Error = err.Error()
			return result
		}
		j.refreshParent(parents, post.ID, models.PostStatusPublished, "", publishedOf(post))
		result.Success = true
		result.PlatformPostID = platformID
		if pub := publishedOf(post); pub != nil {
			result.PlatformURL = pub.PlatformPostURL
		}
		return result
	}
	if pending := post.Metadata.PendingPublication(); pending != nil {
		pub, err := j.recorder.RecordPending(ctx, post)
		if err != nil {
			result.Error = err.Error()
			return result
		}
		j.refreshParent(parents, post.ID, models.PostStatusPublished, "", pub)
		result.Success = true
		result.PlatformPostID = pending.PlatformPostID
		result.PlatformURL = pending.PlatformPostURL
		return result
	}

	if post.RetryCount >= j.opts.MaxRetryCount {
		msg := fmt.Sprintf("%s (%d/%d)", maxRetryMessage, post.RetryCount, j.opts.MaxRetryCount)
		if err := j.recorder.MarkPostAsFailed(ctx, post.ID, msg, post.RetryCount); err != nil {
			logger.Error("failed to mark post as permanently failed", zap.Error(err))
		}
		j.refreshParent(parents, post.ID, models.PostStatusFailed, msg, nil)
		logger.Warn("post exceeded retry limit", zap.Int("retry_count", post.RetryCount))
		result.Skipped = true
		result.Error = msg
		return result
	}

	var parent *models.Post
	if post.IsChild() {
		var reason string
		var failed bool
		parent, reason, failed = j.checkParent(post, parents)
		if failed {
			if err := j.recorder.MarkPostAsFailed(ctx, post.ID, reason, j.opts.MaxRetryCount); err != nil {
				logger.Error("failed to mark child of failed parent", zap.Error(err))
			}
			j.refreshParent(parents, post.ID, models.PostStatusFailed, reason, nil)
			logger.Warn("parent post failed", zap.Int64("parent_post_id", *post.ParentPostID))
			result.Error = reason
			return result
		}
		if reason != "" {
			logger.Info("deferring child post", zap.String("reason", reason))
			result.Skipped = true
			result.Reason = reason
			return result
		}
	}

	if errs := j.validator.ValidateContent(ctx, post); len(errs) > 0 {
		return j.fail(ctx, post, parents, errs, logger)
	}

	if err := j.recorder.MarkPostAsPublishing(ctx, post.ID); err != nil {
		if errors.Is(err, service.ErrAlreadyClaimed) {
			logger.Info("post claimed by another pass")
			result.Skipped = true
			result.Reason = "already claimed"
			return result
		}
		logger.Error("failed to claim post", zap.Error(err))
		result.Error = err.Error()
		return result
	}
	j.refreshParent(parents, post.ID, models.PostStatusPublishing, "", nil)

	// The claim is held from here on, so outcome writes must not be lost to
	// a cancelled pass.
	release := j.holdClaim(ctx, post.ID, logger)
	account, published, err := j.publish(ctx, post, parent)
	release()
	if err != nil {
		return j.fail(context.WithoutCancel(ctx), post, parents, err, logger)
	}

	pub, err := j.recordSuccess(context.WithoutCancel(ctx), post, account, published, logger)
	if err != nil {
		// The post stays PUBLISHING with the platform id saved, and the
		// recovery sweep records it instead of publishing again.
		logger.Error("published but failed to record outcome",
			zap.String("platform_post_id", published.PlatformPostID),
			zap.Error(err))
		if saveErr := j.recorder.SavePendingPublication(context.WithoutCancel(ctx), post, account, published); saveErr != nil {
			logger.Error("failed to save pending publication, post may be published twice",
				zap.String("platform_post_id", published.PlatformPostID),
				zap.Error(saveErr))
		}
		result.Error = err.Error()
		result.PlatformPostID = published.PlatformPostID
		return result
	}

	j.refreshParent(parents, post.ID, models.PostStatusPublished, "", pub)
	logger.Info("post published", zap.String("platform_post_id", published.PlatformPostID))
	result.Success = true
	result.PlatformPostID = published.PlatformPostID
	result.PlatformURL = published.PlatformPostURL
	return result
}

// checkParent classifies a child post's parent. A non-empty reason without
// failed means the child should wait for a later pass.
func (j *ScheduledPublicationJob) checkParent(post *models.Post, parents map[int64]*models.Post) (parent *models.Post, reason string, failed bool) {
	parentID := *post.ParentPostID
	parent, ok := parents[parentID]
	if !ok {
		return nil, fmt.Sprintf("parent post %d not found", parentID), false
	}

	switch parent.Status {
	case models.PostStatusPublished:
	case models.PostStatusFailed:
		msg := "unknown error"
		if parent.ErrorMessage != nil && *parent.ErrorMessage != "" {
			msg = *parent.ErrorMessage
		}
		return parent, fmt.Sprintf("parent post %d failed: %s", parentID, msg), true
	default:
		return parent, fmt.Sprintf("parent post %d is %s", parentID, parent.Status), false
	}

	if post.CommentDelayMinutes != nil && parent.PublishedAt != nil {
		readyAt := parent.PublishedAt.Add(time.Duration(*post.CommentDelayMinutes) * time.Minute)
		if j.now().Before(readyAt) {
			return parent, fmt.Sprintf("comment delay until %s", readyAt.UTC().Format(time.RFC3339)), false
		}
	}
	return parent, "", false
}

func (j *ScheduledPublicationJob) publish(ctx context.Context, post *models.Post, parent *models.Post) (*models.SocialAccount, *publishing.PublishResult, error) {
	av, err := j.validator.ValidateSocialAccount(ctx, post, parent)
	if err != nil {
		return nil, nil, err
	}
	if err := av.Err(); err != nil {
		return nil, nil, err
	}

	token := av.Account.AccessToken
	if j.tokens != nil {
		token, err = j.tokens.Decrypt(av.Account.AccessToken)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to decrypt access token of account %d: %w", av.Account.ID, err)
		}
	}

	strategy, err := j.registry.GetStrategy(post)
	if err != nil {
		return nil, nil, err
	}

	pc := &publishing.PublishContext{
		Post:        post,
		Media:       post.Media,
		Account:     av.Account,
		AccessToken: token,
		ReplyToID:   av.ReplyToID,
		OwnHostname: j.opts.OwnHostname,
	}
	if errs := strategy.Validate(ctx, pc); len(errs) > 0 {
		return nil, nil, errs
	}

	result, err := strategy.Publish(ctx, pc)
	if err != nil {
		return nil, nil, err
	}
	return av.Account, result, nil
}

// holdClaim refreshes the claim on postID until the returned func is called,
// so a long container poll is never mistaken for a dead pass.
func (j *ScheduledPublicationJob) holdClaim(ctx context.Context, postID int64, logger *zap.Logger) func() {
	if j.opts.ClaimRefreshInterval <= 0 {
		return func() {}
	}
	ctx = context.WithoutCancel(ctx)
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(j.opts.ClaimRefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				err := j.recorder.RefreshClaim(ctx, postID)
				if errors.Is(err, service.ErrAlreadyClaimed) {
					logger.Warn("claim lost while publishing", zap.Error(err))
					return
				}
				if err != nil {
					logger.Warn("failed to refresh claim", zap.Error(err))
				}
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

// recordSuccess retries RecordSuccess for up to RecordRetryWait.
func (j *ScheduledPublicationJob) recordSuccess(ctx context.Context, post *models.Post, account *models.SocialAccount, published *publishing.PublishResult, logger *zap.Logger) (*models.PostPublication, error) {
	var b backoff.BackOff = &backoff.StopBackOff{}
	if wait := j.opts.RecordRetryWait; wait > 0 {
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = wait / 10
		eb.MaxInterval = wait / 4
		eb.MaxElapsedTime = wait
		b = eb
	}

	var pub *models.PostPublication
	op := func() error {
		var err error
		pub, err = j.recorder.RecordSuccess(ctx, post, account, published)
		return err
	}
	err := backoff.RetryNotify(op, b, func(err error, next time.Duration) {
		logger.Warn("failed to record publication, retrying", zap.Duration("retry_in", next), zap.Error(err))
	})
	if err != nil {
		return nil, err
	}
	return pub, nil
}

// fail records a retryable failure and counts the attempt.
func (j *ScheduledPublicationJob) fail(ctx context.Context, post *models.Post, parents map[int64]*models.Post, cause error, logger *zap.Logger) PostResult {
	msg := cause.Error()
	retryCount := post.RetryCount + 1
	if err := j.recorder.MarkPostAsFailed(ctx, post.ID, msg, retryCount); err != nil {
		logger.Error("failed to mark post as failed", zap.NamedError("cause", cause), zap.Error(err))
	}
	j.refreshParent(parents, post.ID, models.PostStatusFailed, msg, nil)
	logger.Warn("post failed", zap.Int("retry_count", retryCount), zap.Error(cause))
	return PostResult{PostID: post.ID, Error: msg}
}

// refreshParent keeps the in-pass parent map in line with outcomes already
// written, so children later in the same pass see them.
func (j *ScheduledPublicationJob) refreshParent(parents map[int64]*models.Post, postID int64, status models.PostStatus, errMsg string, pub *models.PostPublication) {
	parent, ok := parents[postID]
	if !ok {
		return
	}
	updated := *parent
	updated.Status = status
	if errMsg != "" {
		updated.ErrorMessage = &errMsg
	}
	if pub != nil {
		now := j.now()
		if pub.PublishedAt != nil {
			now = *pub.PublishedAt
		}
		updated.PublishedAt = &now
		updated.Publications = append(append([]*models.PostPublication{}, parent.Publications...), pub)
	}
	parents[postID] = &updated
}

func publishedOf(post *models.Post) *models.PostPublication {
	for _, pub := range post.Publications {
		if pub.Status == models.PublicationStatusPublished && pub.PlatformPostID != "" {
			return pub
		}
	}
	return nil
}
