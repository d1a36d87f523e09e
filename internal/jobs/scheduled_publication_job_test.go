package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/publishing"
	"github.com/maheshrc27/postflow/internal/repository"
	"github.com/maheshrc27/postflow/internal/repository/memory"
	"github.com/maheshrc27/postflow/internal/service"
	"github.com/maheshrc27/postflow/internal/threads"
	"github.com/maheshrc27/postflow/internal/threads/threadstest"
	"github.com/maheshrc27/postflow/internal/validation"
	"github.com/maheshrc27/postflow/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testTokenKey  = "0123456789abcdef0123456789abcdef"
	testMaxRetry  = 3
	testStuckTime = 10 * time.Minute
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	t       *testing.T
	store   *memory.Store
	fake    *threadstest.Fake
	now     time.Time
	locker  PassLocker
	account *models.SocialAccount
	job     *ScheduledPublicationJob

	poll         publishing.PollPolicy
	recordWait   time.Duration
	claimRefresh time.Duration
}

func newHarness(t *testing.T) *harness {
	h := &harness{
		t:          t,
		store:      memory.New(),
		fake:       threadstest.New(),
		now:        baseTime,
		poll:       publishing.PollPolicy{InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond, MaxWait: 50 * time.Millisecond},
		recordWait: 20 * time.Millisecond,
	}

	cipher, err := utils.NewTokenCipher(testTokenKey)
	require.NoError(t, err)
	sealed, err := cipher.Encrypt("live-token")
	require.NoError(t, err)

	h.account = &models.SocialAccount{
		UserID:          1,
		Platform:        models.PlatformThreads,
		AccountID:       "th-1789",
		AccountUsername: "jane",
		AccessToken:     sealed,
		AccountStatus:   models.AccountStatusActive,
	}
	_, err = h.store.SocialAccounts().Create(context.Background(), h.account)
	require.NoError(t, err)

	h.build(h.store)
	return h
}

// build wires the job over store, which may wrap h.store.
func (h *harness) build(store repository.Store) {
	clock := func() time.Time { return h.now }
	cipher, err := utils.NewTokenCipher(testTokenKey)
	require.NoError(h.t, err)

	fast := h.poll
	content := validation.NewContentValidator(validation.NewMediaURLValidator(nil))

	h.job = NewScheduledPublicationJob(Deps{
		Query: service.NewPostQueryService(store, nil, service.QueryOptions{
			IncludeRetryableFailed: true,
			MaxRetryCount:          testMaxRetry,
			MissedGracePeriod:      5 * time.Minute,
		}, zap.NewNop()),
		Validator: service.NewPostValidatorService(store.SocialAccounts(), content, ""),
		Recorder:  service.NewPublicationService(store, clock, zap.NewNop()),
		Registry: publishing.NewDefaultRegistry(h.fake, content, publishing.Config{
			WebBaseURL: "https://www.threads.net",
			TextPoll:   fast,
			ImagePoll:  fast,
			VideoPoll:  fast,
		}, zap.NewNop()),
		Tokens: cipher,
		Locker: h.locker,
		Clock:  clock,
		Logger: zap.NewNop(),
	}, Options{
		MaxRetryCount:          testMaxRetry,
		StuckPublishingTimeout: testStuckTime,
		ClaimRefreshInterval:   h.claimRefresh,
		RecordRetryWait:        h.recordWait,
	})
}

func (h *harness) seed(p *models.Post) *models.Post {
	h.t.Helper()
	if p.UserID == 0 {
		p.UserID = 1
	}
	if p.ContentType == "" {
		p.ContentType = models.ContentTypeText
	}
	if p.Status == "" {
		p.Status = models.PostStatusScheduled
	}
	saved, err := h.store.Posts().Save(context.Background(), p)
	require.NoError(h.t, err)
	return saved
}

func (h *harness) post(id int64) *models.Post {
	h.t.Helper()
	p, err := h.store.Posts().FindByID(context.Background(), id)
	require.NoError(h.t, err)
	require.NotNil(h.t, p)
	return p
}

func (h *harness) publications(id int64) []*models.PostPublication {
	h.t.Helper()
	pubs, err := h.store.Publications().ListByPostIDs(context.Background(), []int64{id})
	require.NoError(h.t, err)
	return pubs[id]
}

func (h *harness) run() *PassSummary {
	h.t.Helper()
	summary, err := h.job.Run(context.Background())
	require.NoError(h.t, err)
	require.True(h.t, summary.Success)
	return summary
}

func ago(d time.Duration) *time.Time {
	t := baseTime.Add(-d)
	return &t
}

func resultFor(s *PassSummary, id int64) PostResult {
	for _, r := range s.Results {
		if r.PostID == id {
			return r
		}
	}
	return PostResult{}
}

func errMsg(p *models.Post) string {
	if p.ErrorMessage == nil {
		return ""
	}
	return *p.ErrorMessage
}

func TestRun_PublishesDueTextPost(t *testing.T) {
	h := newHarness(t)
	a := h.seed(&models.Post{Content: "hello", ScheduledAt: ago(time.Minute)})

	summary := h.run()

	stored := h.post(a.ID)
	assert.Equal(t, models.PostStatusPublished, stored.Status)
	require.NotNil(t, stored.PublishedAt)

	pubs := h.publications(a.ID)
	require.Len(t, pubs, 1)
	assert.NotEmpty(t, pubs[0].PlatformPostID)
	assert.Equal(t, models.PublicationStatusPublished, pubs[0].Status)
	assert.Equal(t, h.account.ID, pubs[0].SocialAccountID)

	res := resultFor(summary, a.ID)
	assert.True(t, res.Success)
	assert.Equal(t, pubs[0].PlatformPostID, res.PlatformPostID)
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 1, summary.Succeeded)
	assert.NotEmpty(t, summary.RunID)

	creates := h.fake.CallsTo("CreateContainer")
	require.Len(t, creates, 1)
	assert.Equal(t, "live-token", creates[0].Token)
	assert.Equal(t, "th-1789", creates[0].UserID)

	// a second pass must not publish again
	h.now = h.now.Add(time.Minute)
	second := h.run()
	assert.Zero(t, second.Processed)
	assert.Equal(t, 1, h.fake.PublishCount())
}

func TestRun_ChildWaitsForScheduledParent(t *testing.T) {
	h := newHarness(t)
	delay := 5
	a := h.seed(&models.Post{Content: "parent", ScheduledAt: ago(-time.Hour)})
	b := h.seed(&models.Post{Content: "reply", ScheduledAt: ago(time.Minute), ParentPostID: &a.ID, CommentDelayMinutes: &delay})

	summary := h.run()

	stored := h.post(b.ID)
	assert.Equal(t, models.PostStatusScheduled, stored.Status)
	assert.Zero(t, stored.RetryCount)
	assert.Nil(t, stored.ErrorMessage)
	assert.Empty(t, h.fake.Calls)

	res := resultFor(summary, b.ID)
	assert.True(t, res.Skipped)
	assert.Empty(t, res.Error)
	assert.Equal(t, 1, summary.Skipped)
}

func TestRun_ChildProcessedBeforeParentIsDeferred(t *testing.T) {
	h := newHarness(t)
	a := h.seed(&models.Post{Content: "parent", ScheduledAt: ago(time.Minute)})
	b := h.seed(&models.Post{Content: "reply", ScheduledAt: ago(2 * time.Minute), ParentPostID: &a.ID})

	h.run()

	assert.Equal(t, models.PostStatusScheduled, h.post(b.ID).Status)
	assert.Equal(t, models.PostStatusPublished, h.post(a.ID).Status)
	assert.Equal(t, 1, h.fake.PublishCount())

	// the next pass sees the published parent
	h.now = h.now.Add(time.Minute)
	h.run()
	assert.Equal(t, models.PostStatusPublished, h.post(b.ID).Status)

	creates := h.fake.CallsTo("CreateContainer")
	require.Len(t, creates, 2)
	assert.Equal(t, h.publications(a.ID)[0].PlatformPostID, creates[1].Params.ReplyToID)
}

func TestRun_ParentAndChildInSamePass(t *testing.T) {
	h := newHarness(t)
	a := h.seed(&models.Post{Content: "parent", ScheduledAt: ago(10 * time.Minute)})
	b := h.seed(&models.Post{Content: "reply", ScheduledAt: ago(time.Minute), ParentPostID: &a.ID})

	summary := h.run()

	assert.Equal(t, 2, summary.Succeeded)
	assert.Equal(t, models.PostStatusPublished, h.post(b.ID).Status)

	creates := h.fake.CallsTo("CreateContainer")
	require.Len(t, creates, 2)
	assert.Empty(t, creates[0].Params.ReplyToID)
	assert.Equal(t, h.publications(a.ID)[0].PlatformPostID, creates[1].Params.ReplyToID)
}

func TestRun_CommentDelayAfterParentPublish(t *testing.T) {
	h := newHarness(t)
	delay := 5
	a := h.seed(&models.Post{Content: "parent", ScheduledAt: ago(10 * time.Minute)})
	b := h.seed(&models.Post{Content: "reply", ScheduledAt: ago(time.Minute), ParentPostID: &a.ID, CommentDelayMinutes: &delay})

	summary := h.run()
	assert.True(t, resultFor(summary, b.ID).Skipped)
	assert.Equal(t, models.PostStatusScheduled, h.post(b.ID).Status)

	h.now = h.now.Add(6 * time.Minute)
	h.run()
	assert.Equal(t, models.PostStatusPublished, h.post(b.ID).Status)
}

func TestRun_ChildOfFailedParentFailsWithoutClaim(t *testing.T) {
	h := newHarness(t)
	parentMsg := "container expired"
	a := h.seed(&models.Post{Content: "parent", Status: models.PostStatusFailed, RetryCount: testMaxRetry, ErrorMessage: &parentMsg, ScheduledAt: ago(time.Hour)})
	b := h.seed(&models.Post{Content: "reply", ScheduledAt: ago(time.Minute), ParentPostID: &a.ID})

	claims := &claimSpy{Store: h.store}
	h.build(claims)
	summary := h.run()

	stored := h.post(b.ID)
	assert.Equal(t, models.PostStatusFailed, stored.Status)
	assert.Contains(t, errMsg(stored), fmt.Sprintf("parent post %d failed", a.ID))
	assert.Contains(t, errMsg(stored), parentMsg)
	assert.NotContains(t, claims.claimed, b.ID)
	assert.Empty(t, h.fake.Calls)
	assert.Equal(t, 1, summary.Failed)

	// terminal: never selected again
	h.now = h.now.Add(time.Hour)
	again := h.run()
	assert.Zero(t, again.Processed)
}

func TestRun_MissingParentIsDeferred(t *testing.T) {
	h := newHarness(t)
	ghost := int64(4040)
	b := h.seed(&models.Post{Content: "reply", ScheduledAt: ago(time.Minute), ParentPostID: &ghost})

	summary := h.run()

	assert.Equal(t, models.PostStatusScheduled, h.post(b.ID).Status)
	assert.True(t, resultFor(summary, b.ID).Skipped)
}

func TestRun_ParentPublishingIsDeferred(t *testing.T) {
	h := newHarness(t)
	a := h.seed(&models.Post{Content: "parent", Status: models.PostStatusPublishing, ScheduledAt: ago(time.Minute), UpdatedAt: baseTime})
	b := h.seed(&models.Post{Content: "reply", ScheduledAt: ago(time.Minute), ParentPostID: &a.ID})

	h.run()

	stored := h.post(b.ID)
	assert.Equal(t, models.PostStatusScheduled, stored.Status)
	assert.Zero(t, stored.RetryCount)
	assert.Equal(t, models.PostStatusPublishing, h.post(a.ID).Status)
}

func TestRun_ImagePostWithoutMediaFails(t *testing.T) {
	h := newHarness(t)
	c := h.seed(&models.Post{ContentType: models.ContentTypeImage, ScheduledAt: ago(time.Minute)})

	summary := h.run()

	stored := h.post(c.ID)
	assert.Equal(t, models.PostStatusFailed, stored.Status)
	assert.Contains(t, errMsg(stored), "missing image media")
	assert.Equal(t, 1, stored.RetryCount)
	assert.Empty(t, h.fake.Calls)
	assert.False(t, resultFor(summary, c.ID).Success)
	assert.Equal(t, 1, summary.Failed)
}

func TestRun_RetryCapIsTerminal(t *testing.T) {
	h := newHarness(t)
	p := h.seed(&models.Post{Content: "again", ScheduledAt: ago(time.Minute), RetryCount: testMaxRetry})

	summary := h.run()

	stored := h.post(p.ID)
	assert.Equal(t, models.PostStatusFailed, stored.Status)
	assert.Contains(t, errMsg(stored), "maximum retry count exceeded")
	assert.Equal(t, testMaxRetry, stored.RetryCount)
	assert.Empty(t, h.fake.Calls)

	res := resultFor(summary, p.ID)
	assert.True(t, res.Skipped)
	assert.NotEmpty(t, res.Error)

	h.now = h.now.Add(time.Hour)
	assert.Zero(t, h.run().Processed)
}

func TestRun_RetriesFailedPostUnderCap(t *testing.T) {
	h := newHarness(t)
	prev := "timeout"
	p := h.seed(&models.Post{Content: "retry me", Status: models.PostStatusFailed, RetryCount: 1, ErrorMessage: &prev, ScheduledAt: ago(time.Hour)})

	h.run()

	stored := h.post(p.ID)
	assert.Equal(t, models.PostStatusPublished, stored.Status)
	assert.Nil(t, stored.ErrorMessage)
	assert.Equal(t, 1, stored.RetryCount)
}

func TestRun_PlatformErrorIsRetryableAndIsolated(t *testing.T) {
	h := newHarness(t)
	first := h.seed(&models.Post{Content: "first", ScheduledAt: ago(2 * time.Minute)})
	second := h.seed(&models.Post{ContentType: models.ContentTypeImage, ScheduledAt: ago(time.Minute)})
	_, err := h.store.Media().Create(context.Background(), &models.Media{PostID: second.ID, Type: models.MediaTypeImage, URL: "https://cdn.example.com/a.jpg"})
	require.NoError(t, err)

	h.fake.Statuses["container-1"] = []threads.ContainerStatus{{Status: threads.StatusError, ErrorMessage: "text too long"}}

	summary := h.run()

	failed := h.post(first.ID)
	assert.Equal(t, models.PostStatusFailed, failed.Status)
	assert.Contains(t, errMsg(failed), "text too long")
	assert.Equal(t, 1, failed.RetryCount)
	require.NotNil(t, failed.FailedAt)

	assert.Equal(t, models.PostStatusPublished, h.post(second.ID).Status)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.Succeeded)
}

func TestRun_NoActiveAccountFails(t *testing.T) {
	h := newHarness(t)
	p := h.seed(&models.Post{UserID: 2, Content: "orphan", ScheduledAt: ago(time.Minute)})

	h.run()

	stored := h.post(p.ID)
	assert.Equal(t, models.PostStatusFailed, stored.Status)
	assert.Contains(t, errMsg(stored), "no active social account")
	assert.Equal(t, 1, stored.RetryCount)
	assert.Empty(t, h.fake.Calls)
}

func TestRun_RecoversStuckPostBeforeSelection(t *testing.T) {
	h := newHarness(t)
	stale := h.seed(&models.Post{
		Content:     "stale",
		Status:      models.PostStatusPublishing,
		RetryCount:  testMaxRetry - 1,
		ScheduledAt: ago(time.Hour),
		UpdatedAt:   baseTime.Add(-testStuckTime - time.Minute),
	})
	fresh := h.seed(&models.Post{
		Content:     "fresh",
		Status:      models.PostStatusPublishing,
		ScheduledAt: ago(time.Hour),
		UpdatedAt:   baseTime.Add(-time.Minute),
	})

	summary := h.run()

	stored := h.post(stale.ID)
	assert.Equal(t, models.PostStatusFailed, stored.Status)
	assert.Equal(t, testMaxRetry, stored.RetryCount)
	assert.Contains(t, errMsg(stored), "stuck in PUBLISHING")
	assert.Equal(t, 1, summary.Recovered)

	assert.Equal(t, models.PostStatusPublishing, h.post(fresh.ID).Status)
	assert.Empty(t, h.fake.Calls)
}

func TestRun_RecoveredPostIsRetriedInSamePass(t *testing.T) {
	h := newHarness(t)
	stale := h.seed(&models.Post{
		Content:     "stale",
		Status:      models.PostStatusPublishing,
		ScheduledAt: ago(time.Hour),
		UpdatedAt:   baseTime.Add(-time.Hour),
	})

	summary := h.run()

	stored := h.post(stale.ID)
	assert.Equal(t, models.PostStatusPublished, stored.Status)
	assert.Equal(t, 1, stored.RetryCount)
	assert.Equal(t, 1, summary.Recovered)
	assert.Equal(t, 1, summary.Succeeded)
}

func TestRun_CrashBetweenInsertAndUpdate(t *testing.T) {
	h := newHarness(t)
	p := h.seed(&models.Post{Content: "atomic", ScheduledAt: ago(time.Minute)})

	// the first write is rolled back and the retry records it
	crashing := &crashStore{Store: h.store, failures: 1}
	h.build(crashing)
	summary := h.run()

	stored := h.post(p.ID)
	assert.Equal(t, models.PostStatusPublished, stored.Status)
	assert.True(t, resultFor(summary, p.ID).Success)
	assert.Equal(t, 2, crashing.attempts)
	assert.Len(t, h.publications(p.ID), 1)
	assert.Len(t, h.fake.CallsTo("PublishContainer"), 1)
}

func TestRun_UnrecordedPublishIsRecoveredWithoutRepublishing(t *testing.T) {
	h := newHarness(t)
	p := h.seed(&models.Post{Content: "atomic", ScheduledAt: ago(time.Minute)})

	crashing := &crashStore{Store: h.store, failures: 1 << 20}
	h.build(crashing)
	summary := h.run()

	stored := h.post(p.ID)
	assert.Equal(t, models.PostStatusPublishing, stored.Status)
	assert.Empty(t, h.publications(p.ID))
	res := resultFor(summary, p.ID)
	assert.NotEmpty(t, res.Error)
	assert.Greater(t, crashing.attempts, 1)

	pending := stored.Metadata.PendingPublication()
	require.NotNil(t, pending)
	assert.Equal(t, res.PlatformPostID, pending.PlatformPostID)
	assert.Equal(t, h.account.ID, pending.SocialAccountID)

	// before the timeout nothing changes
	crashing.failures = 0
	h.now = h.now.Add(time.Minute)
	h.run()
	assert.Equal(t, models.PostStatusPublishing, h.post(p.ID).Status)

	h.now = h.now.Add(testStuckTime)
	recovery := h.run()
	assert.Equal(t, 1, recovery.Recovered)

	stored = h.post(p.ID)
	assert.Equal(t, models.PostStatusPublished, stored.Status)
	assert.Zero(t, stored.RetryCount)
	pubs := h.publications(p.ID)
	require.Len(t, pubs, 1)
	assert.Equal(t, pending.PlatformPostID, pubs[0].PlatformPostID)
	assert.Len(t, h.fake.CallsTo("PublishContainer"), 1)

	h.now = h.now.Add(time.Hour)
	assert.Zero(t, h.run().Processed)
	assert.Len(t, h.publications(p.ID), 1)
	assert.Len(t, h.fake.CallsTo("PublishContainer"), 1)
}

func TestRun_ClaimIsRefreshedWhileContainerPolls(t *testing.T) {
	h := newHarness(t)
	h.poll = publishing.PollPolicy{InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond, MaxWait: 5 * time.Second}
	h.claimRefresh = time.Millisecond
	refreshing := &refreshSpy{Store: h.store}
	h.build(refreshing)

	script := make([]threads.ContainerStatus, 0, 16)
	for i := 0; i < 15; i++ {
		script = append(script, threads.ContainerStatus{Status: threads.StatusInProgress})
	}
	h.fake.Statuses["container-1"] = append(script, threads.ContainerStatus{Status: threads.StatusFinished})

	p := h.seed(&models.Post{Content: "slow", ScheduledAt: ago(time.Minute)})
	summary := h.run()

	assert.True(t, resultFor(summary, p.ID).Success)
	assert.Equal(t, models.PostStatusPublished, h.post(p.ID).Status)
	assert.Positive(t, refreshing.refreshes.Load())

	// the heartbeat stops with the post
	after := refreshing.refreshes.Load()
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, after, refreshing.refreshes.Load())
}

func TestRun_SweepLeavesClaimRefreshedAfterListing(t *testing.T) {
	h := newHarness(t)
	live := h.seed(&models.Post{
		Content:     "live",
		Status:      models.PostStatusPublishing,
		ScheduledAt: ago(time.Hour),
		UpdatedAt:   baseTime.Add(-testStuckTime - time.Minute),
	})
	refreshing := &refreshSpy{Store: h.store, refreshOnList: baseTime}
	h.build(refreshing)

	summary := h.run()

	stored := h.post(live.ID)
	assert.Equal(t, models.PostStatusPublishing, stored.Status)
	assert.Zero(t, stored.RetryCount)
	assert.Zero(t, summary.Recovered)
	assert.Empty(t, h.fake.Calls)
}

func TestRun_ReconcilesRecordedPublication(t *testing.T) {
	h := newHarness(t)
	p := h.seed(&models.Post{Content: "done", Status: models.PostStatusFailed, RetryCount: 1, ScheduledAt: ago(time.Minute)})
	_, err := h.store.Publications().Create(context.Background(), &models.PostPublication{
		PostID:          p.ID,
		SocialAccountID: h.account.ID,
		PlatformPostID:  "th-existing",
		PlatformPostURL: "https://www.threads.net/@jane/post/th-existing",
		Status:          models.PublicationStatusPublished,
	})
	require.NoError(t, err)

	summary := h.run()

	assert.Equal(t, models.PostStatusPublished, h.post(p.ID).Status)
	assert.Empty(t, h.fake.Calls)
	res := resultFor(summary, p.ID)
	assert.True(t, res.Success)
	assert.Equal(t, "th-existing", res.PlatformPostID)
	assert.Len(t, h.publications(p.ID), 1)
}

func TestRun_DropsInvalidReplyControl(t *testing.T) {
	h := newHarness(t)
	h.seed(&models.Post{
		Content:     "options",
		ScheduledAt: ago(time.Minute),
		Metadata: models.Metadata{"threads": map[string]interface{}{
			"reply_control":   "BOGUS",
			"link_attachment": "https://example.com/story",
		}},
	})

	summary := h.run()

	assert.Equal(t, 1, summary.Succeeded)
	params := h.fake.CallsTo("CreateContainer")[0].Params
	assert.Empty(t, params.ReplyControl)
	assert.Equal(t, "https://example.com/story", params.LinkAttachment)
	values, err := params.Values()
	require.NoError(t, err)
	_, ok := values["reply_control"]
	assert.False(t, ok)
}

func TestRun_CountsMissedPosts(t *testing.T) {
	h := newHarness(t)
	h.seed(&models.Post{Content: "late", ScheduledAt: ago(time.Hour)})
	h.seed(&models.Post{Content: "on time", ScheduledAt: ago(time.Minute)})

	summary := h.run()

	assert.Equal(t, 1, summary.Missed)
	assert.Equal(t, 2, summary.Succeeded)
}

func TestRun_LostClaimIsSkipped(t *testing.T) {
	h := newHarness(t)
	p := h.seed(&models.Post{Content: "raced", ScheduledAt: ago(time.Minute)})

	h.build(&claimSpy{Store: h.store, lose: true})
	summary := h.run()

	res := resultFor(summary, p.ID)
	assert.True(t, res.Skipped)
	assert.Empty(t, res.Error)
	assert.Equal(t, models.PostStatusScheduled, h.post(p.ID).Status)
	assert.Empty(t, h.fake.Calls)
}

func TestRun_PassLockHeldElsewhere(t *testing.T) {
	h := newHarness(t)
	p := h.seed(&models.Post{Content: "locked", ScheduledAt: ago(time.Minute)})

	h.locker = &stubLocker{held: true}
	h.build(h.store)

	_, err := h.job.Run(context.Background())
	assert.ErrorIs(t, err, ErrPassInProgress)
	assert.Equal(t, models.PostStatusScheduled, h.post(p.ID).Status)
}

func TestRun_ReleasesPassLock(t *testing.T) {
	h := newHarness(t)
	locker := &stubLocker{}
	h.locker = locker
	h.build(h.store)

	h.run()
	assert.Equal(t, 1, locker.acquired)
	assert.Equal(t, 1, locker.released)
}

func TestRun_CancelledPassStopsBeforeNextPost(t *testing.T) {
	h := newHarness(t)
	p := h.seed(&models.Post{Content: "never", ScheduledAt: ago(time.Minute)})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	summary, err := h.job.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, summary.Success)
	assert.Equal(t, models.PostStatusScheduled, h.post(p.ID).Status)
}

func TestScheduler_Fire(t *testing.T) {
	calls := 0
	s := NewScheduler("@every 1h", func(ctx context.Context) error {
		calls++
		_, ok := ctx.Deadline()
		assert.True(t, ok)
		return ErrPassInProgress
	}, time.Minute, zap.NewNop())

	s.fire()
	assert.Equal(t, 1, calls)

	bad := NewScheduler("not a spec", func(ctx context.Context) error { return nil }, time.Minute, zap.NewNop())
	assert.Error(t, bad.Start())
}

// crashStore fails the status update inside the publication transaction,
// after the publication row was written.
type crashStore struct {
	*memory.Store
	failures int
	attempts int
}

func (s *crashStore) WithTransaction(ctx context.Context, fn func(tx repository.Store) error) error {
	return s.Store.WithTransaction(ctx, func(tx repository.Store) error {
		s.attempts++
		if s.failures == 0 {
			return fn(tx)
		}
		s.failures--
		return fn(crashTx{Store: tx})
	})
}

type crashTx struct {
	repository.Store
}

func (t crashTx) Posts() repository.PostRepository {
	return crashPosts{PostRepository: t.Store.Posts()}
}

type crashPosts struct {
	repository.PostRepository
}

func (p crashPosts) UpdateStatus(ctx context.Context, id int64, status models.PostStatus, upd repository.StatusUpdate) error {
	if status == models.PostStatusPublished {
		return errors.New("connection lost")
	}
	return p.PostRepository.UpdateStatus(ctx, id, status, upd)
}

// claimSpy records claims and can make every claim lose the race.
type claimSpy struct {
	*memory.Store
	lose    bool
	claimed []int64
}

func (s *claimSpy) Posts() repository.PostRepository {
	return &spyPosts{PostRepository: s.Store.Posts(), spy: s}
}

type spyPosts struct {
	repository.PostRepository
	spy *claimSpy
}

func (p *spyPosts) ClaimForPublishing(ctx context.Context, id int64, claimedAt time.Time) (bool, error) {
	p.spy.claimed = append(p.spy.claimed, id)
	if p.spy.lose {
		return false, nil
	}
	return p.PostRepository.ClaimForPublishing(ctx, id, claimedAt)
}

type stubLocker struct {
	held     bool
	acquired int
	released int
}

func (l *stubLocker) TryLock(ctx context.Context) (func(context.Context) error, bool, error) {
	if l.held {
		return nil, false, nil
	}
	l.acquired++
	return func(context.Context) error {
		l.released++
		return nil
	}, true, nil
}

// refreshSpy counts claim refreshes. With refreshOnList set, every post the
// stuck query returns is refreshed right after it is listed, as a live pass
// would.
type refreshSpy struct {
	*memory.Store
	refreshOnList time.Time
	refreshes     atomic.Int32
}

func (s *refreshSpy) Posts() repository.PostRepository {
	return &refreshPosts{PostRepository: s.Store.Posts(), spy: s}
}

type refreshPosts struct {
	repository.PostRepository
	spy *refreshSpy
}

func (p *refreshPosts) RefreshClaim(ctx context.Context, id int64, at time.Time) (bool, error) {
	p.spy.refreshes.Add(1)
	return p.PostRepository.RefreshClaim(ctx, id, at)
}

func (p *refreshPosts) FindStuckPublishing(ctx context.Context, updatedBefore time.Time) ([]*models.Post, error) {
	posts, err := p.PostRepository.FindStuckPublishing(ctx, updatedBefore)
	if err != nil || p.spy.refreshOnList.IsZero() {
		return posts, err
	}
	for _, post := range posts {
		if _, err := p.PostRepository.RefreshClaim(ctx, post.ID, p.spy.refreshOnList); err != nil {
			return nil, err
		}
	}
	return posts, nil
}
