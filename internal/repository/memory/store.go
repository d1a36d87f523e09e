// Package memory implements repository.Store in memory. Transactions are
// serialised and roll back to a snapshot when the closure fails. Writes made
// outside a transaction wait for any open transaction, so a rollback never
// discards them.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/repository"
)

type state struct {
	posts        map[int64]*models.Post
	media        map[int64]*models.Media
	publications map[int64]*models.PostPublication
	accounts     map[int64]*models.SocialAccount
	nextID       int64
}

func (st *state) clone() *state {
	c := &state{
		posts:        make(map[int64]*models.Post, len(st.posts)),
		media:        make(map[int64]*models.Media, len(st.media)),
		publications: make(map[int64]*models.PostPublication, len(st.publications)),
		accounts:     make(map[int64]*models.SocialAccount, len(st.accounts)),
		nextID:       st.nextID,
	}
	for id, p := range st.posts {
		c.posts[id] = copyPost(p)
	}
	for id, m := range st.media {
		cp := *m
		c.media[id] = &cp
	}
	for id, p := range st.publications {
		cp := *p
		c.publications[id] = &cp
	}
	for id, a := range st.accounts {
		cp := *a
		c.accounts[id] = &cp
	}
	return c
}

// Store is safe for concurrent use.
type Store struct {
	mu   sync.RWMutex
	txMu sync.Mutex
	st   *state
}

func New() *Store {
	return &Store{st: &state{
		posts:        make(map[int64]*models.Post),
		media:        make(map[int64]*models.Media),
		publications: make(map[int64]*models.PostPublication),
		accounts:     make(map[int64]*models.SocialAccount),
	}}
}

func (s *Store) Posts() repository.PostRepository                 { return &postRepo{s: s} }
func (s *Store) Media() repository.PostMediaRepository             { return &mediaRepo{s: s} }
func (s *Store) Publications() repository.PublicationRepository    { return &publicationRepo{s: s} }
func (s *Store) SocialAccounts() repository.SocialAccountRepository { return &accountRepo{s: s} }

// writeLock holds txMu for a write made outside a transaction.
func (s *Store) writeLock(inTx bool) func() {
	if inTx {
		return func() {}
	}
	s.txMu.Lock()
	return s.txMu.Unlock
}

func (s *Store) WithTransaction(ctx context.Context, fn func(tx repository.Store) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	snapshot := s.st.clone()
	s.mu.RUnlock()

	if err := fn(txStore{s}); err != nil {
		s.mu.Lock()
		s.st = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}

// txStore is the view handed to a transaction closure; nested transactions
// join the outer one.
type txStore struct {
	*Store
}

func (t txStore) WithTransaction(ctx context.Context, fn func(tx repository.Store) error) error {
	return fn(t)
}

func (t txStore) Posts() repository.PostRepository { return &postRepo{s: t.Store, tx: true} }
func (t txStore) Media() repository.PostMediaRepository { return &mediaRepo{s: t.Store, tx: true} }
func (t txStore) Publications() repository.PublicationRepository {
	return &publicationRepo{s: t.Store, tx: true}
}
func (t txStore) SocialAccounts() repository.SocialAccountRepository {
	return &accountRepo{s: t.Store, tx: true}
}

func (s *Store) nextID() int64 {
	s.st.nextID++
	return s.st.nextID
}

func copyPost(p *models.Post) *models.Post {
	cp := *p
	cp.Media = nil
	cp.SocialAccount = nil
	cp.Publications = nil
	return &cp
}

func sortByScheduledAt(posts []*models.Post) {
	sort.Slice(posts, func(i, j int) bool {
		a, b := posts[i], posts[j]
		switch {
		case a.ScheduledAt == nil && b.ScheduledAt == nil:
			return a.ID < b.ID
		case a.ScheduledAt == nil:
			return false
		case b.ScheduledAt == nil:
			return true
		case a.ScheduledAt.Equal(*b.ScheduledAt):
			return a.ID < b.ID
		}
		return a.ScheduledAt.Before(*b.ScheduledAt)
	})
}

type postRepo struct {
	s  *Store
	tx bool
}

func (r *postRepo) FindByID(ctx context.Context, id int64) (*models.Post, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	p, ok := r.s.st.posts[id]
	if !ok {
		return nil, nil
	}
	return copyPost(p), nil
}

func (r *postRepo) FindByIDs(ctx context.Context, ids []int64) ([]*models.Post, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var posts []*models.Post
	for _, id := range ids {
		if p, ok := r.s.st.posts[id]; ok {
			posts = append(posts, copyPost(p))
		}
	}
	return posts, nil
}

func (r *postRepo) filter(keep func(p *models.Post) bool) []*models.Post {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var posts []*models.Post
	for _, p := range r.s.st.posts {
		if keep(p) {
			posts = append(posts, copyPost(p))
		}
	}
	sortByScheduledAt(posts)
	return posts
}

func (r *postRepo) FindDueForPublishing(ctx context.Context, before time.Time, q repository.DueQuery) ([]*models.Post, error) {
	posts := r.filter(func(p *models.Post) bool {
		if p.ScheduledAt == nil || p.ScheduledAt.After(before) {
			return false
		}
		if p.Status == models.PostStatusScheduled {
			return true
		}
		return q.IncludeRetryableFailed && p.Status == models.PostStatusFailed && p.RetryCount < q.MaxRetryCount
	})
	if q.Limit > 0 && len(posts) > q.Limit {
		posts = posts[:q.Limit]
	}
	return posts, nil
}

func (r *postRepo) FindStuckPublishing(ctx context.Context, updatedBefore time.Time) ([]*models.Post, error) {
	return r.filter(func(p *models.Post) bool {
		return p.Status == models.PostStatusPublishing && p.UpdatedAt.Before(updatedBefore)
	}), nil
}

func (r *postRepo) FindMissed(ctx context.Context, scheduledBefore time.Time) ([]*models.Post, error) {
	return r.filter(func(p *models.Post) bool {
		return p.Status == models.PostStatusScheduled && p.ScheduledAt != nil && p.ScheduledAt.Before(scheduledBefore)
	}), nil
}

func (r *postRepo) UpdateStatus(ctx context.Context, id int64, status models.PostStatus, upd repository.StatusUpdate) error {
	defer r.s.writeLock(r.tx)()
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	p, ok := r.s.st.posts[id]
	if !ok {
		return repository.ErrNotFound
	}
	p.Status = status
	if upd.ClearError {
		p.ErrorMessage = nil
	} else if upd.ErrorMessage != nil {
		msg := *upd.ErrorMessage
		p.ErrorMessage = &msg
	}
	if upd.RetryCount != nil {
		p.RetryCount = *upd.RetryCount
	}
	if upd.PublishedAt != nil {
		t := *upd.PublishedAt
		p.PublishedAt = &t
	}
	if upd.FailedAt != nil {
		t := *upd.FailedAt
		p.FailedAt = &t
	}
	p.UpdatedAt = upd.UpdatedAt
	return nil
}

func (r *postRepo) ClaimForPublishing(ctx context.Context, id int64, claimedAt time.Time) (bool, error) {
	defer r.s.writeLock(r.tx)()
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	p, ok := r.s.st.posts[id]
	if !ok {
		return false, nil
	}
	if p.Status != models.PostStatusScheduled && p.Status != models.PostStatusFailed {
		return false, nil
	}
	p.Status = models.PostStatusPublishing
	p.UpdatedAt = claimedAt
	return true, nil
}

func (r *postRepo) RefreshClaim(ctx context.Context, id int64, at time.Time) (bool, error) {
	defer r.s.writeLock(r.tx)()
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	p, ok := r.s.st.posts[id]
	if !ok || p.Status != models.PostStatusPublishing {
		return false, nil
	}
	p.UpdatedAt = at
	return true, nil
}

func (r *postRepo) FailStuck(ctx context.Context, id int64, updatedBefore time.Time, upd repository.StatusUpdate) (bool, error) {
	defer r.s.writeLock(r.tx)()
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	p, ok := r.s.st.posts[id]
	if !ok || p.Status != models.PostStatusPublishing || !p.UpdatedAt.Before(updatedBefore) {
		return false, nil
	}
	p.Status = models.PostStatusFailed
	if upd.ErrorMessage != nil {
		msg := *upd.ErrorMessage
		p.ErrorMessage = &msg
	}
	if upd.RetryCount != nil {
		p.RetryCount = *upd.RetryCount
	}
	if upd.FailedAt != nil {
		t := *upd.FailedAt
		p.FailedAt = &t
	}
	p.UpdatedAt = upd.UpdatedAt
	return true, nil
}

func (r *postRepo) SetPendingPublication(ctx context.Context, id int64, pending models.PendingPublication) error {
	defer r.s.writeLock(r.tx)()
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	p, ok := r.s.st.posts[id]
	if !ok {
		return repository.ErrNotFound
	}
	// snapshots share the metadata map, so replace it rather than mutate it
	metadata, err := p.Metadata.WithPendingPublication(pending)
	if err != nil {
		return err
	}
	p.Metadata = metadata
	return nil
}

// Save inserts posts without an id and replaces existing ones. Zero timestamps
// are filled with the current time; explicit ones are kept so tests can seed
// stale rows.
func (r *postRepo) Save(ctx context.Context, post *models.Post) (*models.Post, error) {
	defer r.s.writeLock(r.tx)()
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	now := time.Now()
	if post.ID == 0 {
		post.ID = r.s.nextID()
		if post.CreatedAt.IsZero() {
			post.CreatedAt = now
		}
	} else if _, ok := r.s.st.posts[post.ID]; !ok {
		return nil, repository.ErrNotFound
	}
	if post.UpdatedAt.IsZero() {
		post.UpdatedAt = now
	}
	if post.Metadata == nil {
		post.Metadata = models.Metadata{}
	}
	r.s.st.posts[post.ID] = copyPost(post)
	return post, nil
}

type mediaRepo struct {
	s  *Store
	tx bool
}

func (r *mediaRepo) Create(ctx context.Context, m *models.Media) (int64, error) {
	defer r.s.writeLock(r.tx)()
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	m.ID = r.s.nextID()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	cp := *m
	r.s.st.media[m.ID] = &cp
	return m.ID, nil
}

func (r *mediaRepo) ListByPostID(ctx context.Context, postID int64) ([]*models.Media, error) {
	grouped, err := r.ListByPostIDs(ctx, []int64{postID})
	if err != nil {
		return nil, err
	}
	return grouped[postID], nil
}

func (r *mediaRepo) ListByPostIDs(ctx context.Context, postIDs []int64) (map[int64][]*models.Media, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	wanted := make(map[int64]bool, len(postIDs))
	for _, id := range postIDs {
		wanted[id] = true
	}
	result := make(map[int64][]*models.Media, len(postIDs))
	for _, m := range r.s.st.media {
		if wanted[m.PostID] {
			cp := *m
			result[m.PostID] = append(result[m.PostID], &cp)
		}
	}
	for _, list := range result {
		sort.Slice(list, func(i, j int) bool {
			if list[i].OrderIndex == list[j].OrderIndex {
				return list[i].ID < list[j].ID
			}
			return list[i].OrderIndex < list[j].OrderIndex
		})
	}
	return result, nil
}

type publicationRepo struct {
	s  *Store
	tx bool
}

func (r *publicationRepo) Create(ctx context.Context, p *models.PostPublication) (int64, error) {
	defer r.s.writeLock(r.tx)()
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	p.ID = r.s.nextID()
	now := time.Now()
	p.CreatedAt = now
	p.UpdatedAt = now
	cp := *p
	r.s.st.publications[p.ID] = &cp
	return p.ID, nil
}

func (r *publicationRepo) Save(ctx context.Context, p *models.PostPublication) error {
	defer r.s.writeLock(r.tx)()
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.st.publications[p.ID]; !ok {
		return repository.ErrNotFound
	}
	p.UpdatedAt = time.Now()
	cp := *p
	r.s.st.publications[p.ID] = &cp
	return nil
}

func (r *publicationRepo) ListByPostIDs(ctx context.Context, postIDs []int64) (map[int64][]*models.PostPublication, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	wanted := make(map[int64]bool, len(postIDs))
	for _, id := range postIDs {
		wanted[id] = true
	}
	result := make(map[int64][]*models.PostPublication, len(postIDs))
	for _, p := range r.s.st.publications {
		if wanted[p.PostID] {
			cp := *p
			result[p.PostID] = append(result[p.PostID], &cp)
		}
	}
	for _, list := range result {
		sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	}
	return result, nil
}

type accountRepo struct {
	s  *Store
	tx bool
}

func (r *accountRepo) Create(ctx context.Context, sa *models.SocialAccount) (int64, error) {
	defer r.s.writeLock(r.tx)()
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	sa.ID = r.s.nextID()
	now := time.Now()
	if sa.CreatedAt.IsZero() {
		sa.CreatedAt = now
	}
	sa.UpdatedAt = now
	cp := *sa
	r.s.st.accounts[sa.ID] = &cp
	return sa.ID, nil
}

func (r *accountRepo) GetByID(ctx context.Context, id int64) (*models.SocialAccount, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	sa, ok := r.s.st.accounts[id]
	if !ok {
		return nil, nil
	}
	cp := *sa
	return &cp, nil
}

func (r *accountRepo) ListByIDs(ctx context.Context, ids []int64) (map[int64]*models.SocialAccount, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	result := make(map[int64]*models.SocialAccount, len(ids))
	for _, id := range ids {
		if sa, ok := r.s.st.accounts[id]; ok {
			cp := *sa
			result[id] = &cp
		}
	}
	return result, nil
}

func (r *accountRepo) FindByUserIDAndPlatform(ctx context.Context, userID int64, platform string) ([]*models.SocialAccount, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var accounts []*models.SocialAccount
	for _, sa := range r.s.st.accounts {
		if sa.UserID == userID && sa.Platform == platform {
			cp := *sa
			accounts = append(accounts, &cp)
		}
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].ID < accounts[j].ID })
	return accounts, nil
}
