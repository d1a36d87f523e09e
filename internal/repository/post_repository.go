package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/maheshrc27/postflow/internal/models"
)

// DueQuery narrows FindDueForPublishing.
type DueQuery struct {
	// IncludeRetryableFailed also selects FAILED posts whose retry_count is
	// below MaxRetryCount.
	IncludeRetryableFailed bool
	MaxRetryCount          int
	Limit                  int
}

// StatusUpdate carries the optional columns written alongside a status change.
// Nil fields keep the stored value.
type StatusUpdate struct {
	ErrorMessage *string
	ClearError   bool
	RetryCount   *int
	PublishedAt  *time.Time
	FailedAt     *time.Time
	UpdatedAt    time.Time
}

type PostRepository interface {
	FindByID(ctx context.Context, id int64) (*models.Post, error)
	FindByIDs(ctx context.Context, ids []int64) ([]*models.Post, error)
	FindDueForPublishing(ctx context.Context, before time.Time, q DueQuery) ([]*models.Post, error)
	FindStuckPublishing(ctx context.Context, updatedBefore time.Time) ([]*models.Post, error)
	FindMissed(ctx context.Context, scheduledBefore time.Time) ([]*models.Post, error)
	UpdateStatus(ctx context.Context, id int64, status models.PostStatus, upd StatusUpdate) error
	// ClaimForPublishing moves a SCHEDULED or FAILED post to PUBLISHING. It
	// returns false when the post was already claimed or is in another state.
	ClaimForPublishing(ctx context.Context, id int64, claimedAt time.Time) (bool, error)
	// RefreshClaim bumps updated_at of a post still in PUBLISHING so the
	// stuck sweep leaves it alone. It returns false once the claim is gone.
	RefreshClaim(ctx context.Context, id int64, at time.Time) (bool, error)
	// FailStuck moves a post to FAILED only while it is still PUBLISHING and
	// was last updated before updatedBefore.
	FailStuck(ctx context.Context, id int64, updatedBefore time.Time, upd StatusUpdate) (bool, error)
	// SetPendingPublication stores pending under metadata without touching
	// status or updated_at.
	SetPendingPublication(ctx context.Context, id int64, pending models.PendingPublication) error
	Save(ctx context.Context, post *models.Post) (*models.Post, error)
}

type postRepository struct {
	q querier
}

const postColumns = `id, user_id, content, content_type, status, scheduled_at, published_at, failed_at,
	error_message, retry_count, parent_post_id, comment_delay_minutes, social_account_id, metadata,
	created_at, updated_at`

func scanPost(row rowScanner) (*models.Post, error) {
	var p models.Post
	err := row.Scan(&p.ID, &p.UserID, &p.Content, &p.ContentType, &p.Status, &p.ScheduledAt,
		&p.PublishedAt, &p.FailedAt, &p.ErrorMessage, &p.RetryCount, &p.ParentPostID,
		&p.CommentDelayMinutes, &p.SocialAccountID, &p.Metadata, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *postRepository) queryPosts(ctx context.Context, query string, args ...interface{}) ([]*models.Post, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error querying posts: %w", err)
	}
	defer rows.Close()

	var posts []*models.Post
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning post: %w", err)
		}
		posts = append(posts, post)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating posts: %w", err)
	}
	return posts, nil
}

func (r *postRepository) FindByID(ctx context.Context, id int64) (*models.Post, error) {
	query := `SELECT ` + postColumns + ` FROM posts WHERE id = $1`

	post, err := scanPost(r.q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("error fetching post %d: %w", id, err)
	}
	return post, nil
}

func (r *postRepository) FindByIDs(ctx context.Context, ids []int64) ([]*models.Post, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT ` + postColumns + ` FROM posts WHERE id = ANY($1)`
	return r.queryPosts(ctx, query, pq.Array(ids))
}

func (r *postRepository) FindDueForPublishing(ctx context.Context, before time.Time, q DueQuery) ([]*models.Post, error) {
	query := `
		SELECT ` + postColumns + `
		FROM posts
		WHERE scheduled_at <= $1
		  AND (status = 'SCHEDULED' OR ($2 AND status = 'FAILED' AND retry_count < $3))
		ORDER BY scheduled_at ASC, id ASC
	`
	args := []interface{}{before, q.IncludeRetryableFailed, q.MaxRetryCount}
	if q.Limit > 0 {
		query += ` LIMIT $4`
		args = append(args, q.Limit)
	}
	return r.queryPosts(ctx, query, args...)
}

func (r *postRepository) FindStuckPublishing(ctx context.Context, updatedBefore time.Time) ([]*models.Post, error) {
	query := `SELECT ` + postColumns + ` FROM posts WHERE status = 'PUBLISHING' AND updated_at < $1 ORDER BY updated_at ASC`
	return r.queryPosts(ctx, query, updatedBefore)
}

func (r *postRepository) FindMissed(ctx context.Context, scheduledBefore time.Time) ([]*models.Post, error) {
	query := `SELECT ` + postColumns + ` FROM posts WHERE status = 'SCHEDULED' AND scheduled_at < $1 ORDER BY scheduled_at ASC`
	return r.queryPosts(ctx, query, scheduledBefore)
}

func (r *postRepository) UpdateStatus(ctx context.Context, id int64, status models.PostStatus, upd StatusUpdate) error {
	query := `
		UPDATE posts
		SET status = $1,
			error_message = CASE WHEN $2 THEN NULL ELSE COALESCE($3, error_message) END,
			retry_count = COALESCE($4, retry_count),
			published_at = COALESCE($5, published_at),
			failed_at = COALESCE($6, failed_at),
			updated_at = $7
		WHERE id = $8
	`
	res, err := r.q.ExecContext(ctx, query, string(status), upd.ClearError, upd.ErrorMessage,
		upd.RetryCount, upd.PublishedAt, upd.FailedAt, upd.UpdatedAt, id)
	if err != nil {
		return fmt.Errorf("error updating status of post %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("error reading affected rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *postRepository) ClaimForPublishing(ctx context.Context, id int64, claimedAt time.Time) (bool, error) {
	query := `
		UPDATE posts
		SET status = 'PUBLISHING',
			updated_at = $2
		WHERE id = $1 AND status IN ('SCHEDULED', 'FAILED')
	`
	res, err := r.q.ExecContext(ctx, query, id, claimedAt)
	if err != nil {
		return false, fmt.Errorf("error claiming post %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("error reading affected rows: %w", err)
	}
	return affected == 1, nil
}

func (r *postRepository) RefreshClaim(ctx context.Context, id int64, at time.Time) (bool, error) {
	query := `UPDATE posts SET updated_at = $2 WHERE id = $1 AND status = 'PUBLISHING'`
	res, err := r.q.ExecContext(ctx, query, id, at)
	if err != nil {
		return false, fmt.Errorf("error refreshing claim on post %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("error reading affected rows: %w", err)
	}
	return affected == 1, nil
}

func (r *postRepository) FailStuck(ctx context.Context, id int64, updatedBefore time.Time, upd StatusUpdate) (bool, error) {
	query := `
		UPDATE posts
		SET status = 'FAILED',
			error_message = COALESCE($2, error_message),
			retry_count = COALESCE($3, retry_count),
			failed_at = COALESCE($4, failed_at),
			updated_at = $5
		WHERE id = $1 AND status = 'PUBLISHING' AND updated_at < $6
	`
	res, err := r.q.ExecContext(ctx, query, id, upd.ErrorMessage, upd.RetryCount, upd.FailedAt,
		upd.UpdatedAt, updatedBefore)
	if err != nil {
		return false, fmt.Errorf("error failing stuck post %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("error reading affected rows: %w", err)
	}
	return affected == 1, nil
}

func (r *postRepository) SetPendingPublication(ctx context.Context, id int64, pending models.PendingPublication) error {
	value, err := json.Marshal(pending)
	if err != nil {
		return fmt.Errorf("error encoding pending publication of post %d: %w", id, err)
	}
	query := `
		UPDATE posts
		SET metadata = jsonb_set(COALESCE(metadata, '{}'::jsonb), '{` + models.PendingPublicationKey + `}', $2::jsonb)
		WHERE id = $1
	`
	res, err := r.q.ExecContext(ctx, query, id, string(value))
	if err != nil {
		return fmt.Errorf("error saving pending publication of post %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("error reading affected rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *postRepository) Save(ctx context.Context, post *models.Post) (*models.Post, error) {
	if post.ID == 0 {
		query := `
			INSERT INTO posts (user_id, content, content_type, status, scheduled_at, retry_count,
				parent_post_id, comment_delay_minutes, social_account_id, metadata)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			RETURNING id, created_at, updated_at
		`
		err := r.q.QueryRowContext(ctx, query, post.UserID, post.Content, string(post.ContentType),
			string(post.Status), post.ScheduledAt, post.RetryCount, post.ParentPostID,
			post.CommentDelayMinutes, post.SocialAccountID, post.Metadata,
		).Scan(&post.ID, &post.CreatedAt, &post.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("error creating post: %w", err)
		}
		return post, nil
	}

	query := `
		UPDATE posts
		SET content = $1, content_type = $2, status = $3, scheduled_at = $4, published_at = $5,
			failed_at = $6, error_message = $7, retry_count = $8, parent_post_id = $9,
			comment_delay_minutes = $10, social_account_id = $11, metadata = $12, updated_at = now()
		WHERE id = $13
		RETURNING updated_at
	`
	err := r.q.QueryRowContext(ctx, query, post.Content, string(post.ContentType), string(post.Status),
		post.ScheduledAt, post.PublishedAt, post.FailedAt, post.ErrorMessage, post.RetryCount,
		post.ParentPostID, post.CommentDelayMinutes, post.SocialAccountID, post.Metadata, post.ID,
	).Scan(&post.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("error saving post %d: %w", post.ID, err)
	}
	return post, nil
}
