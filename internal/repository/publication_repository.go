package repository

import (
	"context"
	"fmt"

	"github.com/lib/pq"
	"github.com/maheshrc27/postflow/internal/models"
)

type PublicationRepository interface {
	Create(ctx context.Context, p *models.PostPublication) (int64, error)
	Save(ctx context.Context, p *models.PostPublication) error
	// ListByPostIDs returns publications grouped by post id, oldest first.
	ListByPostIDs(ctx context.Context, postIDs []int64) (map[int64][]*models.PostPublication, error)
}

type publicationRepository struct {
	q querier
}

func (r *publicationRepository) Create(ctx context.Context, p *models.PostPublication) (int64, error) {
	query := `
		INSERT INTO post_publications (post_id, social_account_id, platform_post_id, platform_post_url,
			status, error_message, published_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`
	err := r.q.QueryRowContext(ctx, query, p.PostID, p.SocialAccountID, p.PlatformPostID,
		p.PlatformPostURL, string(p.Status), p.ErrorMessage, p.PublishedAt,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return 0, fmt.Errorf("error creating publication for post %d: %w", p.PostID, err)
	}
	return p.ID, nil
}

func (r *publicationRepository) Save(ctx context.Context, p *models.PostPublication) error {
	query := `
		UPDATE post_publications
		SET platform_post_id = $1, platform_post_url = $2, status = $3, error_message = $4,
			published_at = $5, updated_at = now()
		WHERE id = $6
	`
	res, err := r.q.ExecContext(ctx, query, p.PlatformPostID, p.PlatformPostURL, string(p.Status),
		p.ErrorMessage, p.PublishedAt, p.ID)
	if err != nil {
		return fmt.Errorf("error saving publication %d: %w", p.ID, err)
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

func (r *publicationRepository) ListByPostIDs(ctx context.Context, postIDs []int64) (map[int64][]*models.PostPublication, error) {
	result := make(map[int64][]*models.PostPublication, len(postIDs))
	if len(postIDs) == 0 {
		return result, nil
	}

	query := `
		SELECT id, post_id, social_account_id, platform_post_id, platform_post_url, status,
			error_message, published_at, created_at, updated_at
		FROM post_publications
		WHERE post_id = ANY($1)
		ORDER BY post_id, created_at ASC, id ASC
	`
	rows, err := r.q.QueryContext(ctx, query, pq.Array(postIDs))
	if err != nil {
		return nil, fmt.Errorf("error querying publications: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p models.PostPublication
		err := rows.Scan(&p.ID, &p.PostID, &p.SocialAccountID, &p.PlatformPostID, &p.PlatformPostURL,
			&p.Status, &p.ErrorMessage, &p.PublishedAt, &p.CreatedAt, &p.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("error scanning publication: %w", err)
		}
		result[p.PostID] = append(result[p.PostID], &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating publications: %w", err)
	}
	return result, nil
}
