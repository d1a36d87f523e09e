package repository

import (
	"context"
	"fmt"

	"github.com/lib/pq"
	"github.com/maheshrc27/postflow/internal/models"
)

type PostMediaRepository interface {
	Create(ctx context.Context, m *models.Media) (int64, error)
	ListByPostID(ctx context.Context, postID int64) ([]*models.Media, error)
	// ListByPostIDs returns media grouped by post id, each group ordered by
	// order_index.
	ListByPostIDs(ctx context.Context, postIDs []int64) (map[int64][]*models.Media, error)
}

type postMediaRepository struct {
	q querier
}

const mediaColumns = `id, post_id, type, url, storage_key, alt_text, order_index, created_at`

func (r *postMediaRepository) Create(ctx context.Context, m *models.Media) (int64, error) {
	query := `
		INSERT INTO post_media (post_id, type, url, storage_key, alt_text, order_index)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`
	err := r.q.QueryRowContext(ctx, query, m.PostID, string(m.Type), m.URL, m.StorageKey, m.AltText, m.OrderIndex).
		Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("error creating media for post %d: %w", m.PostID, err)
	}
	return m.ID, nil
}

func (r *postMediaRepository) ListByPostID(ctx context.Context, postID int64) ([]*models.Media, error) {
	grouped, err := r.ListByPostIDs(ctx, []int64{postID})
	if err != nil {
		return nil, err
	}
	return grouped[postID], nil
}

func (r *postMediaRepository) ListByPostIDs(ctx context.Context, postIDs []int64) (map[int64][]*models.Media, error) {
	result := make(map[int64][]*models.Media, len(postIDs))
	if len(postIDs) == 0 {
		return result, nil
	}

	query := `
		SELECT ` + mediaColumns + `
		FROM post_media
		WHERE post_id = ANY($1)
		ORDER BY post_id, order_index
	`
	rows, err := r.q.QueryContext(ctx, query, pq.Array(postIDs))
	if err != nil {
		return nil, fmt.Errorf("error querying post media: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var m models.Media
		if err := rows.Scan(&m.ID, &m.PostID, &m.Type, &m.URL, &m.StorageKey, &m.AltText, &m.OrderIndex, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("error scanning post media: %w", err)
		}
		result[m.PostID] = append(result[m.PostID], &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating post media: %w", err)
	}
	return result, nil
}
