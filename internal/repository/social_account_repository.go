package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/maheshrc27/postflow/internal/models"
)

type SocialAccountRepository interface {
	Create(ctx context.Context, sa *models.SocialAccount) (int64, error)
	GetByID(ctx context.Context, id int64) (*models.SocialAccount, error)
	ListByIDs(ctx context.Context, ids []int64) (map[int64]*models.SocialAccount, error)
	// FindByUserIDAndPlatform returns the user's accounts on platform, oldest first.
	FindByUserIDAndPlatform(ctx context.Context, userID int64, platform string) ([]*models.SocialAccount, error)
}

type socialAccountRepository struct {
	q querier
}

const socialAccountColumns = `id, user_id, platform, account_id, account_username, access_token,
	token_expires_at, account_status, created_at, updated_at`

func scanSocialAccount(row rowScanner) (*models.SocialAccount, error) {
	var sa models.SocialAccount
	err := row.Scan(&sa.ID, &sa.UserID, &sa.Platform, &sa.AccountID, &sa.AccountUsername,
		&sa.AccessToken, &sa.TokenExpiresAt, &sa.AccountStatus, &sa.CreatedAt, &sa.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &sa, nil
}

func (r *socialAccountRepository) Create(ctx context.Context, sa *models.SocialAccount) (int64, error) {
	query := `
		INSERT INTO social_accounts (
			user_id,
			platform,
			account_id,
			account_username,
			access_token,
			token_expires_at,
			account_status
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`
	err := r.q.QueryRowContext(ctx, query,
		sa.UserID,
		sa.Platform,
		sa.AccountID,
		sa.AccountUsername,
		sa.AccessToken,
		sa.TokenExpiresAt,
		string(sa.AccountStatus),
	).Scan(&sa.ID, &sa.CreatedAt, &sa.UpdatedAt)
	if err != nil {
		return 0, fmt.Errorf("error creating social account: %w", err)
	}
	return sa.ID, nil
}

func (r *socialAccountRepository) GetByID(ctx context.Context, id int64) (*models.SocialAccount, error) {
	query := `SELECT ` + socialAccountColumns + ` FROM social_accounts WHERE id = $1`

	sa, err := scanSocialAccount(r.q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("error fetching social account %d: %w", id, err)
	}
	return sa, nil
}

func (r *socialAccountRepository) ListByIDs(ctx context.Context, ids []int64) (map[int64]*models.SocialAccount, error) {
	result := make(map[int64]*models.SocialAccount, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	query := `SELECT ` + socialAccountColumns + ` FROM social_accounts WHERE id = ANY($1)`
	rows, err := r.q.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("error querying social accounts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		sa, err := scanSocialAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning social account: %w", err)
		}
		result[sa.ID] = sa
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating social accounts: %w", err)
	}
	return result, nil
}

func (r *socialAccountRepository) FindByUserIDAndPlatform(ctx context.Context, userID int64, platform string) ([]*models.SocialAccount, error) {
	query := `
		SELECT ` + socialAccountColumns + `
		FROM social_accounts
		WHERE user_id = $1 AND platform = $2
		ORDER BY created_at ASC, id ASC
	`
	rows, err := r.q.QueryContext(ctx, query, userID, platform)
	if err != nil {
		return nil, fmt.Errorf("error querying social accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*models.SocialAccount
	for rows.Next() {
		sa, err := scanSocialAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning social account: %w", err)
		}
		accounts = append(accounts, sa)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating social accounts: %w", err)
	}
	return accounts, nil
}
