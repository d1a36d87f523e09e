package models

import "time"

type PublicationStatus string

const (
	PublicationStatusPublished PublicationStatus = "PUBLISHED"
	PublicationStatusFailed    PublicationStatus = "FAILED"
)

// PostPublication records one publish attempt of a post to a social account.
type PostPublication struct {
	ID              int64             `db:"id" json:"id"`
	PostID          int64             `db:"post_id" json:"post_id"`
	SocialAccountID int64             `db:"social_account_id" json:"social_account_id"`
	PlatformPostID  string            `db:"platform_post_id" json:"platform_post_id"`
	PlatformPostURL string            `db:"platform_post_url" json:"platform_post_url"`
	Status          PublicationStatus `db:"status" json:"status"`
	ErrorMessage    string            `db:"error_message" json:"error_message,omitempty"`
	PublishedAt     *time.Time        `db:"published_at" json:"published_at,omitempty"`
	CreatedAt       time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time         `db:"updated_at" json:"updated_at"`
}
