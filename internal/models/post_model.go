package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

type ContentType string

const (
	ContentTypeText     ContentType = "TEXT"
	ContentTypeImage    ContentType = "IMAGE"
	ContentTypeVideo    ContentType = "VIDEO"
	ContentTypeCarousel ContentType = "CAROUSEL"
)

type PostStatus string

const (
	PostStatusDraft      PostStatus = "DRAFT"
	PostStatusScheduled  PostStatus = "SCHEDULED"
	PostStatusPublishing PostStatus = "PUBLISHING"
	PostStatusPublished  PostStatus = "PUBLISHED"
	PostStatusFailed     PostStatus = "FAILED"
	PostStatusCancelled  PostStatus = "CANCELLED"
)

type Post struct {
	ID                  int64       `db:"id" json:"id"`
	UserID              int64       `db:"user_id" json:"user_id"`
	Content             string      `db:"content" json:"content"`
	ContentType         ContentType `db:"content_type" json:"content_type"`
	Status              PostStatus  `db:"status" json:"status"`
	ScheduledAt         *time.Time  `db:"scheduled_at" json:"scheduled_at,omitempty"`
	PublishedAt         *time.Time  `db:"published_at" json:"published_at,omitempty"`
	FailedAt            *time.Time  `db:"failed_at" json:"failed_at,omitempty"`
	ErrorMessage        *string     `db:"error_message" json:"error_message,omitempty"`
	RetryCount          int         `db:"retry_count" json:"retry_count"`
	ParentPostID        *int64      `db:"parent_post_id" json:"parent_post_id,omitempty"`
	CommentDelayMinutes *int        `db:"comment_delay_minutes" json:"comment_delay_minutes,omitempty"`
	SocialAccountID     *int64      `db:"social_account_id" json:"social_account_id,omitempty"`
	Metadata            Metadata    `db:"metadata" json:"metadata,omitempty"`
	CreatedAt           time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time   `db:"updated_at" json:"updated_at"`

	// Loaded on demand by the query service.
	Media         []*Media           `db:"-" json:"media,omitempty"`
	SocialAccount *SocialAccount     `db:"-" json:"social_account,omitempty"`
	Publications  []*PostPublication `db:"-" json:"publications,omitempty"`
}

// IsChild reports whether the post is a threaded follow-up of another post.
func (p *Post) IsChild() bool {
	return p.ParentPostID != nil
}

// PublishedPlatformPostID returns the platform id of the first successful
// publication, or "" when the post has none loaded.
func (p *Post) PublishedPlatformPostID() string {
	for _, pub := range p.Publications {
		if pub.Status == PublicationStatusPublished && pub.PlatformPostID != "" {
			return pub.PlatformPostID
		}
	}
	return ""
}

type MediaType string

const (
	MediaTypeImage MediaType = "IMAGE"
	MediaTypeVideo MediaType = "VIDEO"
)

type Media struct {
	ID         int64     `db:"id" json:"id"`
	PostID     int64     `db:"post_id" json:"post_id"`
	Type       MediaType `db:"type" json:"type"`
	URL        string    `db:"url" json:"url"`
	StorageKey string    `db:"storage_key" json:"storage_key,omitempty"`
	AltText    string    `db:"alt_text" json:"alt_text,omitempty"`
	OrderIndex int       `db:"order_index" json:"order_index"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// Metadata is the free-form JSONB column attached to a post.
type Metadata map[string]interface{}

func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func (m *Metadata) Scan(src interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*m = Metadata{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return errors.New("metadata: unsupported column type")
	}
	if len(raw) == 0 {
		*m = Metadata{}
		return nil
	}
	return json.Unmarshal(raw, m)
}
