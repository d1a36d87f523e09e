package transfer

import "time"

type PassRequest struct {
	Mode string `json:"mode" validate:"omitempty,oneof=sync async"`
}

type PassQueued struct {
	Queued bool   `json:"queued"`
	Source string `json:"source"`
}

type MissedPost struct {
	ID          int64     `json:"id"`
	UserID      int64     `json:"user_id"`
	ScheduledAt time.Time `json:"scheduled_at"`
	OverdueBy   string    `json:"overdue_by"`
}

type MissedPostsResponse struct {
	Count int          `json:"count"`
	Posts []MissedPost `json:"posts"`
}
