package models

import (
	"time"
)

const PlatformThreads = "threads"

type AccountStatus string

const (
	AccountStatusActive  AccountStatus = "ACTIVE"
	AccountStatusExpired AccountStatus = "EXPIRED"
	AccountStatusRevoked AccountStatus = "REVOKED"
	AccountStatusError   AccountStatus = "ERROR"
	AccountStatusPending AccountStatus = "PENDING"
)

type SocialAccount struct {
	ID              int64         `db:"id" json:"id"`
	UserID          int64         `db:"user_id" json:"user_id"`
	Platform        string        `db:"platform" json:"platform"`
	AccountID       string        `db:"account_id" json:"account_id"`
	AccountUsername string        `db:"account_username" json:"account_username"`
	AccessToken     string        `db:"access_token" json:"-"`
	TokenExpiresAt  *time.Time    `db:"token_expires_at" json:"token_expires_at,omitempty"`
	AccountStatus   AccountStatus `db:"account_status" json:"account_status"`
	CreatedAt       time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time     `db:"updated_at" json:"updated_at"`
}

func (a *SocialAccount) IsActive() bool {
	return a != nil && a.AccountStatus == AccountStatusActive
}
