package models

import (
	"encoding/json"
	"time"
)

const PendingPublicationKey = "pending_publication"

// PendingPublication is a platform post whose publication row could not be
// written. It lives in post metadata until recovery records it.
type PendingPublication struct {
	PlatformPostID  string    `json:"platform_post_id"`
	PlatformPostURL string    `json:"platform_post_url"`
	SocialAccountID int64     `json:"social_account_id"`
	PublishedAt     time.Time `json:"published_at"`
}

// PendingPublication returns the pending publication stored in metadata, or
// nil when there is none.
func (m Metadata) PendingPublication() *PendingPublication {
	raw, ok := m[PendingPublicationKey]
	if !ok || raw == nil {
		return nil
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	var pending PendingPublication
	if err := json.Unmarshal(b, &pending); err != nil || pending.PlatformPostID == "" {
		return nil
	}
	return &pending
}

// WithPendingPublication returns a copy of m carrying pending in its JSON
// form, the same shape it has after a database round trip.
func (m Metadata) WithPendingPublication(pending PendingPublication) (Metadata, error) {
	b, err := json.Marshal(pending)
	if err != nil {
		return nil, err
	}
	var value map[string]interface{}
	if err := json.Unmarshal(b, &value); err != nil {
		return nil, err
	}
	out := make(Metadata, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	out[PendingPublicationKey] = value
	return out, nil
}
