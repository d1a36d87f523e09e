package models

import "strings"

type ReplyControl string

const (
	ReplyControlEveryone             ReplyControl = "everyone"
	ReplyControlAccountsYouFollow    ReplyControl = "accounts_you_follow"
	ReplyControlMentionedOnly        ReplyControl = "mentioned_only"
	ReplyControlParentPostAuthorOnly ReplyControl = "parent_post_author_only"
	ReplyControlFollowersOnly        ReplyControl = "followers_only"
)

var allowedReplyControls = map[ReplyControl]struct{}{
	ReplyControlEveryone:             {},
	ReplyControlAccountsYouFollow:    {},
	ReplyControlMentionedOnly:        {},
	ReplyControlParentPostAuthorOnly: {},
	ReplyControlFollowersOnly:        {},
}

// ParseReplyControl returns the reply control for raw and whether it is one of
// the values the platform accepts.
func ParseReplyControl(raw string) (ReplyControl, bool) {
	rc := ReplyControl(strings.ToLower(strings.TrimSpace(raw)))
	_, ok := allowedReplyControls[rc]
	return rc, ok
}

type PollAttachment struct {
	OptionA string `json:"option_a"`
	OptionB string `json:"option_b"`
	OptionC string `json:"option_c,omitempty"`
	OptionD string `json:"option_d,omitempty"`
}

type TextAttachment struct {
	Plaintext         string `json:"plaintext"`
	LinkAttachmentURL string `json:"link_attachment_url,omitempty"`
}

type GifAttachment struct {
	GifID    string `json:"gif_id"`
	Provider string `json:"provider"`
}

// ThreadsOptions is the typed view of metadata.threads. Every field is
// optional; zero values mean "not set".
type ThreadsOptions struct {
	LinkAttachment  string
	TopicTag        string
	ReplyControl    ReplyControl
	LocationID      string
	AutoPublishText *bool
	PollAttachment  *PollAttachment
	TextAttachment  *TextAttachment
	GifAttachment   *GifAttachment
	IsGhostPost     *bool
}

// ThreadsOptions extracts the recognised platform options from the metadata
// map. Values of the wrong type and unknown reply controls are dropped.
func (m Metadata) ThreadsOptions() ThreadsOptions {
	var opts ThreadsOptions
	raw, ok := m["threads"].(map[string]interface{})
	if !ok {
		return opts
	}

	opts.LinkAttachment = stringField(raw, "link_attachment")
	opts.TopicTag = stringField(raw, "topic_tag")
	opts.LocationID = stringField(raw, "location_id")
	if rc, ok := ParseReplyControl(stringField(raw, "reply_control")); ok {
		opts.ReplyControl = rc
	}
	opts.AutoPublishText = boolField(raw, "auto_publish_text")
	opts.IsGhostPost = boolField(raw, "is_ghost_post")

	if poll, ok := raw["poll_attachment"].(map[string]interface{}); ok {
		p := PollAttachment{
			OptionA: stringField(poll, "option_a"),
			OptionB: stringField(poll, "option_b"),
			OptionC: stringField(poll, "option_c"),
			OptionD: stringField(poll, "option_d"),
		}
		// a poll needs at least two options
		if p.OptionA != "" && p.OptionB != "" {
			opts.PollAttachment = &p
		}
	}
	if text, ok := raw["text_attachment"].(map[string]interface{}); ok {
		t := TextAttachment{
			Plaintext:         stringField(text, "plaintext"),
			LinkAttachmentURL: stringField(text, "link_attachment_url"),
		}
		if t.Plaintext != "" {
			opts.TextAttachment = &t
		}
	}
	if gif, ok := raw["gif_attachment"].(map[string]interface{}); ok {
		g := GifAttachment{
			GifID:    stringField(gif, "gif_id"),
			Provider: stringField(gif, "provider"),
		}
		if g.GifID != "" && g.Provider != "" {
			opts.GifAttachment = &g
		}
	}
	return opts
}

func stringField(m map[string]interface{}, key string) string {
	v, ok := m[key].(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(v)
}

func boolField(m map[string]interface{}, key string) *bool {
	v, ok := m[key].(bool)
	if !ok {
		return nil
	}
	return &v
}
