package threads

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/maheshrc27/postflow/internal/models"
)

type MediaType string

const (
	MediaTypeText     MediaType = "TEXT"
	MediaTypeImage    MediaType = "IMAGE"
	MediaTypeVideo    MediaType = "VIDEO"
	MediaTypeCarousel MediaType = "CAROUSEL"
)

// ContainerParams are the fields of a media container creation request. Empty
// and nil fields are omitted from the request.
type ContainerParams struct {
	MediaType      MediaType
	Text           string
	ImageURL       string
	VideoURL       string
	AltText        string
	IsCarouselItem bool
	Children       []string
	ReplyToID      string

	LinkAttachment  string
	TopicTag        string
	ReplyControl    models.ReplyControl
	LocationID      string
	AutoPublishText *bool
	PollAttachment  *models.PollAttachment
	TextAttachment  *models.TextAttachment
	GifAttachment   *models.GifAttachment
	IsGhostPost     *bool
}

// ApplyOptions copies the recognised publishing options onto p. Attachments
// that only make sense on a text post are ignored for other media types.
func (p *ContainerParams) ApplyOptions(opts models.ThreadsOptions) {
	p.LinkAttachment = opts.LinkAttachment
	p.TopicTag = opts.TopicTag
	p.ReplyControl = opts.ReplyControl
	p.LocationID = opts.LocationID
	p.IsGhostPost = opts.IsGhostPost

	if p.MediaType != MediaTypeText {
		return
	}
	p.AutoPublishText = opts.AutoPublishText
	p.PollAttachment = opts.PollAttachment
	p.TextAttachment = opts.TextAttachment
	p.GifAttachment = opts.GifAttachment
}

// Values encodes p as form parameters.
func (p ContainerParams) Values() (url.Values, error) {
	v := url.Values{}
	v.Set("media_type", string(p.MediaType))
	setIf(v, "text", p.Text)
	setIf(v, "image_url", p.ImageURL)
	setIf(v, "video_url", p.VideoURL)
	setIf(v, "alt_text", p.AltText)
	if p.IsCarouselItem {
		v.Set("is_carousel_item", "true")
	}
	if len(p.Children) > 0 {
		v.Set("children", strings.Join(p.Children, ","))
	}
	setIf(v, "reply_to_id", p.ReplyToID)
	setIf(v, "link_attachment", p.LinkAttachment)
	setIf(v, "topic_tag", p.TopicTag)
	if p.ReplyControl != "" {
		if _, ok := models.ParseReplyControl(string(p.ReplyControl)); ok {
			v.Set("reply_control", string(p.ReplyControl))
		}
	}
	setIf(v, "location_id", p.LocationID)
	if p.AutoPublishText != nil {
		v.Set("auto_publish_text", strconv.FormatBool(*p.AutoPublishText))
	}
	if p.IsGhostPost != nil {
		v.Set("is_ghost_post", strconv.FormatBool(*p.IsGhostPost))
	}

	attachments := []struct {
		key   string
		value interface{}
		set   bool
	}{
		{"poll_attachment", p.PollAttachment, p.PollAttachment != nil},
		{"text_attachment", p.TextAttachment, p.TextAttachment != nil},
		{"gif_attachment", p.GifAttachment, p.GifAttachment != nil},
	}
	for _, a := range attachments {
		if !a.set {
			continue
		}
		raw, err := json.Marshal(a.value)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s: %w", a.key, err)
		}
		v.Set(a.key, string(raw))
	}
	return v, nil
}

func setIf(v url.Values, key, value string) {
	if value != "" {
		v.Set(key, value)
	}
}
