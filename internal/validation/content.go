package validation

import (
	"context"
	"fmt"
	"strings"

	"github.com/maheshrc27/postflow/internal/models"
)

const (
	MinCarouselItems = 2
	MaxCarouselItems = 20
)

// ContentValidator checks that a post's media matches its declared content type
// and that every media URL can be fetched by the platform. It has no side
// effects.
type ContentValidator struct {
	urls URLValidator
}

func NewContentValidator(urls URLValidator) *ContentValidator {
	return &ContentValidator{urls: urls}
}

// Validate returns the validation failures of post with the given media, which
// must be ordered by OrderIndex.
func (v *ContentValidator) Validate(ctx context.Context, post *models.Post, media []*models.Media, opts URLOptions) Errors {
	switch post.ContentType {
	case models.ContentTypeText:
		return v.validateText(post)
	case models.ContentTypeImage:
		return v.validateSingle(ctx, media, models.MediaTypeImage, opts)
	case models.ContentTypeVideo:
		return v.validateSingle(ctx, media, models.MediaTypeVideo, opts)
	case models.ContentTypeCarousel:
		return v.validateCarousel(ctx, media, opts)
	}
	return Errors{{Field: "content_type", Message: fmt.Sprintf("unsupported content type %q", post.ContentType)}}
}

func (v *ContentValidator) validateText(post *models.Post) Errors {
	if strings.TrimSpace(post.Content) == "" {
		return Errors{{Field: "content", Message: "text post content must not be empty"}}
	}
	return nil
}

func (v *ContentValidator) validateSingle(ctx context.Context, media []*models.Media, want models.MediaType, opts URLOptions) Errors {
	kind := strings.ToLower(string(want))
	if len(media) == 0 {
		return Errors{{
			Field:   "media",
			Message: fmt.Sprintf("missing %s media: %s posts require exactly one %s attachment", kind, want, kind),
		}}
	}
	if len(media) > 1 {
		return Errors{{
			Field:   "media",
			Message: fmt.Sprintf("%s posts require exactly one media item, got %d", want, len(media)),
		}}
	}

	item := media[0]
	if got := MediaTypeOf(item); got != want {
		return Errors{{
			Field:   "media[0].url",
			Message: fmt.Sprintf("missing %s media: attachment is classified as %s", kind, displayType(got)),
		}}
	}
	if err := v.checkURL(ctx, 0, item, opts); err != nil {
		return Errors{*err}
	}
	return nil
}

func (v *ContentValidator) validateCarousel(ctx context.Context, media []*models.Media, opts URLOptions) Errors {
	if len(media) < MinCarouselItems || len(media) > MaxCarouselItems {
		return Errors{{
			Field: "media",
			Message: fmt.Sprintf("%s posts require between %d and %d media items, got %d",
				models.ContentTypeCarousel, MinCarouselItems, MaxCarouselItems, len(media)),
		}}
	}

	var errs Errors
	for i, item := range media {
		if t := MediaTypeOf(item); t != models.MediaTypeImage && t != models.MediaTypeVideo {
			errs = append(errs, Error{
				Field:   fmt.Sprintf("media[%d].url", i),
				Message: "carousel items must be images or videos",
			})
			continue
		}
		if err := v.checkURL(ctx, i, item, opts); err != nil {
			errs = append(errs, *err)
		}
	}
	return errs
}

func (v *ContentValidator) checkURL(ctx context.Context, i int, item *models.Media, opts URLOptions) *Error {
	res := v.urls.Validate(ctx, item.URL, opts)
	if res.Valid {
		return nil
	}
	return &Error{Field: fmt.Sprintf("media[%d].url", i), Message: res.Error}
}

func displayType(t models.MediaType) string {
	if t == "" {
		return "unknown"
	}
	return string(t)
}
