package validation

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/maheshrc27/postflow/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func images(n int) []*models.Media {
	media := make([]*models.Media, 0, n)
	for i := 0; i < n; i++ {
		media = append(media, &models.Media{
			Type:       models.MediaTypeImage,
			URL:        fmt.Sprintf("https://cdn.example.com/%d.jpg", i),
			OrderIndex: i,
		})
	}
	return media
}

func TestContentValidator_CarouselBounds(t *testing.T) {
	v := NewContentValidator(NewMediaURLValidator(nil))
	post := &models.Post{ContentType: models.ContentTypeCarousel}

	for _, n := range []int{0, 1, 21} {
		errs := v.Validate(context.Background(), post, images(n), URLOptions{})
		assert.NotEmpty(t, errs, "expected %d items to be rejected", n)
	}
	for _, n := range []int{2, 20} {
		errs := v.Validate(context.Background(), post, images(n), URLOptions{})
		assert.Empty(t, errs, "expected %d items to be accepted", n)
	}
}

func TestContentValidator_Text(t *testing.T) {
	v := NewContentValidator(NewMediaURLValidator(nil))

	errs := v.Validate(context.Background(), &models.Post{ContentType: models.ContentTypeText, Content: "  \n "}, nil, URLOptions{})
	require.Len(t, errs, 1)
	assert.Equal(t, "content", errs[0].Field)

	errs = v.Validate(context.Background(), &models.Post{ContentType: models.ContentTypeText, Content: "hello"}, nil, URLOptions{})
	assert.Empty(t, errs)
}

func TestContentValidator_ImageRequiresImageMedia(t *testing.T) {
	v := NewContentValidator(NewMediaURLValidator(nil))
	post := &models.Post{ContentType: models.ContentTypeImage}

	errs := v.Validate(context.Background(), post, nil, URLOptions{})
	require.Len(t, errs, 1)
	assert.Contains(t, errs.Error(), "missing image media")

	video := []*models.Media{{Type: models.MediaTypeVideo, URL: "https://cdn.example.com/clip.mp4"}}
	errs = v.Validate(context.Background(), post, video, URLOptions{})
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Message, "classified as VIDEO")

	assert.Empty(t, v.Validate(context.Background(), post, images(1), URLOptions{}))
	assert.NotEmpty(t, v.Validate(context.Background(), post, images(2), URLOptions{}))
}

func TestContentValidator_VideoRequiresVideoMedia(t *testing.T) {
	v := NewContentValidator(NewMediaURLValidator(nil))
	post := &models.Post{ContentType: models.ContentTypeVideo}

	errs := v.Validate(context.Background(), post, images(1), URLOptions{})
	require.Len(t, errs, 1)

	video := []*models.Media{{Type: models.MediaTypeVideo, URL: "https://cdn.example.com/clip.mov"}}
	assert.Empty(t, v.Validate(context.Background(), post, video, URLOptions{}))
}

func TestContentValidator_DeclaredTypeFallback(t *testing.T) {
	v := NewContentValidator(NewMediaURLValidator(nil))
	post := &models.Post{ContentType: models.ContentTypeImage}

	media := []*models.Media{{Type: models.MediaTypeImage, URL: "https://cdn.example.com/objects/abc123"}}
	assert.Empty(t, v.Validate(context.Background(), post, media, URLOptions{}))
}

func TestContentValidator_UnknownContentType(t *testing.T) {
	v := NewContentValidator(NewMediaURLValidator(nil))

	errs := v.Validate(context.Background(), &models.Post{ContentType: "REEL"}, nil, URLOptions{})
	require.Len(t, errs, 1)
	assert.Equal(t, "content_type", errs[0].Field)
}

func TestMediaURLValidator_RejectsPrivateHosts(t *testing.T) {
	v := NewMediaURLValidator(nil)
	ctx := context.Background()

	for _, raw := range []string{
		"http://localhost/a.jpg",
		"http://127.0.0.1/a.jpg",
		"http://10.1.2.3/a.jpg",
		"http://192.168.0.10/a.jpg",
		"http://[::1]/a.jpg",
		"ftp://cdn.example.com/a.jpg",
		"",
	} {
		assert.False(t, v.Validate(ctx, raw, URLOptions{}).Valid, raw)
	}
	assert.True(t, v.Validate(ctx, "https://cdn.example.com/a.jpg", URLOptions{}).Valid)
}

func TestMediaURLValidator_OwnHost(t *testing.T) {
	v := NewMediaURLValidator(nil)
	ctx := context.Background()
	raw := "https://app.postflow.io/media/a.jpg"

	assert.False(t, v.Validate(ctx, raw, URLOptions{OwnHostname: "app.postflow.io"}).Valid)
	assert.True(t, v.Validate(ctx, raw, URLOptions{OwnHostname: "app.postflow.io", AllowOwnHost: true}).Valid)
}

type stubResolver map[string][]net.IPAddr

func (r stubResolver) LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error) {
	addrs, ok := r[host]
	if !ok {
		return nil, errors.New("no such host")
	}
	return addrs, nil
}

func TestMediaURLValidator_ResolvesHosts(t *testing.T) {
	v := NewMediaURLValidator(stubResolver{
		"public.example.com":   {{IP: net.ParseIP("93.184.216.34")}},
		"internal.example.com": {{IP: net.ParseIP("10.0.0.5")}},
	})
	ctx := context.Background()

	assert.True(t, v.Validate(ctx, "https://public.example.com/a.png", URLOptions{}).Valid)

	res := v.Validate(ctx, "https://internal.example.com/a.png", URLOptions{})
	assert.False(t, res.Valid)
	assert.Contains(t, res.Error, "non-public")

	assert.False(t, v.Validate(ctx, "https://missing.example.com/a.png", URLOptions{}).Valid)
}

func TestClassifyMediaURL(t *testing.T) {
	cases := map[string]models.MediaType{
		"https://cdn.example.com/a.JPEG?sig=1": models.MediaTypeImage,
		"https://cdn.example.com/a.png":        models.MediaTypeImage,
		"https://cdn.example.com/a.mp4":        models.MediaTypeVideo,
		"https://cdn.example.com/a.mov":        models.MediaTypeVideo,
	}
	for raw, want := range cases {
		got, ok := ClassifyMediaURL(raw)
		require.True(t, ok, raw)
		assert.Equal(t, want, got, raw)
	}

	_, ok := ClassifyMediaURL("https://cdn.example.com/a.txt")
	assert.False(t, ok)
	_, ok = ClassifyMediaURL("https://cdn.example.com/blob")
	assert.False(t, ok)
}
