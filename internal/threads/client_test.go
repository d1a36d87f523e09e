package threads

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/maheshrc27/postflow/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, srv.Client(), zap.NewNop())
}

func TestClient_CreateContainer(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/1789/threads", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "TEXT", r.PostForm.Get("media_type"))
		assert.Equal(t, "hello", r.PostForm.Get("text"))
		assert.Equal(t, "555", r.PostForm.Get("reply_to_id"))
		w.Write([]byte(`{"id":"c-1"}`))
	})

	id, err := client.CreateContainer(context.Background(), "tok", "1789", ContainerParams{
		MediaType: MediaTypeText,
		Text:      "hello",
		ReplyToID: "555",
	})
	require.NoError(t, err)
	assert.Equal(t, "c-1", id)
}

func TestClient_PublishContainer(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/1789/threads_publish", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "c-1", r.PostForm.Get("creation_id"))
		w.Write([]byte(`{"id":"p-1"}`))
	})

	id, err := client.PublishContainer(context.Background(), "tok", "1789", "c-1")
	require.NoError(t, err)
	assert.Equal(t, "p-1", id)
}

func TestClient_GetContainerStatus(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/c-9", r.URL.Path)
		assert.Equal(t, "id,status,error_message", r.URL.Query().Get("fields"))
		w.Write([]byte(`{"id":"c-9","status":"ERROR","error_message":"unsupported codec"}`))
	})

	status, err := client.GetContainerStatus(context.Background(), "tok", "c-9")
	require.NoError(t, err)
	assert.Equal(t, StatusError, status.Status)
	assert.Equal(t, "unsupported codec", status.ErrorMessage)
}

func TestClient_GetPostPermalink(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "permalink", r.URL.Query().Get("fields"))
		w.Write([]byte(`{"id":"p-1","permalink":"https://www.threads.net/@jane/post/abc"}`))
	})

	link, err := client.GetPostPermalink(context.Background(), "tok", "p-1")
	require.NoError(t, err)
	assert.Equal(t, "https://www.threads.net/@jane/post/abc", link)
}

func TestClient_APIError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"Invalid parameter","type":"OAuthException","code":100,"error_subcode":2207052,"fbtrace_id":"xyz"}}`))
	})

	_, err := client.CreateContainer(context.Background(), "tok", "1789", ContainerParams{MediaType: MediaTypeText, Text: "x"})
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, 100, apiErr.Code)
	assert.Equal(t, 2207052, apiErr.Subcode)
	assert.Contains(t, err.Error(), "Invalid parameter")
}

func TestClient_APIErrorWithoutEnvelope(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream unavailable"))
	})

	_, err := client.PublishContainer(context.Background(), "tok", "1789", "c-1")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "upstream unavailable", apiErr.Message)
}

func TestContainerParams_Values(t *testing.T) {
	yes := true
	params := ContainerParams{
		MediaType:      MediaTypeCarousel,
		Text:           "caption",
		Children:       []string{"a", "b", "c"},
		ReplyControl:   models.ReplyControl("BOGUS"),
		TopicTag:       "golang",
		IsGhostPost:    &yes,
		PollAttachment: &models.PollAttachment{OptionA: "yes", OptionB: "no"},
	}

	v, err := params.Values()
	require.NoError(t, err)
	assert.Equal(t, "a,b,c", v.Get("children"))
	assert.Equal(t, "golang", v.Get("topic_tag"))
	assert.Equal(t, "true", v.Get("is_ghost_post"))
	assert.Equal(t, `{"option_a":"yes","option_b":"no"}`, v.Get("poll_attachment"))
	_, ok := v["reply_control"]
	assert.False(t, ok)
	_, ok = v["image_url"]
	assert.False(t, ok)
}

func TestContainerParams_ApplyOptionsTextOnlyAttachments(t *testing.T) {
	yes := true
	opts := models.ThreadsOptions{
		ReplyControl:    models.ReplyControlFollowersOnly,
		AutoPublishText: &yes,
		TextAttachment:  &models.TextAttachment{Plaintext: "long form"},
	}

	image := ContainerParams{MediaType: MediaTypeImage}
	image.ApplyOptions(opts)
	assert.Equal(t, models.ReplyControlFollowersOnly, image.ReplyControl)
	assert.Nil(t, image.AutoPublishText)
	assert.Nil(t, image.TextAttachment)

	text := ContainerParams{MediaType: MediaTypeText}
	text.ApplyOptions(opts)
	require.NotNil(t, text.TextAttachment)
	assert.Equal(t, "long form", text.TextAttachment.Plaintext)
	assert.True(t, *text.AutoPublishText)
}
