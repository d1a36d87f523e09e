package threads

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/maheshrc27/postflow/internal/transfer"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

const DefaultBaseURL = "https://graph.threads.net/v1.0"

type ContainerStatusCode string

const (
	StatusFinished   ContainerStatusCode = "FINISHED"
	StatusInProgress ContainerStatusCode = "IN_PROGRESS"
	StatusError      ContainerStatusCode = "ERROR"
	StatusExpired    ContainerStatusCode = "EXPIRED"
	StatusPublished  ContainerStatusCode = "PUBLISHED"
)

type ContainerStatus struct {
	ID           string
	Status       ContainerStatusCode
	ErrorMessage string
}

// Publisher is the container-based publishing API of the platform.
type Publisher interface {
	CreateContainer(ctx context.Context, token, userID string, params ContainerParams) (string, error)
	PublishContainer(ctx context.Context, token, userID, containerID string) (string, error)
	GetContainerStatus(ctx context.Context, token, containerID string) (*ContainerStatus, error)
	GetPostPermalink(ctx context.Context, token, postID string) (string, error)
}

// APIError is a non-2xx response from the Graph API.
type APIError struct {
	StatusCode  int
	Message     string
	Type        string
	Code        int
	Subcode     int
	IsTransient bool
	TraceID     string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("threads api error: status %d", e.StatusCode)
	}
	return fmt.Sprintf("threads api error (status %d, code %d): %s", e.StatusCode, e.Code, e.Message)
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient returns a Graph API client. A nil httpClient uses a client with a
// 30 second timeout.
func NewClient(baseURL string, httpClient *http.Client, logger *zap.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}
}

func (c *Client) CreateContainer(ctx context.Context, token, userID string, params ContainerParams) (string, error) {
	form, err := params.Values()
	if err != nil {
		return "", err
	}

	var result transfer.ThreadsIDResponse
	if err := c.do(ctx, token, http.MethodPost, "/"+url.PathEscape(userID)+"/threads", nil, form, &result); err != nil {
		return "", fmt.Errorf("failed to create %s container: %w", params.MediaType, err)
	}
	if result.ID == "" {
		return "", fmt.Errorf("no container ID returned from Threads")
	}

	c.logger.Debug("created threads container",
		zap.String("container_id", result.ID),
		zap.String("media_type", string(params.MediaType)))
	return result.ID, nil
}

func (c *Client) PublishContainer(ctx context.Context, token, userID, containerID string) (string, error) {
	form := url.Values{}
	form.Set("creation_id", containerID)

	var result transfer.ThreadsIDResponse
	if err := c.do(ctx, token, http.MethodPost, "/"+url.PathEscape(userID)+"/threads_publish", nil, form, &result); err != nil {
		return "", fmt.Errorf("failed to publish container %s: %w", containerID, err)
	}
	if result.ID == "" {
		return "", fmt.Errorf("no post ID returned from Threads for container %s", containerID)
	}
	return result.ID, nil
}

func (c *Client) GetContainerStatus(ctx context.Context, token, containerID string) (*ContainerStatus, error) {
	query := url.Values{}
	query.Set("fields", "id,status,error_message")

	var result transfer.ThreadsContainerStatus
	if err := c.do(ctx, token, http.MethodGet, "/"+url.PathEscape(containerID), query, nil, &result); err != nil {
		return nil, fmt.Errorf("failed to get status of container %s: %w", containerID, err)
	}
	return &ContainerStatus{
		ID:           result.ID,
		Status:       ContainerStatusCode(result.Status),
		ErrorMessage: result.ErrorMessage,
	}, nil
}

func (c *Client) GetPostPermalink(ctx context.Context, token, postID string) (string, error) {
	query := url.Values{}
	query.Set("fields", "permalink")

	var result transfer.ThreadsPermalink
	if err := c.do(ctx, token, http.MethodGet, "/"+url.PathEscape(postID), query, nil, &result); err != nil {
		return "", fmt.Errorf("failed to get permalink of post %s: %w", postID, err)
	}
	if result.Permalink == "" {
		return "", fmt.Errorf("no permalink returned for post %s", postID)
	}
	return result.Permalink, nil
}

// authorized wraps the base client with a bearer token transport.
func (c *Client) authorized(ctx context.Context, token string) *http.Client {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	return oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: token,
		TokenType:   "Bearer",
	}))
}

func (c *Client) do(ctx context.Context, token, method, path string, query, form url.Values, out interface{}) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.authorized(ctx, token).Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request error: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("error reading response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeAPIError(resp.StatusCode, respBody)
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("error parsing response: %w", err)
	}
	return nil
}

func decodeAPIError(status int, body []byte) error {
	apiErr := &APIError{StatusCode: status}

	var envelope transfer.ThreadsErrorResponse
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Error.Message == "" {
		apiErr.Message = strings.TrimSpace(string(body))
		return apiErr
	}

	apiErr.Message = envelope.Error.Message
	if envelope.Error.ErrorUserMsg != "" {
		apiErr.Message = envelope.Error.Message + ": " + envelope.Error.ErrorUserMsg
	}
	apiErr.Type = envelope.Error.Type
	apiErr.Code = envelope.Error.Code
	apiErr.Subcode = envelope.Error.ErrorSubcode
	apiErr.IsTransient = envelope.Error.IsTransient
	apiErr.TraceID = envelope.Error.FbtraceID
	return apiErr
}
