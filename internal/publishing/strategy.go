package publishing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/threads"
	"github.com/maheshrc27/postflow/internal/validation"
	"go.uber.org/zap"
)

var (
	ErrNoStrategy      = errors.New("no publishing strategy for content type")
	ErrContainerFailed = errors.New("media container failed")
)

// PublishContext carries everything a strategy needs to publish one post.
type PublishContext struct {
	Post        *models.Post
	Media       []*models.Media
	Account     *models.SocialAccount
	AccessToken string
	// ReplyToID is the platform id of the published parent, set for child
	// comments.
	ReplyToID string
	// OwnHostname, when set, allows media served from this host.
	OwnHostname string
}

func (pc *PublishContext) urlOptions() validation.URLOptions {
	return validation.URLOptions{
		AllowOwnHost: pc.OwnHostname != "",
		OwnHostname:  pc.OwnHostname,
	}
}

type PublishResult struct {
	PlatformPostID  string
	PlatformPostURL string
}

// Strategy publishes one content type through the container protocol.
type Strategy interface {
	Type() models.ContentType
	CanHandle(post *models.Post) bool
	Validate(ctx context.Context, pc *PublishContext) validation.Errors
	Publish(ctx context.Context, pc *PublishContext) (*PublishResult, error)
}

// PollPolicy bounds how long a container is polled before publishing.
type PollPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxWait         time.Duration
}

type Config struct {
	// WebBaseURL is used to build a permalink when the platform cannot return
	// one.
	WebBaseURL string
	TextPoll   PollPolicy
	ImagePoll  PollPolicy
	VideoPoll  PollPolicy
}

const DefaultWebBaseURL = "https://www.threads.net"

func DefaultConfig() Config {
	return Config{
		WebBaseURL: DefaultWebBaseURL,
		TextPoll:   PollPolicy{InitialInterval: time.Second, MaxInterval: 5 * time.Second, MaxWait: time.Minute},
		ImagePoll:  PollPolicy{InitialInterval: time.Second, MaxInterval: 5 * time.Second, MaxWait: time.Minute},
		VideoPoll:  PollPolicy{InitialInterval: 5 * time.Second, MaxInterval: 30 * time.Second, MaxWait: 10 * time.Minute},
	}
}

// Registry resolves a post's content type to its strategy.
type Registry struct {
	strategies map[models.ContentType]Strategy
}

func NewRegistry(strategies ...Strategy) *Registry {
	r := &Registry{strategies: make(map[models.ContentType]Strategy, len(strategies))}
	for _, s := range strategies {
		r.strategies[s.Type()] = s
	}
	return r
}

// NewDefaultRegistry wires the text, image, video and carousel strategies.
func NewDefaultRegistry(publisher threads.Publisher, validator *validation.ContentValidator, cfg Config, logger *zap.Logger) *Registry {
	return NewRegistry(
		NewTextStrategy(publisher, validator, cfg, logger),
		NewImageStrategy(publisher, validator, cfg, logger),
		NewVideoStrategy(publisher, validator, cfg, logger),
		NewCarouselStrategy(publisher, validator, cfg, logger),
	)
}

func (r *Registry) GetStrategy(post *models.Post) (Strategy, error) {
	s, ok := r.strategies[post.ContentType]
	if !ok || !s.CanHandle(post) {
		return nil, fmt.Errorf("%w: %q", ErrNoStrategy, post.ContentType)
	}
	return s, nil
}
