// Package threadstest provides a scripted in-memory Publisher for tests.
package threadstest

import (
	"context"
	"fmt"
	"sync"

	"github.com/maheshrc27/postflow/internal/threads"
)

type Call struct {
	Method      string
	Token       string
	UserID      string
	ContainerID string
	PostID      string
	Params      threads.ContainerParams
}

// Fake records every call. Containers report FINISHED unless Statuses scripts
// otherwise, and errors set on the Err fields are returned by the matching
// method.
type Fake struct {
	mu sync.Mutex

	Calls []Call

	CreateErr    error
	PublishErr   error
	StatusErr    error
	PermalinkErr error

	// Statuses scripts the responses of GetContainerStatus per container id.
	// The last entry repeats once the script is exhausted.
	Statuses map[string][]threads.ContainerStatus

	nextContainer int
	nextPost      int
	statusReads   map[string]int
}

func New() *Fake {
	return &Fake{
		Statuses:    map[string][]threads.ContainerStatus{},
		statusReads: map[string]int{},
	}
}

func (f *Fake) CreateContainer(ctx context.Context, token, userID string, params threads.ContainerParams) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Calls = append(f.Calls, Call{Method: "CreateContainer", Token: token, UserID: userID, Params: params})
	if f.CreateErr != nil {
		return "", f.CreateErr
	}
	f.nextContainer++
	return fmt.Sprintf("container-%d", f.nextContainer), nil
}

func (f *Fake) PublishContainer(ctx context.Context, token, userID, containerID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Calls = append(f.Calls, Call{Method: "PublishContainer", Token: token, UserID: userID, ContainerID: containerID})
	if f.PublishErr != nil {
		return "", f.PublishErr
	}
	f.nextPost++
	return fmt.Sprintf("post-%d", f.nextPost), nil
}

func (f *Fake) GetContainerStatus(ctx context.Context, token, containerID string) (*threads.ContainerStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Calls = append(f.Calls, Call{Method: "GetContainerStatus", Token: token, ContainerID: containerID})
	if f.StatusErr != nil {
		return nil, f.StatusErr
	}

	script := f.Statuses[containerID]
	if len(script) == 0 {
		return &threads.ContainerStatus{ID: containerID, Status: threads.StatusFinished}, nil
	}
	i := f.statusReads[containerID]
	if i >= len(script) {
		i = len(script) - 1
	}
	f.statusReads[containerID]++
	status := script[i]
	status.ID = containerID
	return &status, nil
}

func (f *Fake) GetPostPermalink(ctx context.Context, token, postID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Calls = append(f.Calls, Call{Method: "GetPostPermalink", Token: token, PostID: postID})
	if f.PermalinkErr != nil {
		return "", f.PermalinkErr
	}
	return "https://www.threads.net/post/" + postID, nil
}

// CallsTo returns the recorded calls of the named method in order.
func (f *Fake) CallsTo(method string) []Call {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []Call
	for _, c := range f.Calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

// PublishCount is the number of PublishContainer calls.
func (f *Fake) PublishCount() int {
	return len(f.CallsTo("PublishContainer"))
}

func (f *Fake) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = nil
}

var _ threads.Publisher = (*Fake)(nil)
