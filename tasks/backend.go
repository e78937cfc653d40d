package tasks

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/vinayprograms/taskgate/gateway"
)

// Query selects a page of tasks on the server.
type Query struct {
	Status   Status
	Priority Priority
	Skip     int
	Limit    int
}

// Values encodes the query as API parameters.
func (q Query) Values() url.Values {
	v := url.Values{}
	if q.Status != "" {
		v.Set("status_filter", string(q.Status))
	}
	if q.Priority != "" {
		v.Set("priority_filter", string(q.Priority))
	}
	v.Set("skip", strconv.Itoa(q.Skip))
	v.Set("limit", strconv.Itoa(q.Limit))
	return v
}

// Page is one page of the server's task list. Pages is nil when the server
// does not report it.
type Page struct {
	Items []Task `json:"items"`
	Total int    `json:"total"`
	Pages *int   `json:"pages,omitempty"`
}

// Backend is the server of record for tasks.
type Backend interface {
	List(ctx context.Context, q Query) (*Page, error)
	Get(ctx context.Context, id string) (*Task, error)
	Create(ctx context.Context, in CreateInput) (*Task, error)
	Update(ctx context.Context, id string, p Patch) (*Task, error)
	Delete(ctx context.Context, id string) error
}

// Caller sends requests through the gateway.
type Caller interface {
	Call(ctx context.Context, method, endpoint string, body interface{}, opts ...gateway.CallOption) (*gateway.Response, error)
}

// HTTPBackend implements Backend over the task API.
type HTTPBackend struct {
	caller Caller
}

// NewHTTPBackend creates a backend that calls the API through caller.
func NewHTTPBackend(caller Caller) *HTTPBackend {
	return &HTTPBackend{caller: caller}
}

// List fetches one page of tasks.
func (b *HTTPBackend) List(ctx context.Context, q Query) (*Page, error) {
	resp, err := b.caller.Call(ctx, http.MethodGet, "/tasks", nil, gateway.WithQuery(q.Values()))
	if err != nil {
		return nil, err
	}
	var page Page
	if err := resp.Decode(&page); err != nil {
		return nil, err
	}
	if page.Items == nil {
		page.Items = []Task{}
	}
	return &page, nil
}

// Get fetches a task by id.
func (b *HTTPBackend) Get(ctx context.Context, id string) (*Task, error) {
	return b.task(ctx, http.MethodGet, taskPath(id), nil)
}

// Create creates a task.
func (b *HTTPBackend) Create(ctx context.Context, in CreateInput) (*Task, error) {
	if in.Priority == "" {
		in.Priority = PriorityMedium
	}
	return b.task(ctx, http.MethodPost, "/tasks", in)
}

// Update sends only the patched fields.
func (b *HTTPBackend) Update(ctx context.Context, id string, p Patch) (*Task, error) {
	return b.task(ctx, http.MethodPatch, taskPath(id), p)
}

// Delete removes a task.
func (b *HTTPBackend) Delete(ctx context.Context, id string) error {
	_, err := b.caller.Call(ctx, http.MethodDelete, taskPath(id), nil)
	return err
}

func (b *HTTPBackend) task(ctx context.Context, method, endpoint string, body interface{}) (*Task, error) {
	resp, err := b.caller.Call(ctx, method, endpoint, body)
	if err != nil {
		return nil, err
	}
	var t Task
	if err := resp.Decode(&t); err != nil {
		return nil, err
	}
	return &t, nil
}

func taskPath(id string) string {
	return "/tasks/" + url.PathEscape(id)
}
