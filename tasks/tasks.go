package tasks

import (
	"errors"
	"strings"
	"time"
)

// Common errors.
var (
	// ErrNotCached indicates the task is not in the store's cache.
	ErrNotCached = errors.New("task not cached")

	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("store closed")
)

// ProvisionalPrefix starts the id of a task that was created locally and has
// not been confirmed by the server yet.
const ProvisionalPrefix = "pending-"

// Status represents the lifecycle state of a task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusArchived  Status = "archived"
)

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// Valid reports whether s is a status the API accepts.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusArchived:
		return true
	default:
		return false
	}
}

// Priority represents task urgency.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// String returns the string representation of the priority.
func (p Priority) String() string {
	return string(p)
}

// Valid reports whether p is a priority the API accepts.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	default:
		return false
	}
}

// Task is a unit of work owned by a user.
type Task struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	Title       string     `json:"title"`
	Description *string    `json:"description,omitempty"`
	Status      Status     `json:"status"`
	Priority    Priority   `json:"priority"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`

	// CompletedAt is set by the server only.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Provisional reports whether the task is a local placeholder awaiting the
// server's copy.
func (t *Task) Provisional() bool {
	return strings.HasPrefix(t.ID, ProvisionalPrefix)
}

// Clone creates a deep copy of the task.
func (t *Task) Clone() *Task {
	clone := *t

	if t.Description != nil {
		desc := *t.Description
		clone.Description = &desc
	}

	if t.DueDate != nil {
		due := *t.DueDate
		clone.DueDate = &due
	}

	if t.CompletedAt != nil {
		completed := *t.CompletedAt
		clone.CompletedAt = &completed
	}

	return &clone
}

// CreateInput holds the fields of a new task. Priority defaults to medium.
type CreateInput struct {
	Title       string     `json:"title"`
	Description *string    `json:"description,omitempty"`
	Priority    Priority   `json:"priority,omitempty"`
	DueDate     *time.Time `json:"due_date,omitempty"`
}

// Patch holds the fields to change on a task. Nil fields are left as is.
type Patch struct {
	Title       *string    `json:"title,omitempty"`
	Description *string    `json:"description,omitempty"`
	Status      *Status    `json:"status,omitempty"`
	Priority    *Priority  `json:"priority,omitempty"`
	DueDate     *time.Time `json:"due_date,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.Status == nil && p.Priority == nil && p.DueDate == nil
}

// apply writes the patched fields onto t. CompletedAt is never touched.
func (p Patch) apply(t *Task) {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Description != nil {
		desc := *p.Description
		t.Description = &desc
	}
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.Priority != nil {
		t.Priority = *p.Priority
	}
	if p.DueDate != nil {
		due := *p.DueDate
		t.DueDate = &due
	}
}

// Filters narrows the task list. Status and Priority are applied by the
// server; Search is applied locally to the loaded page.
type Filters struct {
	Status   Status   `json:"status,omitempty"`
	Priority Priority `json:"priority,omitempty"`
	Search   string   `json:"search,omitempty"`
}

// Pagination describes the current page. Total and Pages come from the
// server.
type Pagination struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
	Pages int `json:"pages"`
}

// Skip returns the number of items before the current page.
func (p Pagination) Skip() int {
	if p.Page < 1 {
		return 0
	}
	return (p.Page - 1) * p.Limit
}

// Defaults for a new store.
const (
	DefaultPage  = 1
	DefaultLimit = 20
)

// pagesFor returns ceil(total/limit).
func pagesFor(total, limit int) int {
	if limit <= 0 || total <= 0 {
		return 0
	}
	return (total + limit - 1) / limit
}
