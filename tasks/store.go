package tasks

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vinayprograms/taskgate/bus"
	"github.com/vinayprograms/taskgate/logging"
	"github.com/vinayprograms/taskgate/telemetry"
)

// EventTopic is the bus topic for task store events.
const EventTopic = "tasks"

// Event types published on EventTopic.
const (
	EventCreated    = "task.created"
	EventUpdated    = "task.updated"
	EventDeleted    = "task.deleted"
	EventRolledBack = "task.rolled_back"
	EventListed     = "tasks.listed"
)

// State is a snapshot of the store.
type State struct {
	Tasks      []Task
	Selected   *Task
	Filters    Filters
	Pagination Pagination
	IsLoading  bool
	LastError  error
}

// taskEvent is the bus payload for a single-task event.
type taskEvent struct {
	Op    string `json:"op,omitempty"`
	ID    string `json:"id"`
	Task  *Task  `json:"task,omitempty"`
	Error string `json:"error,omitempty"`
}

// listEvent is the bus payload for tasks.listed.
type listEvent struct {
	Filters    Filters    `json:"filters"`
	Pagination Pagination `json:"pagination"`
	Count      int        `json:"count"`
}

// Store caches one page of tasks and applies mutations optimistically:
// the cache changes before the server answers and is reverted if the
// server rejects the change.
type Store struct {
	backend   Backend
	logger    *logging.Logger
	tracer    *telemetry.Tracer
	publisher *bus.Publisher
	pageSize  int

	index    *searchIndex
	searchMu sync.Mutex

	mu         sync.Mutex
	tasks      []Task
	selected   *Task
	filters    Filters
	page       Pagination
	inflight   int
	lastErr    error
	revs       map[string]uint64    // bumped by every local write to an id
	revSeq     uint64
	reconciled map[string]time.Time // updated_at of the last server copy applied
	deleting   map[string]int
	listSeq    uint64
	epoch      uint64 // bumped by Reset
	dirty      bool   // search index is stale
	subs       map[uint64]chan State
	subSeq     uint64
	closed     bool
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Store) {
		s.logger = l.WithComponent("tasks")
	}
}

// WithTracer sets the tracer. Defaults to the global tracer.
func WithTracer(t *telemetry.Tracer) Option {
	return func(s *Store) {
		s.tracer = t
	}
}

// WithPublisher publishes store events on the "tasks" topic.
func WithPublisher(p *bus.Publisher) Option {
	return func(s *Store) {
		s.publisher = p
	}
}

// WithPageSize sets the default page size.
func WithPageSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

// NewStore creates an empty store over backend.
func NewStore(backend Backend, opts ...Option) (*Store, error) {
	s := &Store{
		backend:    backend,
		logger:     logging.Discard(),
		pageSize:   DefaultLimit,
		revs:       make(map[string]uint64),
		reconciled: make(map[string]time.Time),
		deleting:   make(map[string]int),
		subs:       make(map[uint64]chan State),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.tracer == nil {
		s.tracer = telemetry.GetTracer()
	}
	s.page = Pagination{Page: DefaultPage, Limit: s.pageSize}

	index, err := newSearchIndex()
	if err != nil {
		return nil, err
	}
	s.index = index
	return s, nil
}

// PageSize returns the default page size.
func (s *Store) PageSize() int {
	return s.pageSize
}

// --- Reads ---

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() State {
	st := State{
		Tasks:      make([]Task, len(s.tasks)),
		Filters:    s.filters,
		Pagination: s.page,
		IsLoading:  s.inflight > 0,
		LastError:  s.lastErr,
	}
	for i := range s.tasks {
		st.Tasks[i] = *s.tasks[i].Clone()
	}
	if s.selected != nil {
		st.Selected = s.selected.Clone()
	}
	return st
}

// Subscribe returns a channel that receives the current state immediately
// and the newest state after every change. Slow readers skip intermediate
// states. The returned function ends the subscription.
func (s *Store) Subscribe() (<-chan State, func()) {
	ch := make(chan State, 1)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	s.subSeq++
	id := s.subSeq
	s.subs[id] = ch
	ch <- s.snapshotLocked()
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if _, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(ch)
			}
		})
	}
}

// Cached returns the cached copy of a task, or ErrNotCached.
func (s *Store) Cached(id string) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexOfLocked(id); i >= 0 {
		return *s.tasks[i].Clone(), nil
	}
	return Task{}, ErrNotCached
}

// Search returns the cached tasks whose title or description match text, in
// cache order. Blank text matches every task.
func (s *Store) Search(text string) ([]Task, error) {
	s.searchMu.Lock()
	defer s.searchMu.Unlock()

	s.mu.Lock()
	cached := make([]Task, len(s.tasks))
	for i := range s.tasks {
		cached[i] = *s.tasks[i].Clone()
	}
	dirty := s.dirty
	s.dirty = false
	s.mu.Unlock()

	if len(searchTerms(text)) == 0 {
		return cached, nil
	}
	if dirty {
		if err := s.index.rebuild(cached); err != nil {
			s.mu.Lock()
			s.dirty = true
			s.mu.Unlock()
			return nil, err
		}
	}

	ids, err := s.index.match(text)
	if err != nil {
		return nil, err
	}
	out := make([]Task, 0, len(ids))
	for _, t := range cached {
		if ids[t.ID] {
			out = append(out, t)
		}
	}
	return out, nil
}

// Visible returns the cached tasks that pass the current search filter.
func (s *Store) Visible() ([]Task, error) {
	s.mu.Lock()
	text := s.filters.Search
	s.mu.Unlock()
	return s.Search(text)
}

// --- Query state ---

// SetFilter merges opts into the filters and returns to page 1. It does
// not fetch.
func (s *Store) SetFilter(opts ...FilterOption) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filters, s.page = resolve(s.filters, s.page, opts)
	s.page.Page = DefaultPage
	s.emitLocked()
}

// ClearFilters removes every filter and returns to page 1. It does not
// fetch.
func (s *Store) ClearFilters() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filters = Filters{}
	s.page.Page = DefaultPage
	s.emitLocked()
}

// SetPage moves to page n without fetching.
func (s *Store) SetPage(n int) {
	if n < 1 {
		n = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.page.Page = n
	s.emitLocked()
}

// Select sets the selected task, or clears it when t is nil.
func (s *Store) Select(t *Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t == nil {
		s.selected = nil
	} else {
		s.selected = t.Clone()
	}
	s.emitLocked()
}

// Reset drops the cache, selection and query state, e.g. on sign out.
// Responses to operations already in flight no longer touch the cache.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.epoch++
	s.listSeq++
	s.tasks = nil
	s.selected = nil
	s.filters = Filters{}
	s.page = Pagination{Page: DefaultPage, Limit: s.pageSize}
	s.lastErr = nil
	s.revs = make(map[string]uint64)
	s.reconciled = make(map[string]time.Time)
	s.emitLocked()
}

// Close ends every subscription and releases the search index.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for id, ch := range s.subs {
		close(ch)
		delete(s.subs, id)
	}
	s.mu.Unlock()

	s.searchMu.Lock()
	defer s.searchMu.Unlock()
	return s.index.close()
}

// --- Server operations ---

// List fetches the page selected by the current filters merged with opts
// and replaces the cache with it. A response to a List that has since been
// superseded by a newer List is discarded.
func (s *Store) List(ctx context.Context, opts ...FilterOption) error {
	ctx, span := s.tracer.StartStoreSpan(ctx, "list")

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.tracer.EndStoreSpan(span, "", false, ErrStoreClosed)
		return ErrStoreClosed
	}
	s.filters, s.page = resolve(s.filters, s.page, opts)
	s.listSeq++
	seq := s.listSeq
	q := Query{
		Status:   s.filters.Status,
		Priority: s.filters.Priority,
		Skip:     s.page.Skip(),
		Limit:    s.page.Limit,
	}
	s.beginLocked()
	s.mu.Unlock()

	page, err := s.backend.List(ctx, q)

	s.mu.Lock()
	s.inflight--
	if seq != s.listSeq {
		s.emitLocked()
		s.mu.Unlock()
		s.logger.Debug("list_superseded", map[string]interface{}{"skip": q.Skip})
		s.tracer.EndStoreSpan(span, "", false, err)
		return err
	}
	if err != nil {
		s.lastErr = err
		s.emitLocked()
		s.mu.Unlock()
		s.tracer.EndStoreSpan(span, "", false, err)
		return err
	}
	s.applyPageLocked(page)
	ev := listEvent{Filters: s.filters, Pagination: s.page, Count: len(page.Items)}
	s.emitLocked()
	s.mu.Unlock()

	s.publish(ctx, EventListed, ev)
	s.tracer.EndStoreSpan(span, "", false, nil)
	return nil
}

func (s *Store) applyPageLocked(page *Page) {
	fresh := make([]Task, 0, len(page.Items))

	// Creates still in flight stay at the head.
	for _, t := range s.tasks {
		if t.Provisional() {
			fresh = append(fresh, t)
		}
	}
	for _, item := range page.Items {
		if s.deleting[item.ID] > 0 {
			continue
		}
		if s.staleLocked(&item) {
			if i := s.indexOfLocked(item.ID); i >= 0 {
				fresh = append(fresh, s.tasks[i])
				continue
			}
		}
		s.reconciled[item.ID] = item.UpdatedAt
		fresh = append(fresh, item)
	}
	s.tasks = fresh

	s.page.Total = page.Total
	if page.Pages != nil {
		s.page.Pages = *page.Pages
	} else {
		s.page.Pages = pagesFor(page.Total, s.page.Limit)
	}

	if s.selected != nil {
		if i := s.indexOfLocked(s.selected.ID); i >= 0 {
			s.selected = s.tasks[i].Clone()
		}
	}
}

// Get fetches a task, reconciles it into the cache when cached, and
// selects it. When the server's copy is older than the cached one the
// cached copy is selected and returned.
func (s *Store) Get(ctx context.Context, id string) (Task, error) {
	ctx, span := s.tracer.StartStoreSpan(ctx, "get")

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.tracer.EndStoreSpan(span, id, false, ErrStoreClosed)
		return Task{}, ErrStoreClosed
	}
	epoch := s.epoch
	s.beginLocked()
	s.mu.Unlock()

	t, err := s.backend.Get(ctx, id)

	s.mu.Lock()
	s.inflight--
	if err != nil {
		s.lastErr = err
		s.emitLocked()
		s.mu.Unlock()
		s.tracer.EndStoreSpan(span, id, false, err)
		return Task{}, err
	}
	result := t
	if epoch == s.epoch {
		s.applyServerLocked(t)
		if i := s.indexOfLocked(id); i >= 0 {
			result = s.tasks[i].Clone()
		}
		s.selected = result.Clone()
	}
	s.emitLocked()
	s.mu.Unlock()

	s.tracer.EndStoreSpan(span, id, false, nil)
	return *result, nil
}

// Create inserts a provisional task at the head of the cache, then replaces
// it with the server's task. If the server rejects the task the provisional
// entry is removed.
func (s *Store) Create(ctx context.Context, in CreateInput) (Task, error) {
	ctx, span := s.tracer.StartStoreSpan(ctx, "create")

	if in.Priority == "" {
		in.Priority = PriorityMedium
	}
	now := time.Now().UTC()
	prov := Task{
		ID:        ProvisionalPrefix + uuid.NewString(),
		Title:     in.Title,
		Status:    StatusPending,
		Priority:  in.Priority,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if in.Description != nil {
		desc := *in.Description
		prov.Description = &desc
	}
	if in.DueDate != nil {
		due := *in.DueDate
		prov.DueDate = &due
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.tracer.EndStoreSpan(span, "", false, ErrStoreClosed)
		return Task{}, ErrStoreClosed
	}
	epoch := s.epoch
	s.tasks = append([]Task{prov}, s.tasks...)
	s.beginLocked()
	s.mu.Unlock()

	created, err := s.backend.Create(ctx, in)

	s.mu.Lock()
	s.inflight--
	if err != nil {
		s.removeLocked(prov.ID)
		s.lastErr = err
		s.emitLocked()
		s.mu.Unlock()

		s.rolledBack(ctx, "create", prov.ID, err)
		s.tracer.EndStoreSpan(span, prov.ID, true, err)
		return Task{}, err
	}

	if epoch == s.epoch {
		i := s.indexOfLocked(prov.ID)
		switch {
		case s.indexOfLocked(created.ID) >= 0:
			// A List already delivered the server's copy.
			s.removeLocked(prov.ID)
			s.applyServerLocked(created)
		case i >= 0:
			s.tasks[i] = *created.Clone()
			s.reconciled[created.ID] = created.UpdatedAt
		default:
			s.tasks = append([]Task{*created.Clone()}, s.tasks...)
			s.reconciled[created.ID] = created.UpdatedAt
		}
		s.bumpLocked(created.ID)
	}
	s.emitLocked()
	s.mu.Unlock()

	s.publish(ctx, EventCreated, taskEvent{ID: created.ID, Task: created})
	s.tracer.EndStoreSpan(span, created.ID, false, nil)
	return *created, nil
}

// Update patches the cached task immediately, then replaces it with the
// server's copy. If the server rejects the patch the cached task is
// restored, unless a later mutation of the same task has written it since
// or a newer server copy has been applied.
// An uncached id is still sent to the server.
func (s *Store) Update(ctx context.Context, id string, p Patch) (Task, error) {
	ctx, span := s.tracer.StartStoreSpan(ctx, "update")

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.tracer.EndStoreSpan(span, id, false, ErrStoreClosed)
		return Task{}, ErrStoreClosed
	}
	epoch := s.epoch
	var (
		before *Task
		rev    uint64
	)
	if i := s.indexOfLocked(id); i >= 0 {
		before = s.tasks[i].Clone()
		p.apply(&s.tasks[i])
		rev = s.bumpLocked(id)
		if s.selected != nil && s.selected.ID == id {
			s.selected = s.tasks[i].Clone()
		}
	}
	s.beginLocked()
	s.mu.Unlock()

	updated, err := s.backend.Update(ctx, id, p)

	s.mu.Lock()
	s.inflight--
	if err != nil {
		restored := false
		if before != nil && epoch == s.epoch && s.revs[id] == rev && !s.staleLocked(before) {
			if i := s.indexOfLocked(id); i >= 0 {
				s.tasks[i] = *before
				restored = true
				if s.selected != nil && s.selected.ID == id {
					s.selected = before.Clone()
				}
			}
		}
		s.lastErr = err
		s.emitLocked()
		s.mu.Unlock()

		if restored {
			s.rolledBack(ctx, "update", id, err)
		}
		s.tracer.EndStoreSpan(span, id, restored, err)
		return Task{}, err
	}

	if epoch == s.epoch {
		s.applyServerLocked(updated)
		s.bumpLocked(id)
	}
	s.emitLocked()
	s.mu.Unlock()

	s.publish(ctx, EventUpdated, taskEvent{ID: id, Task: updated})
	s.tracer.EndStoreSpan(span, id, false, nil)
	return *updated, nil
}

// Complete marks a task completed. The server sets completed_at.
func (s *Store) Complete(ctx context.Context, id string) (Task, error) {
	status := StatusCompleted
	return s.Update(ctx, id, Patch{Status: &status})
}

// Uncomplete returns a task to pending. The server clears completed_at.
func (s *Store) Uncomplete(ctx context.Context, id string) (Task, error) {
	status := StatusPending
	return s.Update(ctx, id, Patch{Status: &status})
}

// Delete removes the task from the cache immediately, then from the
// server. If the server refuses, the task is put back at its old position,
// or at the end when the cache has since shrunk.
func (s *Store) Delete(ctx context.Context, id string) error {
	ctx, span := s.tracer.StartStoreSpan(ctx, "delete")

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.tracer.EndStoreSpan(span, id, false, ErrStoreClosed)
		return ErrStoreClosed
	}
	epoch := s.epoch
	var (
		removed  *Task
		selected *Task
		pos      = -1
		rev      uint64
	)
	if i := s.indexOfLocked(id); i >= 0 {
		removed = s.tasks[i].Clone()
		pos = i
		s.tasks = append(s.tasks[:i], s.tasks[i+1:]...)
		rev = s.bumpLocked(id)
	}
	if s.selected != nil && s.selected.ID == id {
		selected = s.selected
		s.selected = nil
	}
	s.deleting[id]++
	s.beginLocked()
	s.mu.Unlock()

	err := s.backend.Delete(ctx, id)

	s.mu.Lock()
	s.inflight--
	if s.deleting[id]--; s.deleting[id] <= 0 {
		delete(s.deleting, id)
	}
	if err != nil {
		restored := false
		if removed != nil && epoch == s.epoch && s.revs[id] == rev && s.indexOfLocked(id) < 0 {
			if pos > len(s.tasks) {
				pos = len(s.tasks)
			}
			s.tasks = append(s.tasks, Task{})
			copy(s.tasks[pos+1:], s.tasks[pos:])
			s.tasks[pos] = *removed
			restored = true
		}
		if selected != nil && epoch == s.epoch && s.selected == nil {
			s.selected = selected
		}
		s.lastErr = err
		s.emitLocked()
		s.mu.Unlock()

		if restored {
			s.rolledBack(ctx, "delete", id, err)
		}
		s.tracer.EndStoreSpan(span, id, restored, err)
		return err
	}

	delete(s.revs, id)
	delete(s.reconciled, id)
	s.emitLocked()
	s.mu.Unlock()

	s.publish(ctx, EventDeleted, taskEvent{ID: id})
	s.tracer.EndStoreSpan(span, id, false, nil)
	return nil
}

// --- Internals (callers hold mu) ---

func (s *Store) beginLocked() {
	s.inflight++
	s.lastErr = nil
	s.emitLocked()
}

func (s *Store) indexOfLocked(id string) int {
	for i := range s.tasks {
		if s.tasks[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) removeLocked(id string) {
	if i := s.indexOfLocked(id); i >= 0 {
		s.tasks = append(s.tasks[:i], s.tasks[i+1:]...)
	}
}

func (s *Store) bumpLocked(id string) uint64 {
	s.revSeq++
	s.revs[id] = s.revSeq
	return s.revSeq
}

// staleLocked reports whether t is older than the server copy already
// applied for its id.
func (s *Store) staleLocked(t *Task) bool {
	last, ok := s.reconciled[t.ID]
	return ok && t.UpdatedAt.Before(last)
}

// applyServerLocked writes a server copy over the cached and selected task
// unless it is older than the copy already applied. Uncached tasks are not
// inserted.
func (s *Store) applyServerLocked(t *Task) {
	if s.staleLocked(t) {
		s.logger.Debug("stale_response_ignored", map[string]interface{}{"task": t.ID})
		return
	}
	s.reconciled[t.ID] = t.UpdatedAt
	if i := s.indexOfLocked(t.ID); i >= 0 {
		s.tasks[i] = *t.Clone()
	}
	if s.selected != nil && s.selected.ID == t.ID {
		s.selected = t.Clone()
	}
}

// emitLocked delivers the current state to subscribers, replacing any state
// they have not read yet.
func (s *Store) emitLocked() {
	s.dirty = true
	if len(s.subs) == 0 {
		return
	}
	st := s.snapshotLocked()
	for _, ch := range s.subs {
		select {
		case <-ch:
		default:
		}
		ch <- st
	}
}

func (s *Store) rolledBack(ctx context.Context, op, id string, err error) {
	s.logger.Rollback(op, id, err)
	s.publish(ctx, EventRolledBack, taskEvent{Op: op, ID: id, Error: err.Error()})
}

func (s *Store) publish(ctx context.Context, eventType string, data interface{}) {
	if err := s.publisher.Publish(ctx, EventTopic, eventType, data); err != nil {
		s.logger.Warn("publish_failed", map[string]interface{}{"event": eventType, "error": err.Error()})
	}
}
