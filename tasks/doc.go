// Package tasks caches the signed-in user's tasks and applies mutations
// optimistically.
//
// A Store holds one page of tasks, the selected task, the active filters
// and the pagination reported by the server. Create, Update and Delete
// change the cache before the request is sent. When the server refuses the
// change the cache is rolled back:
//
//   - Create inserts a provisional task (id prefixed "pending-") at the head
//     and removes it on failure.
//   - Update patches the cached task and restores the previous copy on
//     failure, unless a later mutation has written the task since.
//   - Delete removes the task and puts it back at its old position on
//     failure.
//
// Server responses are reconciled by updated_at: a copy older than the one
// already applied is ignored. A List that is superseded by a newer List is
// discarded.
//
// # Basic Usage
//
//	backend := tasks.NewHTTPBackend(gw)
//	store, err := tasks.NewStore(backend, tasks.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	stop := store.Bind(ctx, sessions)
//	defer stop()
//
//	err = store.List(ctx, tasks.WithStatus(tasks.StatusPending))
//	task, err := store.Create(ctx, tasks.CreateInput{Title: "Write report"})
//	_, err = store.Complete(ctx, task.ID)
//
// # Filters and Pages
//
// Status and priority filters are sent to the server. Changing either, or
// the page size, returns to page 1. The search filter is applied locally
// to the loaded page through an in-memory full-text index:
//
//	store.SetFilter(tasks.WithSearch("report"))
//	visible, err := store.Visible()
//
// # Events
//
// With WithPublisher the store publishes task.created, task.updated,
// task.deleted, task.rolled_back and tasks.listed on the "tasks" topic.
package tasks
