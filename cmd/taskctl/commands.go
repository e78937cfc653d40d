package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/vinayprograms/taskgate/tasks"
)

func verifyCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Sign in and verify the session with the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				if err := a.signIn(ctx); err != nil {
					return err
				}
				if err := a.sessions.VerifySession(ctx); err != nil {
					return err
				}
				return a.printSession(a.sessions.Snapshot())
			})
		},
	}
}

func loginCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Sign in with the configured account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				if err := a.signIn(ctx); err != nil {
					return err
				}
				return a.printSession(a.sessions.Snapshot())
			})
		},
	}
}

func listCmd(opts *rootOptions) *cobra.Command {
	var (
		status   string
		priority string
		search   string
		page     int
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		Long: `List one page of tasks.

Examples:
  taskctl list
  taskctl list --status pending --priority high
  taskctl list --page 2 --limit 50
  taskctl list --search report`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filters := []tasks.FilterOption{tasks.WithPage(page), tasks.WithSearch(search)}
			if status != "" {
				s := tasks.Status(status)
				if !s.Valid() {
					return fmt.Errorf("invalid status %q (pending, completed, archived)", status)
				}
				filters = append(filters, tasks.WithStatus(s))
			}
			if priority != "" {
				p := tasks.Priority(priority)
				if !p.Valid() {
					return fmt.Errorf("invalid priority %q (low, medium, high)", priority)
				}
				filters = append(filters, tasks.WithPriority(p))
			}
			if limit > 0 {
				filters = append(filters, tasks.WithLimit(limit))
			}

			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				if err := a.signIn(ctx); err != nil {
					return err
				}
				if err := a.store.List(ctx, filters...); err != nil {
					return err
				}
				visible, err := a.store.Visible()
				if err != nil {
					return err
				}
				return a.printList(visible, a.store.Snapshot().Pagination)
			})
		},
	}

	cmd.Flags().StringVarP(&status, "status", "s", "", "filter by status (pending, completed, archived)")
	cmd.Flags().StringVarP(&priority, "priority", "p", "", "filter by priority (low, medium, high)")
	cmd.Flags().StringVarP(&search, "search", "q", "", "only show tasks whose title or description match")
	cmd.Flags().IntVar(&page, "page", 1, "page number")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "page size (default from config)")

	return cmd
}

func getCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get [id]",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				if err := a.signIn(ctx); err != nil {
					return err
				}
				t, err := a.store.Get(ctx, args[0])
				if err != nil {
					return err
				}
				return a.printTask(t)
			})
		},
	}
}

func createCmd(opts *rootOptions) *cobra.Command {
	var (
		description string
		priority    string
		due         string
	)

	cmd := &cobra.Command{
		Use:   "create [title]",
		Short: "Create a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := tasks.CreateInput{Title: args[0], Priority: tasks.Priority(priority)}
			if in.Priority != "" && !in.Priority.Valid() {
				return fmt.Errorf("invalid priority %q (low, medium, high)", priority)
			}
			if cmd.Flags().Changed("description") {
				in.Description = &description
			}
			if due != "" {
				d, err := parseDue(due)
				if err != nil {
					return err
				}
				in.DueDate = &d
			}

			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				if err := a.signIn(ctx); err != nil {
					return err
				}
				t, err := a.store.Create(ctx, in)
				if err != nil {
					return err
				}
				return a.printTask(t)
			})
		},
	}

	cmd.Flags().StringVarP(&description, "description", "d", "", "task description")
	cmd.Flags().StringVarP(&priority, "priority", "p", "", "priority (low, medium, high; default medium)")
	cmd.Flags().StringVar(&due, "due", "", "due date (YYYY-MM-DD or RFC 3339)")

	return cmd
}

func updateCmd(opts *rootOptions) *cobra.Command {
	var (
		title       string
		description string
		status      string
		priority    string
		due         string
	)

	cmd := &cobra.Command{
		Use:   "update [id]",
		Short: "Change fields of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var p tasks.Patch
			flags := cmd.Flags()
			if flags.Changed("title") {
				p.Title = &title
			}
			if flags.Changed("description") {
				p.Description = &description
			}
			if flags.Changed("status") {
				s := tasks.Status(status)
				if !s.Valid() {
					return fmt.Errorf("invalid status %q (pending, completed, archived)", status)
				}
				p.Status = &s
			}
			if flags.Changed("priority") {
				pr := tasks.Priority(priority)
				if !pr.Valid() {
					return fmt.Errorf("invalid priority %q (low, medium, high)", priority)
				}
				p.Priority = &pr
			}
			if flags.Changed("due") {
				d, err := parseDue(due)
				if err != nil {
					return err
				}
				p.DueDate = &d
			}
			if p.Empty() {
				return fmt.Errorf("nothing to update: pass at least one of --title, --description, --status, --priority, --due")
			}

			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				if err := a.signIn(ctx); err != nil {
					return err
				}
				t, err := a.store.Update(ctx, args[0], p)
				if err != nil {
					return err
				}
				return a.printTask(t)
			})
		},
	}

	cmd.Flags().StringVarP(&title, "title", "t", "", "new title")
	cmd.Flags().StringVarP(&description, "description", "d", "", "new description")
	cmd.Flags().StringVarP(&status, "status", "s", "", "new status (pending, completed, archived)")
	cmd.Flags().StringVarP(&priority, "priority", "p", "", "new priority (low, medium, high)")
	cmd.Flags().StringVar(&due, "due", "", "new due date (YYYY-MM-DD or RFC 3339)")

	return cmd
}

func completeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "complete [id]",
		Short: "Mark a task completed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				if err := a.signIn(ctx); err != nil {
					return err
				}
				t, err := a.store.Complete(ctx, args[0])
				if err != nil {
					return err
				}
				return a.printTask(t)
			})
		},
	}
}

func reopenCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reopen [id]",
		Short: "Return a completed task to pending",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				if err := a.signIn(ctx); err != nil {
					return err
				}
				t, err := a.store.Uncomplete(ctx, args[0])
				if err != nil {
					return err
				}
				return a.printTask(t)
			})
		},
	}
}

func deleteCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete [id]",
		Short: "Delete a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				if err := a.signIn(ctx); err != nil {
					return err
				}
				if err := a.store.Delete(ctx, args[0]); err != nil {
					return err
				}
				if a.opts.json {
					return a.printJSON(map[string]string{"deleted": args[0]})
				}
				fmt.Fprintf(a.out, "Deleted %s\n", args[0])
				return nil
			})
		},
	}
}

// parseDue accepts a calendar date or an RFC 3339 timestamp.
func parseDue(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid due date %q: use YYYY-MM-DD or RFC 3339", s)
	}
	return t, nil
}
