package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/vinayprograms/taskgate/session"
	"github.com/vinayprograms/taskgate/tasks"
)

func (a *app) printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	fmt.Fprintln(a.out, string(data))
	return nil
}

func (a *app) printSession(st session.State) error {
	if a.opts.json {
		out := struct {
			Phase         string        `json:"phase"`
			Authenticated bool          `json:"authenticated"`
			User          *session.User `json:"user,omitempty"`
		}{
			Phase:         st.Phase.String(),
			Authenticated: st.Authenticated,
			User:          st.User,
		}
		return a.printJSON(out)
	}

	if !st.Authenticated || st.User == nil {
		fmt.Fprintf(a.out, "Not signed in (%s)\n", st.Phase)
		return nil
	}
	fmt.Fprintf(a.out, "Signed in as %s", st.User.Email)
	if st.User.FullName != "" {
		fmt.Fprintf(a.out, " (%s)", st.User.FullName)
	}
	fmt.Fprintln(a.out)
	return nil
}

func (a *app) printTask(t tasks.Task) error {
	if a.opts.json {
		return a.printJSON(t)
	}

	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "ID:\t%s\n", t.ID)
	fmt.Fprintf(w, "Title:\t%s\n", t.Title)
	if t.Description != nil && *t.Description != "" {
		fmt.Fprintf(w, "Description:\t%s\n", *t.Description)
	}
	fmt.Fprintf(w, "Status:\t%s\n", t.Status)
	fmt.Fprintf(w, "Priority:\t%s\n", t.Priority)
	if t.DueDate != nil {
		fmt.Fprintf(w, "Due:\t%s\n", t.DueDate.Format(time.DateOnly))
	}
	if t.CompletedAt != nil {
		fmt.Fprintf(w, "Completed:\t%s\n", t.CompletedAt.Format(time.RFC3339))
	}
	fmt.Fprintf(w, "Updated:\t%s\n", t.UpdatedAt.Format(time.RFC3339))
	return w.Flush()
}

func (a *app) printList(items []tasks.Task, pg tasks.Pagination) error {
	if a.opts.json {
		out := struct {
			Items      []tasks.Task     `json:"items"`
			Pagination tasks.Pagination `json:"pagination"`
		}{
			Items:      items,
			Pagination: pg,
		}
		return a.printJSON(out)
	}

	if len(items) == 0 {
		fmt.Fprintln(a.out, "No tasks.")
	} else {
		w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATUS\tPRIORITY\tDUE\tTITLE")
		for _, t := range items {
			due := "-"
			if t.DueDate != nil {
				due = t.DueDate.Format(time.DateOnly)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", t.ID, t.Status, t.Priority, due, t.Title)
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}
	fmt.Fprintf(a.out, "Page %d of %d (%d tasks)\n", pg.Page, pg.Pages, pg.Total)
	return nil
}
