package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/vinayprograms/taskgate/bus"
	"github.com/vinayprograms/taskgate/shutdown"
)

func watchCmd(opts *rootOptions) *cobra.Command {
	var (
		interval time.Duration
		count    int
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Sign in, keep the task list fresh and print state-change events",
		Long: `Sign in, load the first page of tasks and print every session and task
event until interrupted. With --interval the list is reloaded periodically.

Events are read from the configured bus, so with [events] nats_url set the
command also prints events published by other taskctl processes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				return a.watch(ctx, interval, count)
			})
		},
	}

	cmd.Flags().DurationVarP(&interval, "interval", "i", 0, "reload the list this often (0 disables)")
	cmd.Flags().IntVarP(&count, "count", "n", 0, "exit after this many events (0 runs until interrupted)")

	return cmd
}

func (a *app) watch(ctx context.Context, interval time.Duration, count int) error {
	sub, err := a.bus.Subscribe(a.publisher.Subject(">"))
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stop := a.store.Bind(ctx, a.sessions)
	a.coord.RegisterFunc("bind", shutdown.PhaseBindings, func(context.Context) error {
		stop()
		return nil
	})

	if err := a.signIn(ctx); err != nil {
		return err
	}

	var tick <-chan time.Time
	if interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	seen := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick:
			if err := a.store.List(ctx); err != nil {
				a.logger.Warn("reload_failed", map[string]interface{}{"error": err.Error()})
			}
		case msg, ok := <-sub.Messages():
			if !ok {
				return nil
			}
			if err := a.printEvent(msg); err != nil {
				return err
			}
			seen++
			if count > 0 && seen >= count {
				return nil
			}
		}
	}
}

func (a *app) printEvent(msg *bus.Message) error {
	ev, err := bus.DecodeEvent(msg)
	if err != nil {
		a.logger.Warn("undecodable_event", map[string]interface{}{"subject": msg.Subject, "error": err.Error()})
		return nil
	}
	if a.opts.json {
		return a.printJSON(ev)
	}
	fmt.Fprintf(a.out, "%s %-18s %s %s\n", ev.Time.Format(time.RFC3339), ev.Type, msg.Subject, string(ev.Data))
	return nil
}
