package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/xraph/jobcontrol/backoff"
	"github.com/xraph/jobcontrol/job"
)

func enqueueCmd(a *app) *cobra.Command {
	var (
		delay         time.Duration
		retries       int
		wait          time.Duration
		kind          string
		repeat        string
		cancelRepeats bool
	)

	cmd := &cobra.Command{
		Use:   "enqueue <type> [json-data]",
		Short: "Add a job to the queue",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var data map[string]any
			if len(args) == 2 {
				if err := json.Unmarshal([]byte(args[1]), &data); err != nil {
					return fmt.Errorf("invalid job data: %w", err)
				}
			}

			opts := []job.Option{job.WithRetry(backoff.Config{
				MaxRetries:   retries,
				InitialDelay: wait,
				Kind:         backoff.Kind(kind),
			})}
			if delay > 0 {
				opts = append(opts, job.WithRunAt(time.Now().Add(delay)))
			}
			if repeat != "" {
				opts = append(opts, job.WithRepeat(repeat))
			}
			if cancelRepeats {
				opts = append(opts, job.WithCancelRepeats())
			}

			eng, err := a.engine()
			if err != nil {
				return err
			}
			j, err := eng.Enqueue(cmd.Context(), args[0], data, opts...)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s run_at=%s\n", j.ID, j.Status, j.RunAt.Format(time.RFC3339))
			return nil
		},
	}

	f := cmd.Flags()
	f.DurationVar(&delay, "delay", 0, "run no earlier than this long from now")
	f.IntVar(&retries, "retries", 0, "retries allowed after the first attempt")
	f.DurationVar(&wait, "wait", 5*time.Minute, "base delay between retries")
	f.StringVar(&kind, "backoff", string(backoff.KindNone), "retry backoff (none, linear, exponential)")
	f.StringVar(&repeat, "repeat", "", `recurrence schedule ("every day", "0 3 * * *", "@hourly")`)
	f.BoolVar(&cancelRepeats, "cancel-repeats", false, "cancel other live jobs of the type first")
	return cmd
}

func listCmd(a *app) *cobra.Command {
	var (
		types    []string
		statuses []string
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs in the store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			q := job.Query{Types: types, Limit: limit}
			for _, s := range statuses {
				st, err := job.ParseStatus(s)
				if err != nil {
					return err
				}
				q.Statuses = append(q.Statuses, st)
			}

			jobs, err := a.store.Find(cmd.Context(), q)
			if err != nil {
				return err
			}
			if len(jobs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no jobs")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTYPE\tSTATUS\tRETRIES\tRUN AT\tUPDATED")
			for _, j := range jobs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%s\t%s\n",
					j.ID, j.Type, j.Status, j.RetryCount, j.Retry.MaxRetries,
					j.RunAt.Format(time.RFC3339), j.UpdatedAt.Format(time.RFC3339))
			}
			return w.Flush()
		},
	}

	f := cmd.Flags()
	f.StringSliceVar(&types, "type", nil, "filter by job type (repeatable)")
	f.StringSliceVar(&statuses, "status", nil, "filter by status (repeatable)")
	f.IntVar(&limit, "limit", 50, "maximum jobs to show, 0 for all")
	return cmd
}
