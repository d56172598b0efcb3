package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dxpops/conductor/internal/domain/model"
	"github.com/dxpops/conductor/internal/util"
	"github.com/spf13/cobra"
)

type jobListOptions struct {
	Kind   string
	Status []string
	Tenant string
	Active bool
	Limit  int
	Offset int
}

func newJobsCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and cancel background jobs",
	}
	cmd.AddCommand(newJobsListCmd(root), newJobsGetCmd(root), newJobsCancelCmd(root), newJobsCancelAllCmd(root))
	return cmd
}

func newJobsListCmd(root *rootOptions) *cobra.Command {
	opts := jobListOptions{}
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := root.client()
			if err != nil {
				return err
			}
			var resp struct {
				Jobs []model.Job `json:"jobs"`
			}
			if err := client.get(cmd.Context(), "/api/jobs", opts.query(), &resp); err != nil {
				return fmt.Errorf("list jobs: %w", err)
			}
			if root.JSON {
				return printJSON(cmd.OutOrStdout(), resp)
			}
			return printJobs(cmd.OutOrStdout(), resp.Jobs, time.Now())
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.Kind, "kind", "", "Filter by job kind")
	f.StringSliceVarP(&opts.Status, "status", "s", nil, "Filter by status (repeatable)")
	f.StringVar(&opts.Tenant, "tenant", "", "Filter by tenant")
	f.BoolVar(&opts.Active, "active", false, "Only non-terminal jobs")
	f.IntVarP(&opts.Limit, "limit", "l", 50, "Maximum number of jobs to return")
	f.IntVarP(&opts.Offset, "offset", "o", 0, "Offset for pagination")
	return cmd
}

func (o jobListOptions) query() url.Values {
	q := url.Values{}
	if o.Kind != "" {
		q.Set("kind", o.Kind)
	}
	if len(o.Status) > 0 {
		q.Set("status", strings.Join(o.Status, ","))
	}
	if o.Tenant != "" {
		q.Set("tenant", o.Tenant)
	}
	if o.Active {
		q.Set("active", "true")
	}
	if o.Limit > 0 {
		q.Set("limit", strconv.Itoa(o.Limit))
	}
	if o.Offset > 0 {
		q.Set("offset", strconv.Itoa(o.Offset))
	}
	return q
}

func newJobsGetCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get JOB_ID",
		Short: "Show one job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := root.client()
			if err != nil {
				return err
			}
			var job model.Job
			if err := client.get(cmd.Context(), "/api/jobs/"+url.PathEscape(args[0]), nil, &job); err != nil {
				return fmt.Errorf("get job: %w", err)
			}
			if root.JSON {
				return printJSON(cmd.OutOrStdout(), job)
			}
			return printJobDetail(cmd.OutOrStdout(), &job, time.Now())
		},
	}
}

func newJobsCancelCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel JOB_ID",
		Short: "Request cooperative cancellation of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := root.client()
			if err != nil {
				return err
			}
			var resp struct {
				Cancelled bool `json:"cancelled"`
			}
			if err := client.post(cmd.Context(), "/api/jobs/"+url.PathEscape(args[0])+"/cancel", nil, &resp); err != nil {
				return fmt.Errorf("cancel job: %w", err)
			}
			if resp.Cancelled {
				return writef(cmd.OutOrStdout(), "cancellation requested for %s\n", args[0])
			}
			return writef(cmd.OutOrStdout(), "%s already finished\n", args[0])
		},
	}
}

func newJobsCancelAllCmd(root *rootOptions) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "cancel-all",
		Short: "Request cancellation of every active job",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return fmt.Errorf("refusing to cancel all jobs without --yes")
			}
			client, err := root.client()
			if err != nil {
				return err
			}
			var resp struct {
				Cancelled int `json:"cancelled"`
			}
			if err := client.post(cmd.Context(), "/api/jobs/cancel-all", nil, &resp); err != nil {
				return fmt.Errorf("cancel all jobs: %w", err)
			}
			return writef(cmd.OutOrStdout(), "cancellation requested for %d job(s)\n", resp.Cancelled)
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Confirm cancelling every active job")
	return cmd
}

func printJobs(w io.Writer, jobs []model.Job, now time.Time) error {
	if len(jobs) == 0 {
		return writeln(w, "No jobs found")
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if err := writef(tw, "ID\tKIND\tSTATUS\tTENANT\tPROGRESS\tAGE\n"); err != nil {
		return err
	}
	for i := range jobs {
		j := &jobs[i]
		status := string(j.Status)
		if j.CancelRequested && !j.IsTerminal() {
			status += " (cancelling)"
		}
		if err := writef(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			j.ID, j.Kind, status, j.Tenant, formatProgress(j.Progress), util.FormatDuration(now.Sub(j.CreatedAt).Truncate(time.Second)),
		); err != nil {
			return err
		}
	}
	return tw.Flush()
}

func printJobDetail(w io.Writer, j *model.Job, now time.Time) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	rows := [][2]string{
		{"ID", j.ID},
		{"Kind", string(j.Kind)},
		{"Status", string(j.Status)},
		{"Tenant", j.Tenant},
		{"Progress", formatProgress(j.Progress)},
		{"Created", j.CreatedAt.Format(time.RFC3339)},
	}
	if j.StartedAt != nil {
		end := now
		if j.EndedAt != nil {
			end = *j.EndedAt
		}
		rows = append(rows, [2]string{"Runtime", util.FormatDuration(end.Sub(*j.StartedAt))})
	}
	if j.CancelRequested {
		rows = append(rows, [2]string{"Cancel requested", "yes"})
	}
	if j.Error != "" {
		rows = append(rows, [2]string{"Error", j.Error})
	}
	if len(j.Result) > 0 {
		rows = append(rows, [2]string{"Result", string(j.Result)})
	}
	for _, r := range rows {
		if err := writef(tw, "%s:\t%s\n", r[0], r[1]); err != nil {
			return err
		}
	}
	return tw.Flush()
}

func formatProgress(p model.Progress) string {
	if p.ItemsTotal == 0 && p.BytesTotal == 0 {
		return "-"
	}
	out := fmt.Sprintf("%d/%d items", p.ItemsDone, p.ItemsTotal)
	if p.BytesTotal > 0 {
		out += fmt.Sprintf(", %d/%d bytes", p.BytesDone, p.BytesTotal)
	}
	return out
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
