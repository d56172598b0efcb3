package main

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"text/tabwriter"
	"time"

	"github.com/dxpops/conductor/internal/domain/model"
	"github.com/dxpops/conductor/internal/util"
	"github.com/spf13/cobra"
)

func newWatchesCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watches",
		Short: "Inspect and control deployment watches",
	}
	cmd.AddCommand(
		newWatchesListCmd(root),
		newWatchesGetCmd(root),
		newWatchesStopCmd(root),
		newWatchesIntervalCmd(root),
		newWatchesResetCmd(root),
	)
	return cmd
}

func newWatchesListCmd(root *rootOptions) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List active deployment watches",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := root.client()
			if err != nil {
				return err
			}
			q := url.Values{}
			if all {
				q.Set("all", "true")
			}
			var resp struct {
				Watches []model.DeploymentWatch `json:"watches"`
			}
			if err := client.get(cmd.Context(), "/api/watches", q, &resp); err != nil {
				return fmt.Errorf("list watches: %w", err)
			}
			if root.JSON {
				return printJSON(cmd.OutOrStdout(), resp)
			}
			return printWatches(cmd.OutOrStdout(), resp.Watches, time.Now())
		},
	}
	cmd.Flags().BoolVarP(&all, "all", "a", false, "Include finished watches still in history")
	return cmd
}

func newWatchesGetCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get WATCH_ID",
		Short: "Show one deployment watch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := root.client()
			if err != nil {
				return err
			}
			var watch model.DeploymentWatch
			if err := client.get(cmd.Context(), "/api/watches/"+url.PathEscape(args[0]), nil, &watch); err != nil {
				return fmt.Errorf("get watch: %w", err)
			}
			if root.JSON {
				return printJSON(cmd.OutOrStdout(), watch)
			}
			return printWatches(cmd.OutOrStdout(), []model.DeploymentWatch{watch}, time.Now())
		},
	}
}

func newWatchesStopCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stop WATCH_ID",
		Short: "Stop polling a deployment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := root.client()
			if err != nil {
				return err
			}
			var resp struct {
				LastState model.DeploymentState `json:"last_state"`
			}
			if err := client.delete(cmd.Context(), "/api/watches/"+url.PathEscape(args[0]), &resp); err != nil {
				return fmt.Errorf("stop watch: %w", err)
			}
			return writef(cmd.OutOrStdout(), "stopped %s (last state %s)\n", args[0], resp.LastState)
		},
	}
}

func newWatchesIntervalCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "interval WATCH_ID DURATION",
		Short: "Change how often a deployment is polled",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := time.ParseDuration(args[1])
			if err != nil || d <= 0 {
				return fmt.Errorf("interval must be a positive duration like 45s")
			}
			client, err := root.client()
			if err != nil {
				return err
			}
			var resp struct {
				Interval string `json:"interval"`
			}
			body := map[string]string{"interval": d.String()}
			if err := client.do(cmd.Context(), http.MethodPut, "/api/watches/"+url.PathEscape(args[0])+"/interval", nil, body, &resp); err != nil {
				return fmt.Errorf("update interval: %w", err)
			}
			return writef(cmd.OutOrStdout(), "%s now polls every %s\n", args[0], resp.Interval)
		},
	}
}

func newWatchesResetCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reset WATCH_ID",
		Short: "Ask the remote platform to reset the watched deployment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := root.client()
			if err != nil {
				return err
			}
			if err := client.post(cmd.Context(), "/api/watches/"+url.PathEscape(args[0])+"/reset", nil, nil); err != nil {
				return fmt.Errorf("reset deployment: %w", err)
			}
			return writef(cmd.OutOrStdout(), "reset requested for %s\n", args[0])
		},
	}
}

func printWatches(w io.Writer, watches []model.DeploymentWatch, now time.Time) error {
	if len(watches) == 0 {
		return writeln(w, "No watches found")
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if err := writef(tw, "ID\tDEPLOYMENT\tTENANT\tSTATE\tACTIVE\tPOLLS\tINTERVAL\tREMAINING\n"); err != nil {
		return err
	}
	for i := range watches {
		wt := &watches[i]
		remaining := "-"
		if wt.Active {
			remaining = util.FormatDuration(wt.Deadline().Sub(now).Truncate(time.Second))
		}
		state := string(wt.State)
		if wt.StopReason != "" {
			state += " (" + string(wt.StopReason) + ")"
		}
		if err := writef(tw, "%s\t%s\t%s\t%s\t%t\t%d\t%s\t%s\n",
			wt.ID, wt.DeploymentID, wt.Tenant, state, wt.Active, wt.PollCount, wt.PollInterval, remaining,
		); err != nil {
			return err
		}
	}
	return tw.Flush()
}
