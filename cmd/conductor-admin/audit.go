package main

import (
	"fmt"
	"io"
	"net/url"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/dxpops/conductor/internal/domain/model"
	"github.com/spf13/cobra"
)

type auditOptions struct {
	Since     time.Duration
	Operation string
	Kind      string
	Tenant    string
	Status    string
	Limit     int
	Offset    int
}

func (o auditOptions) query(now time.Time) url.Values {
	q := url.Values{}
	if o.Since > 0 {
		q.Set("from", now.Add(-o.Since).UTC().Format(time.RFC3339))
	}
	for k, v := range map[string]string{
		"operation": o.Operation,
		"kind":      o.Kind,
		"tenant":    o.Tenant,
		"status":    o.Status,
	} {
		if v != "" {
			q.Set(k, v)
		}
	}
	if o.Limit > 0 {
		q.Set("limit", strconv.Itoa(o.Limit))
	}
	if o.Offset > 0 {
		q.Set("offset", strconv.Itoa(o.Offset))
	}
	return q
}

func newAuditCmd(root *rootOptions) *cobra.Command {
	opts := auditOptions{}
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Query the audit trail of operations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := root.client()
			if err != nil {
				return err
			}
			var page model.AuditPage
			if err := client.get(cmd.Context(), "/api/audit", opts.query(time.Now()), &page); err != nil {
				return fmt.Errorf("query audit: %w", err)
			}
			if root.JSON {
				return printJSON(cmd.OutOrStdout(), page)
			}
			return printAudit(cmd.OutOrStdout(), &page, opts.Offset)
		},
	}
	f := cmd.Flags()
	f.DurationVar(&opts.Since, "since", 0, "Only entries newer than this (e.g. 1h)")
	f.StringVar(&opts.Operation, "operation", "", "Filter by operation name")
	f.StringVar(&opts.Kind, "kind", "", "Filter by subject kind")
	f.StringVar(&opts.Tenant, "tenant", "", "Filter by tenant")
	f.StringVar(&opts.Status, "status", "", "Filter by status (success, failure)")
	f.IntVarP(&opts.Limit, "limit", "l", 50, "Maximum number of entries to return")
	f.IntVarP(&opts.Offset, "offset", "o", 0, "Offset for pagination")
	return cmd
}

func printAudit(w io.Writer, page *model.AuditPage, offset int) error {
	if len(page.Entries) == 0 {
		return writeln(w, "No audit entries found")
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if err := writef(tw, "STARTED\tOPERATION\tKIND\tTENANT\tSTATUS\tDURATION\tERROR\n"); err != nil {
		return err
	}
	for i := range page.Entries {
		e := &page.Entries[i]
		if err := writef(tw, "%s\t%s\t%s\t%s\t%s\t%dms\t%s\n",
			e.StartedAt.Format(time.RFC3339), e.Operation, e.Kind, e.Tenant, e.Status, e.DurationMs, e.Error,
		); err != nil {
			return err
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if page.HasMore {
		return writef(w, "\nShowing %d-%d of %d entries\n", offset+1, offset+len(page.Entries), page.Total)
	}
	return nil
}

func newRateLimitCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rate-limit TENANT_REF",
		Short: "Show a tenant's request windows and backoff",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := root.client()
			if err != nil {
				return err
			}
			var status model.LimitStatus
			if err := client.get(cmd.Context(), "/api/tenants/"+url.PathEscape(args[0])+"/rate-limit", nil, &status); err != nil {
				return fmt.Errorf("rate limit status: %w", err)
			}
			if root.JSON {
				return printJSON(cmd.OutOrStdout(), status)
			}
			return printLimitStatus(cmd.OutOrStdout(), &status)
		},
	}
}

func printLimitStatus(w io.Writer, s *model.LimitStatus) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	rows := [][2]string{
		{"Tenant", s.Tenant},
		{"Last minute", fmt.Sprintf("%d/%d", s.RequestsLastMinute, s.MaxPerMinute)},
		{"Last hour", fmt.Sprintf("%d/%d", s.RequestsLastHour, s.MaxPerHour)},
		{"Consecutive failures", strconv.Itoa(s.ConsecutiveFailures)},
		{"Throttled", strconv.FormatBool(s.Throttled)},
	}
	if s.Throttled {
		rows = append(rows, [2]string{"Retry after", (time.Duration(s.RetryAfterMs) * time.Millisecond).String()})
	}
	if s.BackoffUntil != nil {
		rows = append(rows, [2]string{"Backoff until", s.BackoffUntil.Format(time.RFC3339)})
	}
	if s.ThrottledUntil != nil {
		rows = append(rows, [2]string{"Remote throttle until", s.ThrottledUntil.Format(time.RFC3339)})
	}
	for _, r := range rows {
		if err := writef(tw, "%s:\t%s\n", r[0], r[1]); err != nil {
			return err
		}
	}
	return tw.Flush()
}

func newHealthCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check the server's readiness",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := root.client()
			if err != nil {
				return err
			}
			var resp map[string]any
			if err := client.get(cmd.Context(), "/readyz", nil, &resp); err != nil {
				return fmt.Errorf("server not ready: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), resp)
		},
	}
}
