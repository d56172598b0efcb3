package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dxpops/conductor/internal/bootstrap"
	"github.com/spf13/cobra"
)

const defaultRequestTimeout = 30 * time.Second

// rootOptions are the persistent flags shared by every subcommand.
type rootOptions struct {
	Server  string
	Token   string
	JSON    bool
	Timeout time.Duration
}

func main() {
	logger := bootstrap.InitLogger()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		logger.ErrorContext(ctx, "command failed", "error", err)
		stop()
		os.Exit(1) //nolint:forbidigo // CLI must propagate command execution failure to callers
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "conductor-admin",
		Short:         "Operate a conductor deployment",
		Long:          "Inspect and control jobs, deployment watches, audit history and tenant rate limits.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.Server, "server", envOr("CONDUCTOR_URL", "http://localhost:8080"), "Admin API base URL")
	flags.StringVar(&opts.Token, "token", os.Getenv("HTTP_ADMIN_TOKEN"), "Admin API bearer token")
	flags.BoolVar(&opts.JSON, "json", false, "Print raw JSON instead of tables")
	flags.DurationVar(&opts.Timeout, "timeout", defaultRequestTimeout, "Request timeout")

	root.AddCommand(
		newJobsCmd(opts),
		newWatchesCmd(opts),
		newAuditCmd(opts),
		newRateLimitCmd(opts),
		newHealthCmd(opts),
		newMigrateCmd(),
	)
	return root
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (o *rootOptions) client() (*apiClient, error) {
	return newAPIClient(o.Server, o.Token, o.Timeout)
}

func writef(w io.Writer, format string, args ...any) error {
	_, err := fmt.Fprintf(w, format, args...)
	return err
}

func writeln(w io.Writer, args ...any) error {
	_, err := fmt.Fprintln(w, args...)
	return err
}
