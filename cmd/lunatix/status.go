package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/lunatix-dev/lunatix/internal/client"
	"github.com/lunatix-dev/lunatix/internal/config"
	clierrors "github.com/lunatix-dev/lunatix/internal/errors"
	"github.com/lunatix-dev/lunatix/internal/output"
)

const defaultWaitTimeout = 30 * time.Second

// StatusInfo is the JSON output of `lunatix status`.
type StatusInfo struct {
	URL           string `json:"url"`
	Status        string `json:"status"`
	Version       string `json:"version"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Compatible    bool   `json:"compatible"`
}

func newStatusCmd() *cobra.Command {
	var (
		url      string
		wait     bool
		timeout  time.Duration
		interval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Probe the backend status endpoint",
		Long: `Query GET /status on the backend and check that its version is supported.

Without --url the URL is taken from a running bridge, falling back to
backend.url. With --wait the probe is retried until the backend answers or
the timeout expires, which covers a sidecar that is still starting.`,
		Example: `  lunatix status
  lunatix status --url http://localhost:8080
  lunatix status --wait --timeout 1m --json`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())

			if url == "" {
				url = resolveBackendURL(cmd.Context())
			}

			return runStatus(cmd.Context(), out, client.New(url), wait, timeout, interval)
		},
	}

	cmd.Flags().StringVar(&url, "url", "", "Backend URL (default: bridge URL, then backend.url)")
	cmd.Flags().BoolVar(&wait, "wait", false, "Retry until the backend is ready")
	cmd.Flags().DurationVar(&timeout, "timeout", defaultWaitTimeout, "Maximum time to wait with --wait")
	cmd.Flags().DurationVar(&interval, "interval", client.DefaultPollInterval, "Delay between probes with --wait")

	return cmd
}

// resolveBackendURL asks a running bridge for the current URL and falls
// back to the configured backend.url.
func resolveBackendURL(ctx context.Context) string {
	cfg := config.Load()

	probeCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	if url, err := client.NewBridge(cfg.BridgeAddr()).APIURL(probeCtx); err == nil && url != "" {
		return url
	}

	return cfg.BackendURL()
}

func runStatus(ctx context.Context, out *output.Writer, c *client.Client, wait bool, timeout, interval time.Duration) error {
	var (
		status *client.StatusResponse
		err    error
	)

	if wait {
		waitCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		spin := out.Spinner(fmt.Sprintf("Waiting for %s", c.BaseURL()))
		spin.Start()

		status, err = c.WaitReady(waitCtx, interval)
		if err != nil {
			spin.StopWithFailure("")

			if errors.Is(err, context.DeadlineExceeded) {
				return clierrors.BackendWaitTimedOut(c.BaseURL(), timeout.String(), err)
			}

			return clierrors.BackendUnreachable(c.BaseURL(), err)
		}

		spin.StopWithSuccess("")
	} else {
		status, err = c.Status(ctx)
		if err != nil {
			return clierrors.BackendUnreachable(c.BaseURL(), err)
		}
	}

	compatErr := client.CheckCompatible(status.Version)

	info := StatusInfo{
		URL:           c.BaseURL(),
		Status:        status.Status,
		Version:       status.Version,
		UptimeSeconds: status.UptimeSeconds,
		Compatible:    compatErr == nil,
	}

	if err := out.Result(info, func() {
		if status.OK() {
			out.Success("Backend is up")
		} else {
			out.Warning("Backend reported status %q", status.Status)
		}

		out.KeyValues(
			output.KeyValue{Key: "URL", Value: info.URL},
			output.KeyValue{Key: "Version", Value: info.Version},
			output.KeyValue{Key: "Uptime", Value: (time.Duration(info.UptimeSeconds) * time.Second).String()},
		)
	}); err != nil {
		return err
	}

	if compatErr != nil {
		return clierrors.BackendIncompatible(status.Version, client.MinBackendVersion)
	}

	return nil
}
