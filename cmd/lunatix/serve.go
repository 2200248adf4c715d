package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lunatix-dev/lunatix/internal/bridge"
	"github.com/lunatix-dev/lunatix/internal/config"
	clierrors "github.com/lunatix-dev/lunatix/internal/errors"
	"github.com/lunatix-dev/lunatix/internal/observability"
	"github.com/lunatix-dev/lunatix/internal/output"
	"github.com/lunatix-dev/lunatix/internal/sidecar"
	"github.com/lunatix-dev/lunatix/internal/supervisor"
)

const shutdownGrace = 10 * time.Second

// serveOptions is the resolved input of one `lunatix serve` run.
type serveOptions struct {
	Addr       string
	Standalone bool
	BackendURL string
	Spec       sidecar.Spec
	LocalURL   string
	Launcher   sidecar.Launcher
	Console    sidecar.Sink
	Origins    []string
}

func newServeCmd() *cobra.Command {
	var (
		standalone bool
		addr       string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the backend supervisor and shell bridge",
		Long: `Run the backend supervisor and expose the shell bridge on a loopback address.

At startup lunatix points the shell at the configured backend URL. When
LUNATIX_STANDALONE=1 (or --standalone) it spawns the bundled sidecar once;
a failed spawn is logged and the configured URL is kept. Sidecar output is
relayed to this terminal prefixed with its tag. The supervisor shuts down and
kills the sidecar on SIGINT, SIGTERM, or when the shell reports its main
window destroyed.`,
		Example: `  lunatix serve
  lunatix serve --standalone
  LUNATIX_STANDALONE=1 lunatix serve --addr 127.0.0.1:17400`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())
			logger := observability.FromContext(cmd.Context())
			cfg := config.Load()

			m, spec, err := sidecar.Prepare(cfg.SidecarName(), cfg.SidecarPath(), cfg.SidecarPort(), overrideDirs()...)

			switch {
			case errors.Is(err, sidecar.ErrUnknownSidecar):
				return clierrors.UnknownSidecar(cfg.SidecarName(), sidecar.Names())
			case errors.Is(err, sidecar.ErrBinaryNotFound):
				// Remote mode still works; SetStandalone reports the failure.
				logger.Warn("sidecar binary not found",
					slog.String("event.type", "sidecar.resolve.failed"),
					slog.String("sidecar.name", m.Name),
					slog.String("error", err.Error()))
			case err != nil:
				return clierrors.ConfigFailed("load sidecar manifest", err)
			}

			opts := serveOptions{
				Addr:       addr,
				Standalone: cfg.Standalone(),
				BackendURL: cfg.BackendURL(),
				Spec:       spec,
				LocalURL:   sidecar.LocalURL(m.Port),
				Launcher:   sidecar.NewExecLauncher(),
				Console:    sidecar.NewConsoleSink(),
				Origins:    cfg.BridgeOrigins(),
			}

			if opts.Addr == "" {
				opts.Addr = cfg.BridgeAddr()
			}

			if cmd.Flags().Changed("standalone") {
				opts.Standalone = standalone
			}

			ln, err := net.Listen("tcp", opts.Addr)
			if err != nil {
				return clierrors.Wrap(clierrors.ExitNetwork, fmt.Sprintf("Failed to listen on %s", opts.Addr), err).
					WithHint("Another 'lunatix serve' may be running; check with 'lunatix mode get'")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runServe(ctx, out, logger, ln, opts)
		},
	}

	cmd.Flags().BoolVar(&standalone, "standalone", false, "Spawn the bundled backend at startup (overrides LUNATIX_STANDALONE)")
	cmd.Flags().StringVar(&addr, "addr", "", "Bridge listen address (default from bridge.addr)")

	return cmd
}

// runServe wires the supervisor, bridge and event hub, runs the startup
// hook and serves on ln until ctx ends or the window is destroyed. The
// supervisor is always shut down before returning.
func runServe(ctx context.Context, out *output.Writer, logger *slog.Logger, ln net.Listener, opts serveOptions) error {
	hub := bridge.NewHub(logger, opts.Origins...)

	sup := supervisor.New(supervisor.Options{
		Launcher: opts.Launcher,
		Spec:     opts.Spec,
		LocalURL: opts.LocalURL,
		Sink:     sidecar.MultiSink{opts.Console, sidecar.LogSink{Logger: logger}, hub},
		Logger:   logger,
		OnChange: hub.ModeChanged,
	})

	b := bridge.New(sup, logger)

	if backend := strings.TrimRight(strings.TrimSpace(opts.BackendURL), "/"); backend != "" && backend != sup.LocalURL() {
		b.SetRemoteMode(ctx, backend)
	}

	b.Startup(ctx, opts.Standalone)

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
		defer cancel()

		sup.Shutdown(shutdownCtx)
	}()

	snap := sup.Snapshot()

	if out.JSON {
		if err := out.PrintJSON(map[string]any{"addr": ln.Addr().String(), "mode": snap}); err != nil {
			_ = ln.Close()
			return err
		}
	} else {
		out.Success("Bridge listening on http://%s", ln.Addr())
		out.KeyValues(
			output.KeyValue{Key: "Mode", Value: string(snap.Mode)},
			output.KeyValue{Key: "Backend", Value: snap.URL},
		)
	}

	srv := bridge.NewServer(b, hub, logger, opts.Origins...)
	if err := srv.Serve(ctx, ln); err != nil {
		return clierrors.Wrap(clierrors.ExitGeneral, "Bridge server failed", err)
	}

	out.Muted("Shutting down")

	return nil
}
