package main

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/lunatix-dev/lunatix/internal/bridge"
	"github.com/lunatix-dev/lunatix/internal/client"
	"github.com/lunatix-dev/lunatix/internal/config"
	clierrors "github.com/lunatix-dev/lunatix/internal/errors"
	"github.com/lunatix-dev/lunatix/internal/output"
)

func newModeCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "mode",
		Short: "Show or switch the backend mode",
		Long: `Show or switch the backend mode of a running 'lunatix serve'.

Remote mode points the shell at a URL you choose. Standalone mode spawns the
bundled sidecar and points the shell at its local URL.`,
	}

	cmd.PersistentFlags().StringVar(&addr, "bridge-addr", "", "Bridge address (default from bridge.addr)")

	cmd.AddCommand(newModeGetCmd(&addr))
	cmd.AddCommand(newModeRemoteCmd(&addr))
	cmd.AddCommand(newModeStandaloneCmd(&addr))

	return cmd
}

func newModeGetCmd(addr *string) *cobra.Command {
	return &cobra.Command{
		Use:   "get",
		Short: "Show the current backend mode and URL",
		Long:  `Display the mode, backend URL, and sidecar process id reported by the running bridge.`,
		Example: `  lunatix mode get
  lunatix mode get --json`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())
			bc := newBridgeClient(*addr)

			info, err := bc.Mode(cmd.Context())
			if err != nil {
				return bridgeError(bc, err)
			}

			return out.Result(info, func() { printModeInfo(out, info) })
		},
	}
}

func newModeRemoteCmd(addr *string) *cobra.Command {
	return &cobra.Command{
		Use:   "remote <url>",
		Short: "Point the shell at a remote backend",
		Long: `Switch to remote mode. A running sidecar is stopped before the shell is
pointed at the given URL.`,
		Example: `  lunatix mode remote https://api.example.com
  lunatix mode remote http://10.0.0.5:8080`,
		Args: exactArgs(1, "exactly one <url> argument"),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())
			bc := newBridgeClient(*addr)

			info, err := bc.SetRemote(cmd.Context(), args[0])
			if err != nil {
				var be *client.BridgeError
				if errors.As(err, &be) && be.StatusCode == http.StatusBadRequest {
					return clierrors.InvalidURL(args[0], err)
				}

				return bridgeError(bc, err)
			}

			return out.Result(info, func() {
				out.Success("Switched to remote mode")
				printModeInfo(out, info)
			})
		},
	}
}

func newModeStandaloneCmd(addr *string) *cobra.Command {
	return &cobra.Command{
		Use:   "standalone",
		Short: "Spawn the bundled backend and use it",
		Long: `Switch to standalone mode. The bundled sidecar is spawned unless one is
already running, in which case nothing changes.`,
		Example: `  lunatix mode standalone
  lunatix mode standalone --bridge-addr 127.0.0.1:17400`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())
			bc := newBridgeClient(*addr)

			info, err := bc.SetStandalone(cmd.Context())
			if err != nil {
				return bridgeError(bc, err)
			}

			return out.Result(info, func() {
				out.Success("Switched to standalone mode")
				printModeInfo(out, info)
			})
		},
	}
}

func printModeInfo(out *output.Writer, info *client.ModeInfo) {
	rows := []output.KeyValue{
		{Key: "Mode", Value: info.Mode},
		{Key: "Backend", Value: info.URL},
	}

	if info.PID > 0 {
		rows = append(rows, output.KeyValue{Key: "Sidecar PID", Value: strconv.Itoa(info.PID)})
	}

	out.KeyValues(rows...)
}

// bridgeError maps a bridge client error to a CLIError.
func bridgeError(bc *client.BridgeClient, err error) error {
	var be *client.BridgeError
	if !errors.As(err, &be) {
		return clierrors.BridgeUnavailable(bc.BaseURL(), err)
	}

	switch be.Code {
	case bridge.CodeSpawnFailed:
		return clierrors.SpawnFailed(config.Load().SidecarName(), err)
	case bridge.CodeShutdown:
		return clierrors.Wrap(clierrors.ExitGeneral, "The bridge is shutting down", err).
			WithHint("Restart it with 'lunatix serve'")
	default:
		return clierrors.Wrap(clierrors.ExitGeneral, be.Message, err)
	}
}
