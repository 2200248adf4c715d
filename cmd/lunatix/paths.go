package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lunatix-dev/lunatix/internal/config"
	"github.com/lunatix-dev/lunatix/internal/output"
	"github.com/lunatix-dev/lunatix/internal/paths"
	"github.com/lunatix-dev/lunatix/internal/sidecar"
)

// PathsInfo holds all resolved paths for JSON output.
type PathsInfo struct {
	ConfigRoot   string   `json:"config_root"`
	StateRoot    string   `json:"state_root"`
	ConfigFile   string   `json:"config_file"`
	LogFile      string   `json:"log_file"`
	OverrideDirs []string `json:"override_dirs"`
	BackendURL   string   `json:"backend_url"`
	BridgeAddr   string   `json:"bridge_addr"`
}

func newPathsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "paths",
		Short: "Show where lunatix stores files",
		Long: `Display all file and directory paths used by lunatix.

Includes the directories searched for the packager's ` + sidecar.OverrideFileName + ` override.`,
		Example: `  lunatix paths
  lunatix paths --json`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())
			info := resolvePathsInfo()

			return out.Result(info, func() {
				out.KeyValues(
					output.KeyValue{Key: "Config root", Value: info.ConfigRoot},
					output.KeyValue{Key: "State root", Value: info.StateRoot},
					output.KeyValue{Key: "Config file", Value: info.ConfigFile},
					output.KeyValue{Key: "Log file", Value: info.LogFile},
				)
				out.Println()

				for _, dir := range info.OverrideDirs {
					out.KeyValues(output.KeyValue{Key: "Override dir", Value: dir})
				}

				out.Println()
				out.KeyValues(
					output.KeyValue{Key: "Backend URL", Value: info.BackendURL},
					output.KeyValue{Key: "Bridge addr", Value: info.BridgeAddr},
				)
			})
		},
	}
}

func resolvePathsInfo() PathsInfo {
	cfg := config.Load()

	return PathsInfo{
		ConfigRoot:   resolveOrError(paths.ConfigRoot),
		StateRoot:    resolveOrError(paths.StateRoot),
		ConfigFile:   resolveOrError(paths.ConfigFile),
		LogFile:      resolveOrError(paths.DefaultLogFile),
		OverrideDirs: overrideDirs(),
		BackendURL:   cfg.BackendURL(),
		BridgeAddr:   cfg.BridgeAddr(),
	}
}

func resolveOrError(fn func() (string, error)) string {
	val, err := fn()
	if err != nil {
		return fmt.Sprintf("<error: %v>", err)
	}

	return val
}
