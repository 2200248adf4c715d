package main

import (
	"os"
	"path/filepath"

	"github.com/lunatix-dev/lunatix/internal/client"
	"github.com/lunatix-dev/lunatix/internal/config"
	"github.com/lunatix-dev/lunatix/internal/paths"
)

// overrideDirs returns the directories searched for sidecar.toml: the
// directory of the running executable, then the lunatix config root.
// Later directories win.
func overrideDirs() []string {
	var dirs []string

	if exe, err := os.Executable(); err == nil {
		dirs = append(dirs, filepath.Dir(exe))
	}

	if root, err := paths.ConfigRoot(); err == nil {
		dirs = append(dirs, root)
	}

	return dirs
}

// newBridgeClient creates a client for the bridge at addr, falling back to
// the configured bridge.addr.
//
// This consolidates the repeated pattern of:
//
//	cfg := config.Load()
//	c := client.NewBridge(cfg.BridgeAddr())
func newBridgeClient(addr string) *client.BridgeClient {
	if addr == "" {
		addr = config.Load().BridgeAddr()
	}

	return client.NewBridge(addr)
}
