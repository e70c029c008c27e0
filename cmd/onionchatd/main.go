package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const defaultConfigPath = "onionchat.toml"

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "onionchatd",
		Short: "Onion-routed peer-to-peer chat daemon",
		Long: `onionchatd keeps a buddy list of .onion peers connected through a Tor
SOCKS proxy, optionally supervising a private Tor process and exposing a
local status endpoint.`,
		SilenceUsage: true,
	}
	cmd.AddCommand(
		newRunCommand(),
		newConfigCommand(),
		newCheckAddressCommand(),
	)
	return cmd
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "onionchatd: %v\n", err)
		os.Exit(1)
	}
}
