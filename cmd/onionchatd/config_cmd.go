package main

import (
	"fmt"
	"time"

	"github.com/danmuck/onionchat/internal/config"
	"github.com/danmuck/onionchat/internal/onion"
	"github.com/danmuck/onionchat/internal/tools"
	"github.com/danmuck/onionchat/internal/torproc"
	"github.com/spf13/cobra"
)

func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Create or check onionchat.toml",
	}

	var (
		force      bool
		torVersion bool
	)
	initCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a config template with default values",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := pathArg(args)
			if err := config.WriteTemplate(path, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing file")

	validateCmd := &cobra.Command{
		Use:   "validate [path]",
		Short: "Load and validate a config file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := pathArg(args)
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s ok: %d buddies, portable tor %t\n",
				path, len(cfg.Buddies), cfg.TorPortable.Enabled)
			if torVersion && cfg.TorPortable.Enabled {
				version, err := torproc.ProbeVersion(cmd.Context(), tools.ExecRunner{Timeout: 10 * time.Second}, cfg.TorConfig())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "portable tor: %s\n", version)
			}
			return nil
		},
	}
	validateCmd.Flags().BoolVar(&torVersion, "tor-version", false, "run the portable tor command with --version")

	cmd.AddCommand(initCmd, validateCmd)
	return cmd
}

func newCheckAddressCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check-address <address>...",
		Short: "Validate onion service addresses",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var failed int
			for _, raw := range args {
				addr := onion.Normalize(raw)
				if err := onion.Check(addr); err != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "%s invalid: %v\n", raw, err)
					failed++
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s ok\n", addr)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d addresses invalid", failed, len(args))
			}
			return nil
		},
	}
}

func pathArg(args []string) string {
	if len(args) == 0 {
		return defaultConfigPath
	}
	return args[0]
}
