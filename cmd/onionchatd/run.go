package main

import (
	"context"
	"errors"
	"os/signal"
	"strings"
	"syscall"

	"github.com/danmuck/onionchat/internal/buddy"
	"github.com/danmuck/onionchat/internal/config"
	"github.com/danmuck/onionchat/internal/logging"
	"github.com/danmuck/onionchat/internal/observability"
	"github.com/danmuck/onionchat/internal/status"
	"github.com/danmuck/onionchat/internal/tools"
	"github.com/danmuck/onionchat/internal/torproc"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newRunCommand() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the chat daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			logging.ConfigureRuntime()
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runDaemon(ctx, cfg)
		},
	}
	cmd.Flags().StringVarP(&path, "config", "c", defaultConfigPath, "path to onionchat.toml")
	return cmd
}

func runDaemon(ctx context.Context, cfg config.Config) error {
	observability.RegisterMetrics()

	var (
		list *buddy.List
		sup  *torproc.Supervisor
	)
	sup = torproc.NewSupervisor(cfg.TorConfig(), tools.ExecLauncher{},
		torproc.WithProfileHook(func(p torproc.Profile) {
			log.Info().Str("profile", p.Name).Str("socks", p.SocksAddr()).Msg("onionchatd proxy profile")
			if hostname := cfgHostname(cfg, sup); hostname != "" {
				list.SetHostname(hostname)
			}
		}))

	listCfg := cfg.ListConfig()
	list = buddy.NewList(listCfg,
		buddy.SOCKSDialer{Source: sup, Timeout: listCfg.Session.ConnectTimeout},
		buddy.WithObserver(logObserver{}))
	defer list.Close()

	for _, entry := range cfg.Buddies {
		group := entry.Group
		if group == "" {
			group = buddy.GroupBuddies
		}
		if _, err := list.Add(entry.Address, entry.Name, group); err != nil {
			log.Warn().Str("address", entry.Address).Err(err).Msg("onionchatd buddy skipped")
		}
	}

	if err := sup.Start(ctx); err != nil {
		if !errors.Is(err, torproc.ErrStartup) {
			return err
		}
		log.Warn().Err(err).Msg("onionchatd portable tor unavailable, using external proxy")
	}
	defer func() {
		if err := sup.Stop(); err != nil {
			log.Warn().Err(err).Msg("onionchatd proxy stop")
		}
	}()

	if hostname := cfgHostname(cfg, sup); hostname != "" {
		list.SetHostname(hostname)
	} else {
		log.Warn().Msg("onionchatd no local hostname, outbound handshakes disabled")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return list.Listen(gctx) })
	g.Go(func() error { return list.Run(gctx) })
	if strings.TrimSpace(cfg.Status.Addr) != "" {
		srv := status.New(status.Config{
			Addr:        cfg.Status.Addr,
			Token:       cfg.Status.Token,
			CorsOrigins: cfg.Status.CorsOrigins,
			Version:     buddy.DefaultClientVersion,
		}, list, sup)
		g.Go(func() error { return srv.Serve(gctx) })
	}

	log.Info().Str("hostname", list.Hostname()).Int("buddies", len(cfg.Buddies)).Msg("onionchatd ready")
	err := g.Wait()
	log.Info().Err(err).Msg("onionchatd shutdown")
	return err
}

// cfgHostname prefers the configured hostname over the one the portable
// process published.
func cfgHostname(cfg config.Config, sup *torproc.Supervisor) string {
	if cfg.Client.Hostname != "" {
		return cfg.Client.Hostname
	}
	if sup == nil {
		return ""
	}
	return sup.LocalAddress()
}
