// Command gateway runs the Client-Gateway daemon: the public SOCKS5 front
// door that authenticates end users and routes them to a country-selected
// Geo-Relay.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/skynetproxy/geoproxy/internal/auth"
	"github.com/skynetproxy/geoproxy/internal/banner"
	"github.com/skynetproxy/geoproxy/internal/config"
	"github.com/skynetproxy/geoproxy/internal/gateway"
	"github.com/skynetproxy/geoproxy/internal/logging"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	var checkOnly bool

	cmd := &cobra.Command{
		Use:   "gateway",
		Short: "Run the Client-Gateway front-door daemon",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(configPath, checkOnly)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "gateway.yaml", "path to YAML config file")
	cmd.Flags().BoolVar(&checkOnly, "check", false, "validate configuration and exit")
	return cmd
}

func run(configPath string, checkOnly bool) error {
	cfg, err := config.LoadGatewayConfig(configPath)
	if err != nil {
		return fmt.Errorf("gateway: %w", err)
	}
	if checkOnly {
		fmt.Printf("configuration file %s test OK\n", configPath)
		fmt.Printf("  listenAddr: %s\n", cfg.ListenAddr)
		for _, r := range cfg.Relays {
			fmt.Printf("  relay %s -> %s:%d\n", r.Country, r.Addr, cfg.RelayClientPort)
		}
		return nil
	}

	log := logging.New("gateway", cfg.Logging.Level, cfg.Logging.Format)
	authSvc := auth.NewStaticService(cfg.ClientUsers, nil)

	g := gateway.New(cfg, authSvc, log)

	banner.Print("Client-Gateway")
	banner.PrintListening("Client-Gateway", cfg.ListenAddr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().Msg("gateway starting")
	if err := g.Run(ctx); err != nil {
		return fmt.Errorf("gateway: %w", err)
	}
	log.Info().Msg("gateway stopped")
	return nil
}
