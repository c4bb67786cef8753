// Command georelay runs the Geo-Relay daemon: the rendezvous server that
// pairs pooled Producer connections with authenticated end-user sessions
// arriving from Client-Gateways.
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
	"github.com/skynetproxy/geoproxy/internal/logging"
	"github.com/skynetproxy/geoproxy/internal/relay"
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
		Use:   "georelay",
		Short: "Run the Geo-Relay rendezvous daemon",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(configPath, checkOnly)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "georelay.yaml", "path to YAML config file")
	cmd.Flags().BoolVar(&checkOnly, "check", false, "validate configuration and exit")
	return cmd
}

func run(configPath string, checkOnly bool) error {
	cfg, err := config.LoadRelayConfig(configPath)
	if err != nil {
		return fmt.Errorf("georelay: %w", err)
	}
	if checkOnly {
		fmt.Printf("configuration file %s test OK\n", configPath)
		fmt.Printf("  producerAddr: %s\n", cfg.ProducerAddr)
		fmt.Printf("  clientAddr:   %s\n", cfg.ClientAddr)
		return nil
	}

	log := logging.New("georelay", cfg.Logging.Level, cfg.Logging.Format)
	authSvc := auth.NewStaticService(nil, cfg.ProducerAPIKeys)

	r := relay.New(cfg.ProducerAddr, cfg.ClientAddr, authSvc, log)

	banner.Print("Geo-Relay")
	banner.PrintListening("Geo-Relay", "producers: "+cfg.ProducerAddr, "clients: "+cfg.ClientAddr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().Msg("georelay starting")
	if err := r.Run(ctx); err != nil {
		return fmt.Errorf("georelay: %w", err)
	}
	log.Info().Msg("georelay stopped")
	return nil
}
