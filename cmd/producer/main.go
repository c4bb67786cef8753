// Command producer runs the Producer daemon: a pool of reverse-connecting
// workers that dial out to a Geo-Relay and serve SOCKS5 sessions on its
// behalf.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/skynetproxy/geoproxy/internal/banner"
	"github.com/skynetproxy/geoproxy/internal/config"
	"github.com/skynetproxy/geoproxy/internal/logging"
	"github.com/skynetproxy/geoproxy/internal/producer"
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
		Use:   "producer",
		Short: "Run the Producer reverse-connecting exit daemon",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(configPath, checkOnly)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "producer.yaml", "path to YAML config file")
	cmd.Flags().BoolVar(&checkOnly, "check", false, "validate configuration and exit")
	return cmd
}

func run(configPath string, checkOnly bool) error {
	cfg, err := config.LoadProducerConfig(configPath)
	if err != nil {
		return fmt.Errorf("producer: %w", err)
	}
	if checkOnly {
		fmt.Printf("configuration file %s test OK\n", configPath)
		fmt.Printf("  relay:    %s:%d\n", cfg.RelayHost, cfg.RelayPort)
		fmt.Printf("  poolSize: %d\n", cfg.PoolSize)
		return nil
	}

	log := logging.New("producer", cfg.Logging.Level, cfg.Logging.Format)
	p := producer.New(cfg, log)

	banner.Print("Producer")
	banner.PrintListening("Producer", fmt.Sprintf("relay %s (pool size %d)", p.RelayAddr, p.PoolSize))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().Msg("producer starting")
	if err := p.Run(ctx); err != nil {
		if errors.Is(err, producer.ErrAPIKeyRejected) {
			return fmt.Errorf("producer: %w (check your API key)", err)
		}
		return fmt.Errorf("producer: %w", err)
	}
	log.Info().Msg("producer stopped")
	return nil
}
