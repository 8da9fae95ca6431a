// Package app builds the agrifly-broker command tree.
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/agrifly-io/agrifly/cmd/agrifly-broker/app/options"
	"github.com/agrifly-io/agrifly/internal/broker"
	"github.com/agrifly-io/agrifly/pkg/log"
)

const (
	commandName = "agrifly-broker"
	commandDesc = `The Agrifly broker mediates between MAVLink agricultural drones on
serial links and browser operation dashboards: it aggregates telemetry,
routes operator commands, uploads and supervises survey missions, runs
spray operations, and optionally mirrors fleet events onto MQTT.`
)

// NewBrokerCommand creates the root command.
func NewBrokerCommand() *cobra.Command {
	opts := options.NewBrokerOptions()

	cmd := &cobra.Command{
		Use:          commandName,
		Short:        "Launch the Agrifly ground-control broker",
		Long:         commandDesc,
		SilenceUsage: true,
		RunE: func(_ *cobra.Command, _ []string) error {
			return run(opts)
		},
	}

	opts.AddFlags(cmd.Flags())
	cmd.AddCommand(newDronesCommand())
	return cmd
}

func run(opts *options.BrokerOptions) error {
	log.Init(opts.Log)

	if err := opts.Validate(); err != nil {
		return err
	}

	// A malformed configuration file at startup is fatal; reload
	// failures later only log.
	cfg, v, err := opts.Config()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, err := broker.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create broker: %w", err)
	}

	if v != nil {
		broker.WatchConfig(v, b.Reload)
	}

	return b.Run(ctx)
}
