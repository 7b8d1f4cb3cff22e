// Package cmd implements the cosim command line.
package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tebeka/atexit"
)

// errFailed reports a run in which some node did not pass.
var errFailed = errors.New("co-simulation failed")

var rootCmd = &cobra.Command{
	Use:   "cosim",
	Short: "cosim runs software actors against a clocked bus simulation.",
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if err := bindFlags(cmd.Flags()); err != nil {
			return err
		}

		level, err := log.ParseLevel(viper.GetString("log-level"))
		if err != nil {
			return err
		}

		log.SetLevel(level)

		return nil
	},
	SilenceUsage: true,
}

func init() {
	cobra.OnInitialize(initViper)

	rootCmd.PersistentFlags().String("log-level", "info",
		"The log level, one of trace, debug, info, warn, error.")
}

// Execute runs the command line and exits the process.
func Execute() {
	ctx := withSignalCancel(context.Background())

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errFailed) {
			log.Error(err)
		}

		atexit.Exit(1)
	}

	atexit.Exit(0)
}

func withSignalCancel(ctx context.Context) context.Context {
	ctx, cancel := context.WithCancel(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(signals)
	}()

	return ctx
}
