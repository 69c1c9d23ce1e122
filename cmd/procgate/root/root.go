// Package root wires the procgate admin CLI: bring up the configured
// providers, run tool calls against them, and shut everything down.
package root

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/procgate/go-procgate/src/config"
	"github.com/procgate/go-procgate/src/dispatch"
	"github.com/procgate/go-procgate/src/registry"
)

var (
	flagConfig   string
	flagEnvFile  string
	flagLogLevel string
)

var rootCmd = &cobra.Command{
	Use:   "procgate",
	Short: "Process-based tool gateway",
	Long: "Procgate launches capability providers as child processes, speaks " +
		"newline-delimited JSON-RPC with them over stdio, and routes named tool " +
		"calls to the provider that implements them.",
	SilenceUsage: true,
}

// Execute runs the Cobra root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "procgate.json", "path to the provider configuration file (JSON or YAML)")
	rootCmd.PersistentFlags().StringVar(&flagEnvFile, "env-file", "", "optional .env file consulted for ${VAR} references")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", os.Getenv("LOG_LEVEL"), "trace|debug|info|warn|error")
}

func setupLogger() *logrus.Logger {
	switch strings.ToLower(strings.TrimSpace(flagLogLevel)) {
	case "trace":
		logrus.SetLevel(logrus.TraceLevel)
	case "debug":
		logrus.SetLevel(logrus.DebugLevel)
	case "warn":
		logrus.SetLevel(logrus.WarnLevel)
	case "error":
		logrus.SetLevel(logrus.ErrorLevel)
	default:
		logrus.SetLevel(logrus.InfoLevel)
	}
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return logrus.StandardLogger()
}

// bringUp loads the config, starts every enabled provider, and returns the
// dispatcher plus a teardown func. Callers must invoke teardown.
func bringUp(ctx context.Context) (*dispatch.Dispatcher, *registry.Registry, func(), error) {
	log := setupLogger()

	var sources []config.VariablesSource
	if flagEnvFile != "" {
		sources = append(sources, config.NewDotEnv(flagEnvFile))
	}
	cfg, err := config.Load(flagConfig, sources...)
	if err != nil {
		return nil, nil, nil, err
	}

	reg := registry.New(nil, log)
	reg.InitializeAll(ctx, cfg.Providers)

	disp := dispatch.New(cfg.BuildRoutes(), reg, log)
	return disp, reg, reg.ShutdownAll, nil
}
