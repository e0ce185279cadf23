// Command corectl is the administrative CLI over the engine facade:
// create/drop/rename tables and drive checkpoint cycles from the command
// line, grounded on cmd/maho.go's cobra root command plus PersistentPreRunE
// config-loading and cmd/start.go's pflag-bound option shape.
package main

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/colossusdb/corestore/config"
	"github.com/colossusdb/corestore/engine"
)

var (
	rootCmd = &cobra.Command{
		Use:               "corectl",
		Short:             "Administrative CLI for a corestore database",
		PersistentPreRunE: corectlPreRun,
	}

	configFile = ""
	logLevel   = "info"

	cfg *config.CairoConfiguration
	eng *engine.Engine
)

func init() {
	fs := rootCmd.PersistentFlags()
	fs.StringVar(&configFile, "config-file", configFile, "`file` to load CairoConfiguration from")
	fs.StringVar(&logLevel, "log-level", logLevel,
		"log level: trace, debug, info, warn, error, fatal, or panic")
	config.Flags(fs, "set", "no-hcl-config", "hcl-config-file", "list-config")
}

func corectlPreRun(cmd *cobra.Command, args []string) error {
	ll, err := log.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("corectl: %s", err)
	}
	log.SetLevel(ll)

	cfg, err = config.LoadCairoConfiguration(configFile)
	if err != nil {
		return fmt.Errorf("corectl: loading configuration: %w", err)
	}
	eng, err = engine.Open(cfg)
	if err != nil {
		return fmt.Errorf("corectl: opening engine: %w", err)
	}
	return nil
}

func main() {
	defer func() {
		if eng != nil {
			eng.Close()
		}
	}()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
