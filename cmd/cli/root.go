// Package cli implements the Cobra-based command-line interface for
// lanscout: daemon operation, one-off scans and schedule management.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lanscout/lanscout/internal/config"
	"github.com/lanscout/lanscout/internal/logging"
)

var (
	cfgFile string
	verbose bool
)

// Build information, set by ldflags.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// rootCmd is the base command.
var rootCmd = &cobra.Command{
	Use:   "lanscout",
	Short: "LAN asset discovery engine",
	Long: `Lanscout continuously discovers devices on local networks using ARP
and ICMP sweeps, probes their open ports, classifies them with a
rule-driven engine, and tracks their presence over time.`,
	Version: fmt.Sprintf("%s (commit %s, built %s)", version, commit, buildTime),
}

// Execute runs the root command. Called by main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	if err := viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose")); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to bind verbose flag: %v\n", err)
	}
}

// initConfig reads environment variables and locates the config file.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("LANSCOUT")

	if err := viper.ReadInConfig(); err == nil {
		cfgFile = viper.ConfigFileUsed()
		if verbose {
			fmt.Fprintln(os.Stderr, "Using config file:", cfgFile)
		}
	}
}

// loadConfig loads the resolved configuration file and initializes
// logging from it.
func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		path = "config.yaml"
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	level := cfg.Logging.Level
	if verbose {
		level = "debug"
	}
	logger, err := logging.New(logging.Config{
		Level:  logging.LogLevel(level),
		Format: logging.LogFormat(cfg.Logging.Format),
		Output: cfg.Logging.Output,
	})
	if err != nil {
		return nil, err
	}
	logging.SetDefault(logger)
	return cfg, nil
}
