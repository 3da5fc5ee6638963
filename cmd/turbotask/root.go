package main

import (
	"fmt"
	"os"

	prefixed "github.com/x-cray/logrus-prefixed-formatter"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile   string
	verbose   bool
	logger    = logrus.New()
	rootCmd   = &cobra.Command{
		Use:   "turbotask",
		Short: "Run an incremental, memoized task pipeline from a workspace manifest",
		Long: `turbotask drives the turbotask engine from a turbotask.yaml workspace
manifest: each entry becomes a persistent task, registered once and
re-executed only when its recorded dependencies change.`,
		Version:           "0.1.0",
		PersistentPreRunE: initConfig,
	}
)

func init() {
	logger.SetFormatter(&prefixed.TextFormatter{
		FullTimestamp:   true,
		ForceFormatting: true,
	})

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "turbotask.yaml", "workspace manifest path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(graphCmd)
	rootCmd.AddCommand(statsCmd)
}

func initConfig(cmd *cobra.Command, args []string) error {
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	viper.SetConfigFile(cfgFile)
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		if cmd.Name() == "help" {
			return nil
		}
		return fmt.Errorf("read config %s: %w", cfgFile, err)
	}
	return nil
}

// Execute is the cobra entry point called from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logger.WithError(err).Error("turbotask exited with an error")
		os.Exit(1)
	}
}
