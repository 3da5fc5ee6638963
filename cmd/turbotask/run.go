package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	turbotask "github.com/turbopack-go/turbotask"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Load the workspace manifest and run every task to completion",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := viper.ConfigFileUsed()
		if path == "" {
			path = cfgFile
		}
		p, err := runPipeline(path, turbotask.StatsEssential)
		if err != nil {
			return err
		}
		logger.WithField("tasks", len(p.execIDs)).Info("pipeline run complete")
		return nil
	},
}
