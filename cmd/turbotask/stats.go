package main

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	dto "github.com/prometheus/client_model/go"

	turbotask "github.com/turbopack-go/turbotask"
	"github.com/turbopack-go/turbotask/internal/metrics"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Run the pipeline and print execution counters",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := viper.ConfigFileUsed()
		if path == "" {
			path = cfgFile
		}

		reg := prometheus.NewRegistry()
		recorder := metrics.NewRecorder(reg)

		p, err := runPipelineWithRecorder(path, turbotask.StatsFull, recorder)
		if err != nil {
			return err
		}

		families, err := reg.Gather()
		if err != nil {
			return fmt.Errorf("gather metrics: %w", err)
		}
		printFamilies(families)

		logger.WithField("task_count", len(p.execIDs)).Info("stats collected")
		return nil
	},
}

func printFamilies(families []*dto.MetricFamily) {
	for _, f := range families {
		fmt.Printf("# %s: %s\n", f.GetName(), f.GetHelp())
		for _, m := range f.GetMetric() {
			switch f.GetType() {
			case dto.MetricType_COUNTER:
				fmt.Printf("  %v = %v\n", m.GetLabel(), m.GetCounter().GetValue())
			case dto.MetricType_GAUGE:
				fmt.Printf("  %v = %v\n", m.GetLabel(), m.GetGauge().GetValue())
			}
		}
	}
}
