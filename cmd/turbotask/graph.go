package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	turbotask "github.com/turbopack-go/turbotask"
	"github.com/turbopack-go/turbotask/internal/debug"
)

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Run the pipeline and print its task dependency tree",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := viper.ConfigFileUsed()
		if path == "" {
			path = cfgFile
		}
		p, err := runPipeline(path, turbotask.StatsNone)
		if err != nil {
			return err
		}

		renderer := debug.NewRenderer(debug.NewHumanHandler(os.Stdout, slog.LevelDebug))
		root := buildNode(p.backend, p.root)
		fmt.Println(renderer.Format(root))
		return nil
	},
}

func buildNode(b *turbotask.Backend, id turbotask.TaskId) *debug.Node {
	name, ok := turbotask.GetTaskTag(b, id, turbotask.NameTag)
	if !ok {
		name = fmt.Sprintf("task#%d", id)
	}
	n := &debug.Node{Name: name, State: b.State(id).String()}
	for _, c := range b.Children(id) {
		n.Children = append(n.Children, buildNode(b, c))
	}
	return n
}
