package tasks

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	turbotask "github.com/turbopack-go/turbotask"
)

// PipelineManifest is the shape of a turbotask.yaml workspace manifest:
// a flat list of named leaf commands the CLI registers as persistent
// tasks. Parsing it is itself a task so editing the manifest invalidates
// only the tasks whose definitions actually changed identity.
type PipelineManifest struct {
	Tasks []ManifestTask `yaml:"tasks"`
}

type ManifestTask struct {
	Name    string   `yaml:"name"`
	Command string   `yaml:"command"`
	Inputs  []string `yaml:"inputs"`
}

// NewWorkspaceManifestTask returns a task function that reads and parses
// path, keyed by content hash so an unchanged file never dirties readers
// even if its mtime moved.
func NewWorkspaceManifestTask(path string) func(ctx context.Context, rc *turbotask.RunContext) (turbotask.RawRef, error) {
	return func(ctx context.Context, rc *turbotask.RunContext) (turbotask.RawRef, error) {
		data, err := os.ReadFile(path)
		if err != nil {
			return turbotask.RawRef{}, fmt.Errorf("manifest task: read %s: %w", path, err)
		}

		var manifest PipelineManifest
		if err := yaml.Unmarshal(data, &manifest); err != nil {
			return turbotask.RawRef{}, fmt.Errorf("manifest task: parse %s: %w", path, err)
		}

		sum := sha256.Sum256(data)
		key := hex.EncodeToString(sum[:])
		return turbotask.NewRawRef(key, manifest), nil
	}
}
