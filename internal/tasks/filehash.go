package tasks

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	turbotask "github.com/turbopack-go/turbotask"
)

// NewFileHashTask returns a task function that hashes a single file's
// contents, the canonical "cheapest possible leaf" whose identity is
// exactly its content hash — two files with identical bytes never dirty
// readers even across unrelated paths, by construction.
func NewFileHashTask(path string) func(ctx context.Context, rc *turbotask.RunContext) (turbotask.RawRef, error) {
	return func(ctx context.Context, rc *turbotask.RunContext) (turbotask.RawRef, error) {
		f, err := os.Open(path)
		if err != nil {
			return turbotask.RawRef{}, fmt.Errorf("file hash task: open %s: %w", path, err)
		}
		defer f.Close()

		h := sha256.New()
		if _, err := io.Copy(h, f); err != nil {
			return turbotask.RawRef{}, fmt.Errorf("file hash task: read %s: %w", path, err)
		}
		sum := hex.EncodeToString(h.Sum(nil))
		return turbotask.NewRawRef(sum, sum), nil
	}
}
