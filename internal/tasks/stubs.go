package tasks

import (
	"context"
	"fmt"

	turbotask "github.com/turbopack-go/turbotask"
)

// ModuleTransformResult and CSSResult stand in for the real bundler-side
// outputs a module transform / CSS processing pipeline would produce.
// Actual module resolution, AST transforms, and CSS parsing are out of
// scope for this engine (it schedules and memoizes; it does not bundle) —
// these stubs exist only so a caller can see where such a consumer task
// would plug into the Spawn/ReadOutput surface.
type ModuleTransformResult struct {
	ModulePath string
	Output     string
}

type CSSResult struct {
	StylesheetPath string
	Output         string
}

// NewModuleTransformTask returns a task function that reads cell 0 of
// source (expected to hold its raw text) and echoes a pass-through
// "transform", a placeholder for real module resolution/bundling logic.
func NewModuleTransformTask(modulePath string, source turbotask.TaskId, sourceCellType turbotask.CellTypeId) func(ctx context.Context, rc *turbotask.RunContext) (turbotask.RawRef, error) {
	return func(ctx context.Context, rc *turbotask.RunContext) (turbotask.RawRef, error) {
		content, wait := rc.ReadCell(source, sourceCellType, 0)
		if wait != nil {
			return turbotask.RawRef{}, fmt.Errorf("module transform task: source cell not yet assigned")
		}
		text, _ := content.Value.(string)
		result := ModuleTransformResult{ModulePath: modulePath, Output: text}
		return turbotask.NewRawRef(result, result), nil
	}
}

// NewCSSTask is CSSTask's analogue of NewModuleTransformTask.
func NewCSSTask(stylesheetPath string, source turbotask.TaskId, sourceCellType turbotask.CellTypeId) func(ctx context.Context, rc *turbotask.RunContext) (turbotask.RawRef, error) {
	return func(ctx context.Context, rc *turbotask.RunContext) (turbotask.RawRef, error) {
		content, wait := rc.ReadCell(source, sourceCellType, 0)
		if wait != nil {
			return turbotask.RawRef{}, fmt.Errorf("css task: source cell not yet assigned")
		}
		text, _ := content.Value.(string)
		result := CSSResult{StylesheetPath: stylesheetPath, Output: text}
		return turbotask.NewRawRef(result, result), nil
	}
}
