// Package debug renders a task/scope dependency tree for diagnostics, in
// the style of a reactive-graph visualizer attached to a failed build.
package debug

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	"github.com/m1gwings/treedrawer/tree"
)

// Node is a diagnostic snapshot of one task: its name, current state, the
// cell type tags it holds, and its child nodes.
type Node struct {
	Name      string
	State     string
	CellTypes []uint32
	Children  []*Node
	Failed    bool
	Err       error
}

// Renderer draws a tree of Nodes, logging through a slog.Logger so the
// host can route it to a human-readable or silent handler the same way the
// engine's reference host routes its own diagnostics.
type Renderer struct {
	logger *slog.Logger
}

func NewRenderer(handler slog.Handler) *Renderer {
	return &Renderer{logger: slog.New(handler)}
}

// LogFailure renders root's subtree and logs it at ERROR level, the
// failure-triggered dependency dump a host prints on resolution errors.
func (r *Renderer) LogFailure(root *Node, failed *Node, err error) {
	tree := r.Format(root)
	r.logger.Error("task execution failed",
		"task", failed.Name,
		"error", err.Error(),
		"dependency_graph", tree,
	)
}

// Format renders root as a tree via treedrawer followed by an indented
// "Detailed view" listing of every node; a nil root renders as a fixed
// placeholder string.
func (r *Renderer) Format(root *Node) string {
	if root == nil {
		return "(empty - no tasks tracked)"
	}
	var sb strings.Builder
	t := r.buildTree(root, make(map[*Node]bool))
	if t != nil {
		sb.WriteString("\n")
		sb.WriteString(t.String())
		sb.WriteString("\n")
	}
	sb.WriteString("\nDetailed view:\n")
	r.writeDetail(&sb, root, 0)
	return sb.String()
}

func (r *Renderer) buildTree(n *Node, visited map[*Node]bool) *tree.Tree {
	if visited[n] {
		return nil
	}
	visited[n] = true

	label := n.Name
	if n.Failed {
		label += " FAILED"
	} else {
		label += " (" + n.State + ")"
	}
	if len(n.CellTypes) > 0 {
		label += " " + formatCellTypes(n.CellTypes)
	}

	node := tree.NewTree(tree.NodeString(label))

	children := append([]*Node(nil), n.Children...)
	sort.Slice(children, func(i, j int) bool { return children[i].Name < children[j].Name })
	for _, c := range children {
		childTree := r.buildTree(c, visited)
		if childTree != nil {
			addTreeAsChild(node, childTree)
		}
	}
	return node
}

func addTreeAsChild(parent *tree.Tree, child *tree.Tree) {
	newChild := parent.AddChild(child.Val())
	for _, grandchild := range child.Children() {
		addTreeAsChild(newChild, grandchild)
	}
}

func (r *Renderer) writeDetail(sb *strings.Builder, n *Node, depth int) {
	indent := strings.Repeat("  ", depth)
	status := n.State
	if n.Failed {
		status = fmt.Sprintf("FAILED (%v)", n.Err)
	}
	fmt.Fprintf(sb, "%s%s [%s]%s\n", indent, n.Name, status, formatCellTypes(n.CellTypes))
	for _, c := range n.Children {
		r.writeDetail(sb, c, depth+1)
	}
}

func formatCellTypes(types []uint32) string {
	if len(types) == 0 {
		return ""
	}
	parts := make([]string, len(types))
	for i, t := range types {
		parts[i] = fmt.Sprintf("celltype=%d", t)
	}
	return " (" + strings.Join(parts, ", ") + ")"
}

// SilentHandler discards every record; used by tests that exercise
// Renderer without wanting console noise.
type SilentHandler struct{}

func (SilentHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (SilentHandler) Handle(context.Context, slog.Record) error { return nil }
func (h SilentHandler) WithAttrs([]slog.Attr) slog.Handler      { return h }
func (h SilentHandler) WithGroup(string) slog.Handler           { return h }

// HumanHandler formats records for a terminal, with special-cased
// multi-line rendering for the dependency-graph failure record.
type HumanHandler struct {
	w     io.Writer
	level slog.Level
}

func NewHumanHandler(w io.Writer, level slog.Level) *HumanHandler {
	return &HumanHandler{w: w, level: level}
}

func (h *HumanHandler) Enabled(_ context.Context, level slog.Level) bool { return level >= h.level }

func (h *HumanHandler) Handle(_ context.Context, record slog.Record) error {
	if record.Message == "task execution failed" {
		return h.handleFailure(record)
	}
	fmt.Fprintf(h.w, "[%s] %s\n", record.Level, record.Message)
	record.Attrs(func(a slog.Attr) bool {
		fmt.Fprintf(h.w, "  %s: %v\n", a.Key, a.Value)
		return true
	})
	return nil
}

func (h *HumanHandler) handleFailure(record slog.Record) error {
	var task, errMsg, graph string
	record.Attrs(func(a slog.Attr) bool {
		switch a.Key {
		case "task":
			task = a.Value.String()
		case "error":
			errMsg = a.Value.String()
		case "dependency_graph":
			graph = a.Value.String()
		}
		return true
	})
	fmt.Fprintln(h.w, strings.Repeat("=", 70))
	fmt.Fprintln(h.w, "task execution failed")
	fmt.Fprintf(h.w, "task: %s\nerror: %s\n", task, errMsg)
	fmt.Fprintf(h.w, "dependency graph:%s\n", graph)
	fmt.Fprintln(h.w, strings.Repeat("=", 70))
	return nil
}

func (h *HumanHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *HumanHandler) WithGroup(string) slog.Handler      { return h }
