// Command turbotask drives the engine from a workspace manifest: it loads
// turbotask.yaml, registers each entry as a persistent task, runs them to
// completion, and prints a stats/graph summary.
package main

func main() {
	Execute()
}
