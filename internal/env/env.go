// Package env captures details about the engine's runtime environment:
// the environment variables spec.md §6 lists as consumed.
package env

import "os"

// Home is the user's support-script directory, from $TUNDRA_HOME,
// defaulting to $HOME/.tundra the way the teacher's DistriRoot defaults
// to $HOME/distri when its own environment variable is unset.
var Home = findHome()

// DagTool is the path to the external DAG generator cmd/tundra invokes
// when the frozen graph is missing or stale (spec.md §4.14 step 1),
// from $TUNDRA_DAGTOOL. It is empty when unset, in which case the
// driver reports a load error instead of silently skipping generation.
var DagTool = os.Getenv("TUNDRA_DAGTOOL")

func findHome() string {
	if v := os.Getenv("TUNDRA_HOME"); v != "" {
		return v
	}
	return os.ExpandEnv("$HOME/.tundra")
}
