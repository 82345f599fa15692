// Command amanu is the CLI entrypoint: run the pipeline end to end or stage by stage, inspect
// and manage jobs, run the directory watcher, report usage, and serve the optional status
// HTTP surface.
package main

import "github.com/jfima/amanu/internal/cli"

func main() {
	cli.Execute()
}
