package main

import (
	"context"
	"os"

	"system-toolbox/internal/cli"
)

// Set by -ldflags "-X main.version=..."
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	info := cli.BuildInfo{Version: version, Commit: commit, Date: date}
	os.Exit(cli.Execute(context.Background(), info, os.Args[1:]))
}
