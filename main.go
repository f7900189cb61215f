package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spinescan/spinescan/cmd"
	"github.com/spinescan/spinescan/internal/buildinfo"
)

// Stamped with -ldflags "-X main.version=... -X main.buildDate=...".
var (
	version   = "dev"
	buildDate = "unknown"
)

func main() {
	rootCmd := cmd.RootCommand(&buildinfo.Context{Version: version, BuildDate: buildDate})
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
