// Command reconcile diffs and merges text files from the command line.
//
//	reconcile diff OLD NEW
//	reconcile merge BASE A B
//	reconcile detect BASE A B
//
// Set RECONCILE_LOG_LEVEL=debug to see engine decisions on stderr.
package main

import (
	"fmt"
	"os"

	"github.com/raysh454/reconcile/internal/cli"
	"github.com/raysh454/reconcile/internal/logging"
)

func main() {
	level := os.Getenv("RECONCILE_LOG_LEVEL")
	if level == "" {
		level = "warn"
	}
	logger, err := logging.New(logging.Config{Level: level, Format: logging.FormatConsole}, "cli")
	if err != nil {
		fmt.Fprintln(os.Stderr, "reconcile:", err)
		os.Exit(cli.ExitTrouble)
	}

	code := cli.NewRunner(logger).Main(os.Args[1:])
	_ = logger.Close()
	os.Exit(code)
}
