package main

import (
	"fmt"
	"os"

	"github.com/lsm/rolewatch/internal/cli"
)

const usage = `rolewatch - directory role membership reports

Usage:
  rolewatch <command> [flags]

Commands:
  run        Run the pipeline once and print a role summary
  serve      Run the pipeline on a cron schedule with metrics and health endpoints
  validate   Check configuration and credentials without fetching

Run 'rolewatch <command> -h' for help on a specific command.`

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if len(os.Args) < 2 {
		fmt.Println(usage)
		return nil
	}

	switch os.Args[1] {
	case "run":
		return cli.RunOnce(os.Args[2:], nil)
	case "serve":
		return cli.RunServe(os.Args[2:])
	case "validate":
		return cli.RunValidate(os.Args[2:], nil)
	case "-h", "--help", "help":
		fmt.Println(usage)
		return nil
	default:
		return fmt.Errorf("unknown command %q\nRun 'rolewatch help' for usage", os.Args[1])
	}
}
