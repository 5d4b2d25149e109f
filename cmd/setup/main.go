// Package main is the entry point for the setup command line tool.
package main

import (
	"log/slog"
	"os"

	"github.com/feedpipe/feedpipe/cmd/setup/commands"
)

func main() {
	a, err := commands.New()
	if err != nil {
		slog.Error("Can't create app", "error", err)
		os.Exit(1)
	}

	os.Exit(run(a))
}

type app interface {
	Run() error
	UsageError() bool
}

func run(a app) int {
	if err := a.Run(); err != nil {
		slog.Error(err.Error())

		if a.UsageError() {
			return 2
		}
		return 1
	}

	return 0
}
