// Command mkimage packages, inspects and simulates boot images.
package main

import (
	"context"
	"flag"
	"os"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"
)

var (
	debug = flag.Bool("debug", false, "enable debug logging.")

	// The following are mocked by tests.
	readFileFn  = os.ReadFile
	writeFileFn = os.WriteFile
)

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")
	subcommands.Register(new(Build), "")
	subcommands.Register(new(Inspect), "")
	subcommands.Register(new(Simulate), "")

	flag.Parse()

	logrus.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	if *debug {
		logrus.SetLevel(logrus.DebugLevel)
	}

	os.Exit(int(subcommands.Execute(context.Background())))
}
