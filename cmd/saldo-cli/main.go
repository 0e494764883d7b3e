package main

import (
	"context"
	"flag"
	"os"
	"path"

	"github.com/google/subcommands"

	"saldo/internal/cli"
)

func main() {
	cli.LoadEnvFile()

	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")
	commander.Register(&credentialsCmd{}, "import")
	commander.Register(&importCmd{}, "import")
	commander.Register(&summaryCmd{}, "report")
	commander.Register(&expensesCmd{}, "report")

	flag.Parse()
	os.Exit(int(commander.Execute(context.Background())))
}
