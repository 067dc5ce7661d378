// Package commands implements the codeloop command line.
package commands

import (
	"github.com/urfave/cli/v3"

	"github.com/martinemde/codeloop/config"
)

// NewRootCommand returns the top-level CLI command.
func NewRootCommand() *cli.Command {
	return &cli.Command{
		Name:  "codeloop",
		Usage: "Run coding tasks against a language model",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to config file",
				Value:   config.ConfigPath(),
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Enable debug logging",
			},
		},
		Commands: []*cli.Command{
			NewRunCommand(),
			NewResumeCommand(),
			NewTasksCommand(),
			NewServeCommand(),
			NewModelsCommand(),
		},
	}
}
