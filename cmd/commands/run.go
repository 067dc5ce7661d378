package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/martinemde/codeloop/agentloop"
	"github.com/martinemde/codeloop/modes"
)

var taskFlags = []cli.Flag{
	&cli.BoolFlag{
		Name:    "yes",
		Aliases: []string{"y"},
		Usage:   "Approve every tool call without asking",
	},
	&cli.BoolFlag{
		Name:    "verbose",
		Aliases: []string{"v"},
		Usage:   "Show reasoning, tool arguments, full tool output and token usage",
	},
}

// NewRunCommand returns the run subcommand.
func NewRunCommand() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "Start a new task",
		ArgsUsage: "<prompt>",
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:    "workspace",
				Aliases: []string{"w"},
				Usage:   "Workspace root the task may read and edit",
				Value:   ".",
			},
			&cli.StringFlag{
				Name:    "mode",
				Aliases: []string{"m"},
				Usage:   "Mode to start in (code, architect, ask, debug or a custom slug)",
			},
			&cli.StringFlag{
				Name:  "model",
				Usage: "Model to use instead of provider.model",
			},
		}, taskFlags...),
		Action: runRun,
	}
}

// NewResumeCommand returns the resume subcommand.
func NewResumeCommand() *cli.Command {
	return &cli.Command{
		Name:      "resume",
		Usage:     "Continue a persisted task, optionally with new instructions",
		ArgsUsage: "<task_id> [message]",
		Flags:     taskFlags,
		Action:    runResume,
	}
}

func runRun(ctx context.Context, cmd *cli.Command) error {
	prompt := strings.TrimSpace(strings.Join(cmd.Args().Slice(), " "))
	if prompt == "" {
		return fmt.Errorf("usage: codeloop run [flags] <prompt>")
	}
	workspace, err := filepath.Abs(cmd.String("workspace"))
	if err != nil {
		return fmt.Errorf("resolve workspace: %w", err)
	}

	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	cfg := a.agentConfig()
	if mode := cmd.String("mode"); mode != "" {
		if _, ok := a.modes.Get(mode); !ok {
			return fmt.Errorf("%w: %q (available: %s)", modes.ErrUnknownMode, mode, strings.Join(a.modes.Slugs(), ", "))
		}
		cfg.DefaultMode = mode
	}

	pc := a.providerConfig(cmd.String("model"))
	client, err := a.newClient(pc)
	if err != nil {
		return err
	}
	mgr := a.newManager(client, cfg, newTerminalApprover(cmd.Bool("yes")))

	task, err := mgr.CreateTask(ctx, workspace, prompt, pc)
	if err != nil {
		mgr.Close()
		return err
	}
	fmt.Fprintf(os.Stderr, "task %s\n", task.ID())
	return drive(ctx, mgr, task, cmd.Bool("verbose"))
}

func runResume(ctx context.Context, cmd *cli.Command) error {
	id := cmd.Args().First()
	if id == "" {
		return fmt.Errorf("usage: codeloop resume <task_id> [message]")
	}
	message := strings.Join(cmd.Args().Tail(), " ")

	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	st, err := a.store.Load(ctx, id)
	if err != nil {
		return fmt.Errorf("load task: %w", err)
	}
	client, err := a.newClient(agentloop.ProviderConfig{Provider: st.Provider, Model: st.Model})
	if err != nil {
		return err
	}
	mgr := a.newManager(client, a.agentConfig(), newTerminalApprover(cmd.Bool("yes")))

	task, err := mgr.ResumeTask(ctx, id, message)
	if err != nil {
		mgr.Close()
		return err
	}
	return drive(ctx, mgr, task, cmd.Bool("verbose"))
}

// drive runs task to the end while printing its events. Interrupting ctx
// aborts the task; its state stays on disk for resume.
func drive(ctx context.Context, mgr *agentloop.Manager, task *agentloop.Task, verbose bool) error {
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		printEvents(os.Stdout, mgr.Events(), verbose)
	}()

	err := task.Run(ctx)
	mgr.Close()
	<-printed

	var term *agentloop.TerminalError
	if errors.As(err, &term) && term.State == agentloop.StateAborted {
		fmt.Fprintf(os.Stderr, "task %s aborted; continue with: codeloop resume %s\n", task.ID(), task.ID())
		return nil
	}
	return err
}
