package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"github.com/martinemde/codeloop/taskstore"
)

// NewTasksCommand returns the tasks subcommand.
func NewTasksCommand() *cli.Command {
	return &cli.Command{
		Name:  "tasks",
		Usage: "Inspect persisted tasks",
		Commands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List all tasks",
				Action: runTasksList,
			},
			{
				Name:      "show",
				Usage:     "Show task details and conversation",
				ArgsUsage: "<task_id>",
				Action:    runTasksShow,
			},
			{
				Name:      "delete",
				Usage:     "Delete a task",
				ArgsUsage: "<task_id>",
				Action:    runTasksDelete,
			},
		},
		DefaultCommand: "list",
	}
}

func runTasksList(ctx context.Context, cmd *cli.Command) error {
	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	list, err := a.store.List(ctx)
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}
	return writeTaskList(os.Stdout, list)
}

func writeTaskList(out io.Writer, list []taskstore.Summary) error {
	if len(list) == 0 {
		fmt.Fprintln(out, "No tasks found.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tMODE\tMESSAGES\tUPDATED\tPROMPT")
	for _, s := range list {
		id := s.ID
		if s.ParentID != "" {
			id = "↳ " + id
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
			id,
			s.Status,
			s.Mode,
			s.Messages,
			s.UpdatedAt.Format("2006-01-02 15:04"),
			firstLine(s.Prompt, 60),
		)
	}
	return w.Flush()
}

func runTasksShow(ctx context.Context, cmd *cli.Command) error {
	id := cmd.Args().First()
	if id == "" {
		return fmt.Errorf("usage: codeloop tasks show <task_id>")
	}
	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	st, err := a.store.Load(ctx, id)
	if err != nil {
		return fmt.Errorf("get task: %w", err)
	}
	writeTaskDetail(os.Stdout, st)
	return nil
}

func writeTaskDetail(out io.Writer, st *taskstore.State) {
	fmt.Fprintf(out, "ID:          %s\n", st.ID)
	if st.ParentID != "" {
		fmt.Fprintf(out, "Parent:      %s\n", st.ParentID)
	}
	fmt.Fprintf(out, "Status:      %s\n", st.Status)
	fmt.Fprintf(out, "Mode:        %s\n", st.Mode)
	fmt.Fprintf(out, "Model:       %s\n", st.Model)
	fmt.Fprintf(out, "Workspace:   %s\n", st.WorkspaceRoot)
	fmt.Fprintf(out, "Created:     %s\n", st.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(out, "Updated:     %s (revision %d)\n", st.UpdatedAt.Format("2006-01-02 15:04:05"), st.Revision)
	fmt.Fprintf(out, "Tokens:      %d in / %d out\n", st.Usage.InputTokens, st.Usage.OutputTokens)
	if st.TotalCost > 0 {
		fmt.Fprintf(out, "Cost:        $%.4f\n", st.TotalCost)
	}
	if st.Result != "" {
		fmt.Fprintf(out, "\nResult:\n%s\n", st.Result)
	}
	if st.Error != "" {
		fmt.Fprintf(out, "\nError:\n%s\n", st.Error)
	}

	fmt.Fprintf(out, "\nConversation (%d messages):\n", len(st.History))
	for i, m := range st.History {
		fmt.Fprintf(out, "  %3d. [%s] %s\n", i+1, m.Role, firstLine(m.Text(), 100))
	}
}

func runTasksDelete(ctx context.Context, cmd *cli.Command) error {
	id := cmd.Args().First()
	if id == "" {
		return fmt.Errorf("usage: codeloop tasks delete <task_id>")
	}
	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	fmt.Printf("Task %s deleted.\n", id)
	return nil
}

// firstLine returns the first line of s, cut to max runes.
func firstLine(s string, max int) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i] + " …"
	}
	if r := []rune(s); len(r) > max {
		s = string(r[:max]) + "…"
	}
	return s
}
