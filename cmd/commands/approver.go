package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"

	"github.com/martinemde/codeloop/agentloop"
)

// terminalApprover asks y/N questions on a terminal. Without a terminal
// it declines everything unless assumeYes is set.
type terminalApprover struct {
	mu          sync.Mutex
	in          *bufio.Reader
	out         io.Writer
	interactive bool
	assumeYes   bool
}

func newTerminalApprover(assumeYes bool) *terminalApprover {
	return &terminalApprover{
		in:          bufio.NewReader(os.Stdin),
		out:         os.Stderr,
		interactive: term.IsTerminal(int(os.Stdin.Fd())),
		assumeYes:   assumeYes,
	}
}

func (a *terminalApprover) Approve(ctx context.Context, req agentloop.ApprovalRequest) (bool, error) {
	if a.assumeYes {
		return true, nil
	}
	if !a.interactive {
		fmt.Fprintf(a.out, "declined %s: stdin is not a terminal (use --yes to approve everything)\n", describe(req))
		return false, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	fmt.Fprintln(a.out)
	if req.Preview != "" {
		fmt.Fprintln(a.out, strings.TrimRight(req.Preview, "\n"))
	}
	if req.Message != "" {
		fmt.Fprintln(a.out, req.Message)
	}
	fmt.Fprintf(a.out, "Allow %s? [y/N] ", describe(req))

	answer := make(chan string, 1)
	go func() {
		line, _ := a.in.ReadString('\n')
		answer <- line
	}()
	select {
	case line := <-answer:
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return true, nil
		}
		return false, nil
	case <-ctx.Done():
		fmt.Fprintln(a.out)
		return false, ctx.Err()
	}
}

func describe(req agentloop.ApprovalRequest) string {
	switch {
	case req.Kind == agentloop.ApprovalMistakeLimit:
		return "the task to continue after repeated mistakes"
	case req.Path != "":
		return fmt.Sprintf("%s on %s", req.Tool, req.Path)
	case req.Tool != "":
		return req.Tool
	}
	return string(req.Kind)
}
