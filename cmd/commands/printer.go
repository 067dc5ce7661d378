package commands

import (
	"fmt"
	"io"
	"strings"

	"github.com/martinemde/codeloop/agentloop"
)

// maxShownOutput caps tool output echoed to the terminal.
const maxShownOutput = 400

// eventPrinter renders task events as plain text.
type eventPrinter struct {
	out     io.Writer
	verbose bool

	// midLine is set while streamed text has not ended in a newline.
	midLine bool
}

// printEvents writes events until the channel closes.
func printEvents(w io.Writer, events <-chan agentloop.TaskEvent, verbose bool) {
	p := &eventPrinter{out: w, verbose: verbose}
	for ev := range events {
		p.print(ev)
	}
	p.endLine()
}

func (p *eventPrinter) print(ev agentloop.TaskEvent) {
	switch ev.Kind {
	case agentloop.EventTextDelta:
		text, _ := ev.Data["text"].(string)
		fmt.Fprint(p.out, text)
		p.midLine = text != "" && !strings.HasSuffix(text, "\n")
	case agentloop.EventReasoningDelta:
		if p.verbose {
			text, _ := ev.Data["text"].(string)
			fmt.Fprint(p.out, text)
			p.midLine = text != "" && !strings.HasSuffix(text, "\n")
		}
	case agentloop.EventTaskStart:
		p.line("▶ task %s started (mode %v, model %v)", short(ev.TaskID), ev.Data["mode"], ev.Data["model"])
	case agentloop.EventToolCallProposed:
		p.line("→ %v", ev.Data["tool"])
		if p.verbose {
			p.line("  %v", ev.Data["arguments"])
		}
	case agentloop.EventToolResult:
		output, _ := ev.Data["output"].(string)
		prefix := "←"
		if isErr, _ := ev.Data["is_error"].(bool); isErr {
			prefix = "✗"
		}
		if r := []rune(output); !p.verbose && len(r) > maxShownOutput {
			output = string(r[:maxShownOutput]) + "…"
		}
		p.line("%s %s", prefix, indent(output))
	case agentloop.EventModeSwitched:
		p.line("mode %v → %v", ev.Data["from"], ev.Data["to"])
	case agentloop.EventTemperatureReduced, agentloop.EventWarning, agentloop.EventLoopDetected:
		p.line("! %v", ev.Data["message"])
	case agentloop.EventMemoryLoaded:
		p.line("loaded memory %v", ev.Data["file"])
	case agentloop.EventUsage:
		if p.verbose {
			p.line("tokens in=%v out=%v cost=$%.4f", ev.Data["total_input_tokens"], ev.Data["total_output_tokens"], ev.Data["total_cost"])
		}
	case agentloop.EventTaskEnd:
		if result, ok := ev.Data["result"].(string); ok && result != "" {
			p.line("■ task %s %v\n\n%s", short(ev.TaskID), ev.Data["state"], result)
			return
		}
		p.line("■ task %s %v: %v", short(ev.TaskID), ev.Data["state"], ev.Data["error"])
	}
}

func (p *eventPrinter) line(format string, args ...interface{}) {
	p.endLine()
	fmt.Fprintf(p.out, format+"\n", args...)
}

func (p *eventPrinter) endLine() {
	if p.midLine {
		fmt.Fprintln(p.out)
		p.midLine = false
	}
}

func indent(s string) string {
	return strings.ReplaceAll(strings.TrimRight(s, "\n"), "\n", "\n  ")
}

func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
