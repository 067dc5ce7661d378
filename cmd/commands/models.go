package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"github.com/martinemde/codeloop/unifiedllm"
)

// NewModelsCommand returns the models subcommand.
func NewModelsCommand() *cli.Command {
	return &cli.Command{
		Name:  "models",
		Usage: "List models in the built-in catalog",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "provider",
				Usage: "Only list models of this provider",
			},
		},
		Action: func(_ context.Context, cmd *cli.Command) error {
			return writeModels(os.Stdout, unifiedllm.ListModels(cmd.String("provider")))
		},
	}
}

func writeModels(out io.Writer, models []unifiedllm.ModelInfo) error {
	if len(models) == 0 {
		fmt.Fprintln(out, "No models found.")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPROVIDER\tCONTEXT\tINPUT $/M\tOUTPUT $/M\tFEATURES")
	for _, m := range models {
		var features []string
		if m.SupportsReasoning {
			features = append(features, "reasoning")
		}
		if m.SupportsGrounding {
			features = append(features, "grounding")
		}
		if len(features) == 0 {
			features = []string{"-"}
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n",
			m.ID,
			m.Provider,
			m.ContextWindow,
			formatPrice(m.InputPrice),
			formatPrice(m.OutputPrice),
			strings.Join(features, ","),
		)
	}
	return w.Flush()
}

func formatPrice(p *float64) string {
	if p == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f", *p)
}
