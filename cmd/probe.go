// cmd/probe.go
package cmd

import (
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/cartpilot/api/schemas"
	"github.com/xkilldash9x/cartpilot/internal/browser/htmlpage"
	"github.com/xkilldash9x/cartpilot/internal/observability"
	"github.com/xkilldash9x/cartpilot/internal/resolve"
)

// newProbeCmd lists the candidates generated for a target and shows which one
// the probe would pick on an HTML snapshot.
func newProbeCmd() *cobra.Command {
	var htmlFile, actionName, value string

	probeCmd := &cobra.Command{
		Use:   "probe <target>",
		Short: "Show the candidate selectors for a target and the one that resolves",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			logger := observability.GetLogger()

			kind, err := schemas.ParseActionKind(actionName)
			if err != nil {
				return err
			}
			step := schemas.Step{Action: kind, Locator: args[0], Value: value}

			page, err := htmlpage.Open(logger, htmlFile)
			if err != nil {
				return fmt.Errorf("failed to open snapshot: %w", err)
			}

			resolver := resolve.NewResolver(logger, resolve.NewProber(logger, cfg.Probe()), nil)
			candidates, err := resolver.Candidates(ctx, step)
			if err != nil {
				return err
			}
			el, _, err := resolver.Resolve(ctx, page, step)
			if err != nil {
				return err
			}
			logger.Debug("Probe finished.", zap.Int("candidates", len(candidates)), zap.Bool("resolved", el != nil))
			return printProbe(cmd.OutOrStdout(), candidates, el)
		},
	}

	probeCmd.Flags().StringVar(&htmlFile, "html", "", "HTML snapshot to probe (required)")
	_ = probeCmd.MarkFlagRequired("html")
	probeCmd.Flags().StringVarP(&actionName, "action", "a", string(schemas.ActionClickTo), "action the target belongs to")
	probeCmd.Flags().StringVar(&value, "value", "", "value of a fill step, used to pick the input subtype")
	return probeCmd
}

func printProbe(w io.Writer, candidates []schemas.CandidateSelector, el *schemas.ResolvedElement) error {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"RANK", "PROVENANCE", "SELECTOR", ""})
	for _, c := range candidates {
		mark := ""
		if el != nil && c.Selector == el.Selector {
			mark = "<- resolved"
		}
		table.Append([]string{strconv.Itoa(c.Rank), string(c.Provenance), c.Selector, mark})
	}
	table.Render()
	if el == nil {
		_, err := fmt.Fprintln(w, "no candidate resolved")
		return err
	}
	_, err := fmt.Fprintf(w, "resolved %s [%d] via %s\n", el.Selector, el.Index, el.Provenance)
	return err
}
