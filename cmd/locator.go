// cmd/locator.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/cartpilot/internal/locators"
	"github.com/xkilldash9x/cartpilot/internal/observability"
)

func newLocatorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "locator <source> <key>",
		Short: "Print the selector a registry step would use",
		Long: `Looks the key up in the locator registry first and otherwise extracts it
from the source file under locators.sources_dir.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			manager, err := locators.NewManagerFromConfig(observability.GetLogger(), cfg.Locators())
			if err != nil {
				return err
			}
			sel, err := manager.GetLocator(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), sel)
			return err
		},
	}
}
