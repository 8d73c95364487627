package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dstn-dev/autoenroll/internal/adapters/render/report"
)

func newAccountsCmd(app *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "Manage registered accounts",
	}
	cmd.AddCommand(newAccountsListCmd(app))
	return cmd
}

func newAccountsListCmd(app *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered accounts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			accounts, err := app.repo.List(cmd.Context())
			if err != nil {
				return fmt.Errorf("list accounts: %w", err)
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(accounts)
			}

			rendered := app.accountsRenderer(accounts, report.RenderOptions{Now: app.now()})
			_, err = fmt.Fprintln(cmd.OutOrStdout(), rendered)
			return err
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print accounts as JSON")
	return cmd
}
