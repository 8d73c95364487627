package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dstn-dev/autoenroll/internal/adapters/render/report"
	"github.com/dstn-dev/autoenroll/internal/application"
	"github.com/dstn-dev/autoenroll/internal/domain"
)

func newRunCmd(app *app) *cobra.Command {
	var (
		registerURL string
		labURL      string
		headed      bool
		count       int
		parallel    int
		asJSON      bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Register accounts end to end and extract their lab API keys",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := app.orchestratorConfig()
			if registerURL != "" {
				cfg.RegisterURL = registerURL
			}
			if labURL != "" {
				cfg.LabURL = labURL
			}
			if headed {
				cfg.Browser.Headless = false
			}
			if count < 1 {
				count = 1
			}
			if parallel < 1 {
				parallel = app.cfg.GetInt("run.parallel")
			}
			if parallel < 1 {
				parallel = 1
			}

			manager := application.NewManager(app.runnerFactory(cfg), int64(parallel))

			label := "Registering account..."
			if count > 1 {
				label = fmt.Sprintf("Registering %d accounts...", count)
			}

			results := make([]domain.RunResult, 0, count)
			err := runWithSpinner(cmd.Context(), cmd.ErrOrStderr(), label, func(ctx context.Context) error {
				handles := make([]application.RunHandle, 0, count)
				for i := 0; i < count; i++ {
					handle, err := manager.StartRun(ctx)
					if err != nil {
						return fmt.Errorf("start run: %w", err)
					}
					handles = append(handles, handle)
				}
				for _, handle := range handles {
					result, err := manager.Result(ctx, handle)
					if err != nil {
						return fmt.Errorf("collect run result: %w", err)
					}
					results = append(results, result)
				}
				return nil
			})
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(results); err != nil {
					return err
				}
			} else {
				for _, result := range results {
					if _, err := fmt.Fprintln(cmd.OutOrStdout(),
						app.resultRenderer(result, report.RenderOptions{Now: app.now()})); err != nil {
						return err
					}
				}
			}

			failed := 0
			for _, result := range results {
				if result.Outcome != domain.OutcomeSuccess {
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d runs did not succeed", failed, count)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&registerURL, "register-url", "", "Registration form URL (overrides config)")
	cmd.Flags().StringVar(&labURL, "lab-url", "", "Lab URL to start after confirmation (overrides config)")
	cmd.Flags().BoolVar(&headed, "headed", false, "Run the browser with a visible window")
	cmd.Flags().IntVar(&count, "count", 1, "Number of accounts to register")
	cmd.Flags().IntVar(&parallel, "parallel", 0, "Maximum concurrent runs (default from config)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print results as JSON")

	return cmd
}
