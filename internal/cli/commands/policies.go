package commands

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/learnhub/learnhub/internal/cli/ui"
	"github.com/learnhub/learnhub/internal/web/ratelimit"
)

func newPoliciesCommand(global *globalOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "policies [category]",
		Short: "Show the resolved rate limit policies",
		Long: `Show every rate limit category with its window and request cap after
ratelimit.policies overrides are applied. Pass a category to show only that
one.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := global.loadConfig(cmd)
			if err != nil {
				return err
			}
			overrides, err := cfg.RateLimit.PolicyOverrides()
			if err != nil {
				return err
			}
			policies, err := ratelimit.NewPolicies(overrides)
			if err != nil {
				return err
			}

			all := policies.All()
			if len(args) == 1 {
				category, err := ratelimit.ParseCategory(args[0])
				if err != nil {
					fmt.Fprint(cmd.ErrOrStderr(), ui.UnknownCategoryError(args[0], categoryNames(), color.NoColor))
					return err
				}
				policy, _ := policies.Lookup(category)
				all = []ratelimit.CategoryPolicy{{Category: category, Policy: policy}}
			}

			if asJSON {
				return writePoliciesJSON(cmd, all)
			}

			table := ui.NewTable(cmd.OutOrStdout(), []string{"CATEGORY", "WINDOW", "MAX"}, &ui.TableOptions{NoColor: color.NoColor})
			for _, cp := range all {
				table.AddRow(cp.Category.String(), cp.Policy.Window.String(), strconv.Itoa(cp.Policy.Max))
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")

	return cmd
}

type policyJSON struct {
	Category      string  `json:"category"`
	WindowSeconds float64 `json:"window_seconds"`
	Max           int     `json:"max"`
}

func writePoliciesJSON(cmd *cobra.Command, all []ratelimit.CategoryPolicy) error {
	out := make([]policyJSON, 0, len(all))
	for _, cp := range all {
		out = append(out, policyJSON{
			Category:      cp.Category.String(),
			WindowSeconds: cp.Policy.Window.Seconds(),
			Max:           cp.Policy.Max,
		})
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func categoryNames() []string {
	categories := ratelimit.Categories()
	names := make([]string, 0, len(categories))
	for _, c := range categories {
		names = append(names, c.String())
	}
	return names
}
