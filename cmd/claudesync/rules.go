package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/claudesync/claudesync/internal/config"
	"github.com/claudesync/claudesync/internal/rules"
)

func newRulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage the sync rule set",
	}

	cmd.AddCommand(newRulesListCmd())
	cmd.AddCommand(newRulesAddCmd())
	cmd.AddCommand(newRulesRemoveCmd())
	cmd.AddCommand(newRulesRecommendedCmd())

	return cmd
}

func newRulesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured sync rules",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			if len(cc.Cfg.Rules) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no rules configured")
				return nil
			}

			for _, r := range cc.Cfg.Rules {
				fmt.Fprintf(cmd.OutOrStdout(), "%-20s %-8s %-6s priority=%-4d enabled=%v  %s\n",
					r.ID, r.Kind, r.PatternKind, r.Priority, r.Enabled, r.Pattern)
			}

			return nil
		},
	}
}

func newRulesAddCmd() *cobra.Command {
	var (
		name        string
		kind        string
		pattern     string
		patternKind string
		fileType    string
		priority    int
		disabled    bool
	)

	cmd := &cobra.Command{
		Use:   "add ID",
		Short: "Add a new sync rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())

			rc := config.RuleConfig{
				ID:          args[0],
				Name:        name,
				Kind:        kind,
				Pattern:     pattern,
				PatternKind: patternKind,
				Priority:    priority,
				Enabled:     !disabled,
				FileType:    fileType,
			}

			if err := rules.Validate(toRule(rc)); err != nil {
				return fmt.Errorf("rules add: %w", err)
			}

			cc.Cfg.Rules = append(cc.Cfg.Rules, rc)

			path := flagConfigPath
			if path == "" {
				path = config.DefaultConfigPath()
			}

			if err := config.Validate(cc.Cfg); err != nil {
				return fmt.Errorf("rules add: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Added rule %q. Save your config file to persist it:\n  claudesync config-init was already run; edit %s directly to add [[rule]] sections, or re-run config-init.\n", rc.ID, path)

			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "human-readable rule name")
	cmd.Flags().StringVar(&kind, "kind", "exclude", "include or exclude")
	cmd.Flags().StringVar(&pattern, "pattern", "", "glob or regex pattern")
	cmd.Flags().StringVar(&patternKind, "pattern-kind", "glob", "glob or regex")
	cmd.Flags().StringVar(&fileType, "file-type", "", "restrict the rule to one file type")
	cmd.Flags().IntVar(&priority, "priority", 0, "priority in [-100, 100], higher wins ties")
	cmd.Flags().BoolVar(&disabled, "disabled", false, "add the rule disabled")

	return cmd
}

func newRulesRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove ID",
		Short: "Remove a sync rule by ID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())

			kept := cc.Cfg.Rules[:0]

			found := false

			for _, r := range cc.Cfg.Rules {
				if r.ID == args[0] {
					found = true
					continue
				}

				kept = append(kept, r)
			}

			if !found {
				return fmt.Errorf("rules remove: no rule with id %q", args[0])
			}

			cc.Cfg.Rules = kept

			fmt.Fprintf(cmd.OutOrStdout(), "Removed rule %q.\n", args[0])

			return nil
		},
	}
}

func newRulesRecommendedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recommended",
		Short: "Print the recommended default rule set",
		RunE: func(cmd *cobra.Command, _ []string) error {
			for _, r := range rules.Recommended() {
				fmt.Fprintf(cmd.OutOrStdout(), "%-20s %-8s %-6s priority=%-4d  %s\n",
					r.ID, r.Kind, r.PatternKind, r.Priority, r.Pattern)
			}

			return nil
		},
	}
}

// toRule converts a config.RuleConfig (the TOML-shaped DTO) to a
// rules.Rule (the engine's typed representation).
func toRule(rc config.RuleConfig) rules.Rule {
	return rules.Rule{
		ID:          rc.ID,
		Name:        rc.Name,
		Kind:        rules.Kind(rc.Kind),
		Pattern:     rc.Pattern,
		PatternKind: rules.PatternKind(rc.PatternKind),
		FileType:    rc.FileType,
		Priority:    rc.Priority,
		Enabled:     rc.Enabled,
	}
}

func toRuleSlice(rcs []config.RuleConfig) []rules.Rule {
	out := make([]rules.Rule, len(rcs))
	for i, rc := range rcs {
		out[i] = toRule(rc)
	}

	return out
}
