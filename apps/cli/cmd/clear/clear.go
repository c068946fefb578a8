package clear

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hsfleet/byov-enrollment/platform/go/logging"
	"github.com/hsfleet/byov-enrollment/platform/go/persistence"
)

// Command deletes every enrollment and notification rule from the configured
// backend. Dependent rows (documents, checklists, sent-notification entries)
// go with them. App settings survive.
func Command() *cobra.Command {
	var confirm bool

	c := &cobra.Command{
		Use:   "clear",
		Short: "Delete all enrollments and notification rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirm {
				return fmt.Errorf("refusing to clear data without --confirm")
			}

			ctx := context.Background()

			cfg, err := persistence.LoadConfig()
			if err != nil {
				return err
			}
			logger, err := logging.NewLogger(logging.Config{Component: "admin-cli", Level: cfg.LogLevel})
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			store, err := persistence.Open(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer store.Close()

			enrollments, err := store.GetAllEnrollments(ctx)
			if err != nil {
				return fmt.Errorf("list enrollments: %w", err)
			}
			for _, rec := range enrollments {
				if err := store.DeleteEnrollment(ctx, rec.ID); err != nil {
					return fmt.Errorf("delete enrollment %d: %w", rec.ID, err)
				}
			}

			rules, err := store.GetNotificationRules(ctx)
			if err != nil {
				return fmt.Errorf("list notification rules: %w", err)
			}
			for _, rule := range rules {
				if err := store.DeleteNotificationRule(ctx, rule.ID); err != nil {
					return fmt.Errorf("delete notification rule %d: %w", rule.ID, err)
				}
			}

			fmt.Fprintf(cmd.OutOrStdout(), "cleared %d enrollments and %d notification rules\n",
				len(enrollments), len(rules))
			return nil
		},
	}

	c.Flags().BoolVar(&confirm, "confirm", false, "actually delete the data")
	return c
}
