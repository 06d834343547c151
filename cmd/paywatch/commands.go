package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/use-agent/paywatch/config"
	"github.com/use-agent/paywatch/sites"
	"github.com/use-agent/paywatch/store"
)

func newRunCmd(cfg *config.Config) *cobra.Command {
	var only []string
	cmd := &cobra.Command{
		Use:   "run [--site <id>]...",
		Short: "Run one batch now and print the results as JSON.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			selected, err := a.scheduler.Select(only)
			if err != nil {
				return err
			}
			results, err := a.scheduler.RunOnce(ctx, selected)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(results)
		},
	}
	cmd.Flags().StringArrayVar(&only, "site", nil, "site id to run (repeatable; default all enabled sites)")
	return cmd
}

func newMigrateCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the result table and indexes.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pg, err := store.NewPostgres(ctx, cfg.Storage.DSN())
			if err != nil {
				return err
			}
			defer pg.Close()
			return pg.Migrate(ctx)
		},
	}
}

func newSitesCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "sites",
		Short: "Validate the site definitions and list them.",
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := loadSites(cfg, sites.Default())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tENABLED\tURL")
			for _, s := range list {
				fmt.Fprintf(w, "%s\t%s\t%t\t%s\n", s.ID, s.DisplayName(), s.IsEnabled(), s.Auth.SiteURL)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintln(os.Stderr, describeSites(list))
			return nil
		},
	}
}
