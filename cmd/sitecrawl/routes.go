package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/v0xg/sitecrawl/internal/crawler"
)

// NewRoutesCmd creates the routes command.
func NewRoutesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "routes [base-url]",
		Short: "List the routes an identity can reach by following links",
		Long: `Run route discovery only, without touching any control, and print the
routes in sorted order. The first selected identity is used.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, args)
			if err != nil {
				return err
			}
			ids, err := selectedIdentities(cmd, cfg)
			if err != nil {
				return err
			}
			opts, err := cfg.CrawlerOptions()
			if err != nil {
				return err
			}
			log := cmdLogger(cmd)
			opts.Logger = log

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			driver, release, err := openDriver(ctx, cfg, log)
			if err != nil {
				return fmt.Errorf("start driver: %w", err)
			}
			defer release()

			routes, err := crawler.NewSession(driver, ids[0], opts).Discover(ctx)
			if err != nil {
				return fmt.Errorf("discover: %w", err)
			}
			slices.Sort(routes)

			out := cmd.OutOrStdout()
			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(routes)
			}
			for _, r := range routes {
				fmt.Fprintln(out, r)
			}
			return nil
		},
	}
	addCrawlFlags(cmd)
	cmd.Flags().Bool("json", false, "Print the routes as a JSON array")
	return cmd
}
