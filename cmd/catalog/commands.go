package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/codyseavey/poke-collection/internal/services"
)

func newBuildCmd(a *app) *cobra.Command {
	var owned, strict bool

	cmd := &cobra.Command{
		Use:   "build [setId...]",
		Short: "Fetch prices and write one catalog per set",
		Long: `Build fetches every card page of the given sets from the pricing service and
writes <setId>.json catalogs plus the known-sets index. Without arguments all
mapped sets are built; --owned restricts the run to the sets the stored
collection references.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := args
			if len(ids) == 0 {
				resolver := a.resolver()
				if owned {
					records, err := a.ownedCards(cmd.Context())
					if err != nil {
						return err
					}
					ids = services.DiscoverSetIDs(resolver, records)
				} else {
					ids = resolver.SetIDs()
				}
			}
			for _, id := range ids {
				if !services.ValidSetID(id) {
					return fmt.Errorf("invalid set id %q", id)
				}
			}
			if len(ids) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No sets to build")
				return nil
			}

			store := &services.FileArtifactStore{Dir: a.cfg.PricesDir, IndexPath: a.cfg.SetsIndexPath}
			builder := services.NewCatalogBuilder(a.pricingClient(), store, a.cfg.BuilderConfig())

			report, err := builder.BuildAll(cmd.Context(), ids)
			if report != nil {
				printReport(cmd, report)
			}
			if err != nil {
				return err
			}
			if strict && len(report.Failed) > 0 {
				return fmt.Errorf("%d of %d sets failed", len(report.Failed), len(report.Attempted))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&owned, "owned", false, "only build sets referenced by the stored collection")
	cmd.Flags().BoolVar(&strict, "strict", false, "exit with an error when any set fails")
	return cmd
}

func printReport(cmd *cobra.Command, report *services.BuildReport) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Run %s: %d built, %d failed, %d pages, %d retries in %s\n",
		report.RunID, len(report.Built), len(report.Failed), report.Pages, report.Retries, report.Duration)

	failed := make([]string, 0, len(report.Failed))
	for id := range report.Failed {
		failed = append(failed, id)
	}
	sort.Strings(failed)
	for _, id := range failed {
		fmt.Fprintf(out, "  FAILED %s: %s\n", id, report.Failed[id])
	}
}

func newDiscoverCmd(a *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "discover",
		Short: "List the set identifiers the stored collection references",
		RunE: func(cmd *cobra.Command, args []string) error {
			resolver := a.resolver()
			records, err := a.ownedCards(cmd.Context())
			if err != nil {
				return err
			}

			ids := services.DiscoverSetIDs(resolver, records)
			sort.Strings(ids)

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				if ids == nil {
					ids = []string{}
				}
				return enc.Encode(ids)
			}
			if len(ids) > 0 {
				fmt.Fprintln(cmd.OutOrStdout(), strings.Join(ids, "\n"))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print a JSON array")
	return cmd
}

func newBundleCmd(a *app) *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "bundle",
		Short: "Write the chosen price of every owned card to one file",
		RunE: func(cmd *cobra.Command, args []string) error {
			resolver := a.resolver()
			records, err := a.ownedCards(cmd.Context())
			if err != nil {
				return err
			}

			// freshly built catalogs win over the configured runtime locations
			cacheCfg := a.cfg.PriceCacheConfig()
			cacheCfg.CatalogLocations = append([]string{a.cfg.PricesDir}, cacheCfg.CatalogLocations...)
			cacheCfg.IndexLocations = nil
			cache, err := services.NewPriceCache(cacheCfg, nil)
			if err != nil {
				return err
			}

			bundle, err := services.BuildPriceBundle(cmd.Context(), resolver, cache, records)
			if err != nil {
				return err
			}

			path := out
			if path == "" {
				path = a.cfg.BundlePath
			}
			if err := services.WritePriceBundle(path, bundle); err != nil {
				return err
			}

			count := 0
			for _, cards := range bundle.Cards {
				count += len(cards)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d prices for %d series to %s\n", count, len(bundle.Cards), path)
			return nil
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "", "output path (default: BUNDLE_PATH)")
	return cmd
}

func newMetaCmd(a *app) *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "meta",
		Short: "Fetch set metadata (series and symbols)",
		RunE: func(cmd *cobra.Command, args []string) error {
			meta, err := services.BuildSetsMeta(cmd.Context(), a.pricingClient(), a.cfg.BuilderConfig())
			if err != nil {
				return err
			}

			path := out
			if path == "" {
				path = a.cfg.SetsMetaPath
			}
			if err := services.WriteSetsMeta(path, meta); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d sets to %s\n", len(meta.ByID), path)
			return nil
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "", "output path (default: SETS_META_PATH)")
	return cmd
}
