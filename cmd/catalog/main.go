// Command catalog builds the static price artifacts served to the collection:
// per-set catalogs and the known-sets index, the owned-card price bundle and
// the set metadata file.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/codyseavey/poke-collection/internal/config"
	"github.com/codyseavey/poke-collection/internal/database"
	"github.com/codyseavey/poke-collection/internal/models"
	"github.com/codyseavey/poke-collection/internal/services"
)

// app carries the configuration loaded before any subcommand runs
type app struct {
	cfg *config.Config
}

func newRootCommand() *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Build price catalogs and derived artifacts",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			a.cfg = cfg
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(
		newBuildCmd(a),
		newDiscoverCmd(a),
		newBundleCmd(a),
		newMetaCmd(a),
	)
	return cmd
}

func (a *app) resolver() *services.Resolver {
	return services.LoadResolver(a.cfg.LabelMapPath)
}

func (a *app) openDB() (*gorm.DB, error) {
	return database.Open(a.cfg.DBPath, logger.Silent)
}

func (a *app) ownedCards(ctx context.Context) ([]models.OwnedCard, error) {
	db, err := a.openDB()
	if err != nil {
		return nil, err
	}
	var records []models.OwnedCard
	if err := db.WithContext(ctx).Order("id").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to load owned cards: %w", err)
	}
	return records, nil
}

func (a *app) pricingClient() *services.PricingClient {
	return services.NewPricingClient(a.cfg.PricingAPIURL, a.cfg.PricingAPIKey, a.cfg.PricingTimeout)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}
