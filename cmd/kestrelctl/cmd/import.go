package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/catalog"
	"github.com/opensource-finance/kestrel/internal/repository"
)

var importTenant string

var importCmd = &cobra.Command{
	Use:   "import <catalog-file>",
	Short: "Import a catalog file into the configured database",
	Long: `Import cost definitions and the custody table from a YAML or JSON
catalog file into the database named by the configuration. Cached lookups
for the tenant are invalidated so a running server picks the change up.`,
	Example: `  kestrelctl import catalog.yaml
  KESTREL_DB_DRIVER=postgres kestrelctl import catalog.json --tenant acme`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		tenantID := importTenant
		if tenantID == "" {
			tenantID = cfg.Quoting.DefaultTenant
		}

		f, err := catalog.LoadFile(args[0])
		if err != nil {
			return err
		}

		repo, err := repository.New(cfg.Repository)
		if err != nil {
			return fmt.Errorf("open repository: %w", err)
		}
		defer repo.Close()

		// In-process cache and bus die with this command. Only shared ones
		// are worth notifying.
		svc := catalog.NewService(repo, nil, cfg.Quoting.CatalogTTL)
		if cfg.Cache.Type != "memory" {
			c, err := cache.New(cfg.Cache)
			if err != nil {
				return fmt.Errorf("open cache: %w", err)
			}
			defer c.Close()
			svc = catalog.NewService(repo, c, cfg.Quoting.CatalogTTL)
		}
		if cfg.EventBus.Type == "nats" {
			events, err := bus.New(cfg.EventBus)
			if err != nil {
				return fmt.Errorf("open event bus: %w", err)
			}
			defer events.Close()
			svc.SetEventBus(events)
		}

		n, err := svc.ImportFile(ctx, tenantID, f)
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "imported %d costs and %d custody brackets for tenant %s\n",
			n, len(f.Custody), tenantID)
		return nil
	},
}

func init() {
	importCmd.Flags().StringVarP(&importTenant, "tenant", "t", "", "tenant to import into (default: quoting.defaultTenant)")
}
