package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/corralhq/corral-internal/internal/storagesrv/db"
	"github.com/corralhq/corral-internal/internal/storagesrv/db/models"
	"github.com/corralhq/corral-internal/internal/storagesrv/storecommon"
	"github.com/corralhq/corral-internal/pkg/types"
)

var (
	// Flags shared by the tenant-scoped commands
	tenantID string
)

// migrateCmd installs or upgrades the storage and cache schemas
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Install or upgrade the backend schema",
	Long: `Install or upgrade the backend schema. A fresh database gets the full
schema; an existing one is migrated step by step to the current version.
Both the record store and the cache schemas are brought up to date.`,
	Args: cobra.NoArgs,
	RunE: runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	store, err := db.NewRecordStoreFromConfig(ctx)
	if err != nil {
		return err
	}
	if err := store.InitializeSchema(ctx); err != nil {
		return err
	}

	cache, err := db.NewCacheBackendFromConfig(ctx)
	if err != nil {
		return err
	}
	if err := cache.InitializeSchema(ctx); err != nil {
		return err
	}

	fmt.Println("schema is up to date")
	return nil
}

// pingCmd checks that the storage backend is reachable
var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check that the storage backend is reachable",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := db.NewRecordStoreFromConfig(ctx)
		if err != nil {
			return err
		}
		if !store.Ping(ctx) {
			return fmt.Errorf("storage backend is not reachable")
		}
		fmt.Println("storage backend is reachable")
		return nil
	},
}

// flushCmd empties the storage backend
var flushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Remove every record, tombstone and timestamp",
	Long: `Remove every record, tombstone and timestamp across all tenants.
This is intended for development and test databases only.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := db.NewRecordStoreFromConfig(ctx)
		if err != nil {
			return err
		}
		if err := store.Flush(ctx); err != nil {
			return err
		}
		fmt.Println("storage backend flushed")
		return nil
	},
}

// timestampCmd prints the current timestamp of a collection
var timestampCmd = &cobra.Command{
	Use:   "timestamp <resource>",
	Short: "Print the current timestamp of a collection",
	Long: `Print the current timestamp of a collection as a microsecond epoch.
The collection is identified by the tenant (via --tenant) and the resource
name.

Example:
  corralctl timestamp --tenant tenant-1 articles`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if tenantID == "" {
			return fmt.Errorf("--tenant is required")
		}
		ctx := storecommon.SetTenantIdInContext(cmd.Context(), types.TenantId(tenantID))
		store, err := db.NewRecordStoreFromConfig(ctx)
		if err != nil {
			return err
		}
		ts, err := store.CollectionTimestamp(ctx, &models.ResourceInfo{Name: args[0]})
		if err != nil {
			return err
		}
		fmt.Println(int64(ts))
		return nil
	},
}

func init() {
	timestampCmd.Flags().StringVarP(&tenantID, "tenant", "t", "", "Tenant the collection belongs to")
}
