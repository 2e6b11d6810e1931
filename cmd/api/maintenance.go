package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"mscolab/api/internal/config"
	"mscolab/api/internal/search"
	"mscolab/api/internal/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		db, err := store.Open(ctx, cfg.DatabaseURL, store.DefaultPoolOptions)
		if err != nil {
			return fmt.Errorf("database connection failed: %w", err)
		}
		defer db.Close()

		if err := store.ApplyMigrations(db); err != nil {
			return err
		}
		version, dirty, err := store.MigrationVersion(db)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "schema at version %d (dirty=%t)\n", version, dirty)
		return nil
	},
}

var reindexCmd = &cobra.Command{
	Use:   "reindex OPERATION_ID...",
	Short: "Push the chat history of operations to Meilisearch",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids := make([]int64, 0, len(args))
		for _, arg := range args {
			id, err := strconv.ParseInt(arg, 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid operation id %q", arg)
			}
			ids = append(ids, id)
		}

		ctx := cmd.Context()
		in, err := newInfra(ctx, false)
		if err != nil {
			return err
		}
		defer in.Close()
		if in.meili == nil {
			return fmt.Errorf("MEILI_URL is not set")
		}
		if !in.meili.Healthy() {
			return fmt.Errorf("meilisearch at %s is unavailable", in.cfg.MeiliURL)
		}

		index := search.NewService(in.meili, search.NewStoreSearcher(in.store), in.logger)
		for _, id := range ids {
			if err := index.Reindex(ctx, in.store, id); err != nil {
				return fmt.Errorf("reindex operation %d: %w", id, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reindexed operation %d\n", id)
		}
		return nil
	},
}
