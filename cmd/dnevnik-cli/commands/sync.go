package commands

import (
	"dnevniksync/lib/serviceutil"
	"dnevniksync/lib/snapshotstore"
	"dnevniksync/services/sync"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var syncDb *string

func init() {
	syncDb = syncCmd.Flags().String("db", "snapshot.db", "The snapshot database to sync into.")
	rootCmd.AddCommand(syncCmd)
}

var syncCmd = &cobra.Command{
	Use:   "sync [--db <path/to/snapshot.db>]",
	Short: "Runs one full sync for the configured account against a local snapshot database.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		cfg := readConfig()

		database, err := snapshotstore.Config{File: *syncDb}.OpenDB()
		if err != nil {
			serviceutil.Fatal("failed to open the snapshot database", err)
		}
		defer database.Close()
		store, err := snapshotstore.NewStore(database)
		if err != nil {
			serviceutil.Fatal("failed to apply the snapshot schema", err)
		}

		controller := sync.NewLocalController(store)
		err = controller.LinkAccount(ctx, cfg.Login, sync.CredentialRef{
			Login:  cfg.Login,
			Secret: cfg.Password,
		})
		if err != nil {
			serviceutil.Fatal("failed to link the account", err)
		}

		service := sync.NewService(sync.ServiceOptions{
			Controller: controller,
			Portal:     cfg.portalOptions(),
		})
		result := service.TriggerSync(ctx, cfg.Login)

		t := newTable()
		t.AppendHeader(table.Row{"status", "inserts", "updates", "deletes", "skipped"})
		t.AppendRow(table.Row{
			result.Status.String(),
			result.Summary.Inserts,
			result.Summary.Updates,
			result.Summary.Deletes,
			result.Summary.Skipped,
		})
		t.Render()

		if result.Err != nil {
			cmd.PrintErrln(result.Err)
		}
	},
}
