package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"siteattend/internal/config"
	"siteattend/internal/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE:  runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	applied, err := db.Migrate(cmd.Context())
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		fmt.Println("Schema is up to date.")
		return nil
	}
	for _, v := range applied {
		fmt.Printf("applied %s\n", v)
	}
	return nil
}
