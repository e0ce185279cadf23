package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	createWal     bool
	createMatView bool
)

func init() {
	create := &cobra.Command{
		Use:   "create-table name",
		Short: "Create a table",
		Args:  cobra.ExactArgs(1),
		RunE:  createTableRun,
	}
	create.Flags().BoolVar(&createWal, "wal", true, "create the table as a WAL table")
	create.Flags().BoolVar(&createMatView, "matview", false, "create the table as a materialized view")

	drop := &cobra.Command{
		Use:   "drop-table name",
		Short: "Drop a table or materialized view",
		Args:  cobra.ExactArgs(1),
		RunE:  dropTableRun,
	}

	rename := &cobra.Command{
		Use:   "rename-table old-name new-name",
		Short: "Rename a table, preserving its identity across the name change",
		Args:  cobra.ExactArgs(2),
		RunE:  renameTableRun,
	}

	rootCmd.AddCommand(create, drop, rename)
}

func createTableRun(cmd *cobra.Command, args []string) error {
	name := args[0]
	if err := eng.VerifyTableName(name); err != nil {
		return err
	}
	tok, err := eng.CreateTable(name, createWal, createMatView)
	if err != nil {
		return err
	}
	fmt.Printf("created %s\n", tok)
	return nil
}

func dropTableRun(cmd *cobra.Command, args []string) error {
	name := args[0]
	tok, ok := eng.GetTableTokenIfExists(name)
	if !ok {
		return fmt.Errorf("corectl: table %s does not exist", name)
	}
	if err := eng.DropTableOrMatView(tok); err != nil {
		return err
	}
	fmt.Printf("dropped %s\n", tok)
	return nil
}

func renameTableRun(cmd *cobra.Command, args []string) error {
	oldName, newName := args[0], args[1]
	tok, ok := eng.GetTableTokenIfExists(oldName)
	if !ok {
		return fmt.Errorf("corectl: table %s does not exist", oldName)
	}
	newTok, err := eng.Rename(tok, newName)
	if err != nil {
		return err
	}
	fmt.Printf("renamed %s to %s\n", oldName, newTok)
	return nil
}
