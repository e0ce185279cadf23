package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	checkpointCmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Manage checkpoint cycles",
	}

	create := &cobra.Command{
		Use:   "create id",
		Short: "Open a new checkpoint and snapshot every live table's manifest entry",
		Args:  cobra.ExactArgs(1),
		RunE:  checkpointCreateRun,
	}

	release := &cobra.Command{
		Use:   "release",
		Short: "Close the current checkpoint, resuming normal reader-lock acquisition",
		Args:  cobra.NoArgs,
		RunE:  checkpointReleaseRun,
	}

	checkpointCmd.AddCommand(create, release)
	rootCmd.AddCommand(checkpointCmd)

	reconcile := &cobra.Command{
		Use:   "reconcile",
		Short: "Compact the name registry's backing tables.d file",
		Args:  cobra.NoArgs,
		RunE:  reconcileRun,
	}
	rootCmd.AddCommand(reconcile)
}

func checkpointCreateRun(cmd *cobra.Command, args []string) error {
	id := args[0]
	tokens := eng.ListTables()
	if err := eng.CheckpointCreate(id, tokens); err != nil {
		return err
	}
	fmt.Printf("checkpoint %s created over %d tables\n", id, len(tokens))
	return nil
}

func checkpointReleaseRun(cmd *cobra.Command, args []string) error {
	if err := eng.CheckpointRelease(); err != nil {
		return err
	}
	fmt.Println("checkpoint released")
	return nil
}

func reconcileRun(cmd *cobra.Command, args []string) error {
	if err := eng.Reconcile(); err != nil {
		return err
	}
	fmt.Println("registry reconciled")
	return nil
}
