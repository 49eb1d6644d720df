package cmd

import (
	"context"
	"fmt"
	"time"

	"property-reconciliation-service/cmd/reconciler/config"
	"property-reconciliation-service/internal/dedup"

	"github.com/spf13/cobra"
)

// Flags for the undo commands
var (
	undoTombstone string
	undoActor     string
	undoOrg       string
)

// undoCmd represents the undo command
var undoCmd = &cobra.Command{
	Use:   "undo",
	Short: "Undo a merge from its tombstone",
	Long: `Undo restores a merged duplicate group to its exact pre-merge state:
the canonical line gets its old values back and every soft-deleted member
becomes live again. Only works while the tombstone's undo window is open,
and only once per merge.

Example:
  reconciler undo --tombstone 8f14e45f --actor alice`,

	RunE: runUndo,
}

// pendingUndosCmd represents the pending-undos command
var pendingUndosCmd = &cobra.Command{
	Use:   "pending-undos",
	Short: "List merges still inside their undo window",
	Long: `Pending-undos lists every merge of the organization that can still be
undone, with the remaining time per tombstone.

Example:
  reconciler pending-undos --org org-1`,

	RunE: runPendingUndos,
}

func init() {
	rootCmd.AddCommand(undoCmd)
	rootCmd.AddCommand(pendingUndosCmd)

	undoCmd.Flags().StringVar(&undoTombstone, "tombstone", "", "tombstone id from the merge (required)")
	undoCmd.Flags().StringVar(&undoActor, "actor", "", "acting user id (required)")
	undoCmd.MarkFlagRequired("tombstone")
	undoCmd.MarkFlagRequired("actor")

	pendingUndosCmd.Flags().StringVar(&undoOrg, "org", "", "organization id (required)")
	pendingUndosCmd.MarkFlagRequired("org")
}

func runUndo(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	initLogging()

	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	manager, err := newUndoManager(store)
	if err != nil {
		return err
	}

	outcome, err := manager.Undo(ctx, undoTombstone, undoActor)
	if err != nil {
		return err
	}

	fmt.Printf("Undo complete: restored %d lines in group %s\n",
		outcome.RestoredCount, outcome.GroupKey)
	fmt.Printf("  Canonical %s reverted to its pre-merge state\n", outcome.CanonicalID)
	return nil
}

func runPendingUndos(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	initLogging()

	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	manager, err := newUndoManager(store)
	if err != nil {
		return err
	}

	pending, err := manager.ListPendingUndos(ctx, undoOrg)
	if err != nil {
		return err
	}

	if len(pending) == 0 {
		fmt.Println("No pending undos.")
		return nil
	}

	now := time.Now()
	for _, p := range pending {
		remaining := p.ExpiresAt.Sub(now).Round(time.Minute)
		fmt.Printf("%s  group %s  %d lines merged by %s  %s left\n",
			p.TombstoneID, p.GroupKey, p.MergedCount, p.MergedBy, remaining)
	}
	return nil
}

func newUndoManager(store storeBundle) (*dedup.UndoManager, error) {
	dedupConfig, err := config.CreateDedupConfig()
	if err != nil {
		return nil, err
	}
	return dedup.NewUndoManager(store, store, dedupConfig)
}
