package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"property-reconciliation-service/internal/dedup"
	"property-reconciliation-service/internal/models"

	"github.com/spf13/cobra"
)

// Flags for the duplicates command
var (
	duplicatesOrg  string
	duplicatesKey  string
	duplicatesJSON bool
)

// duplicatesCmd represents the duplicates command
var duplicatesCmd = &cobra.Command{
	Use:   "duplicates",
	Short: "List duplicate invoice line groups",
	Long: `Duplicates lists groups of live invoice lines sharing the same invoice,
unit, line type, and normalized description. Each group shows the canonical
the merge engine would suggest.

Examples:
  reconciler duplicates --org org-1
  reconciler duplicates --org org-1 --group "inv-1|unit-5|rent|miete mai"
  reconciler duplicates --org org-1 --json`,

	RunE: runDuplicates,
}

func init() {
	rootCmd.AddCommand(duplicatesCmd)

	duplicatesCmd.Flags().StringVar(&duplicatesOrg, "org", "", "organization id (required)")
	duplicatesCmd.Flags().StringVar(&duplicatesKey, "group", "", "show a single group by key")
	duplicatesCmd.Flags().BoolVar(&duplicatesJSON, "json", false, "print groups as JSON")

	duplicatesCmd.MarkFlagRequired("org")
}

func runDuplicates(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	initLogging()

	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	grouper := dedup.NewGrouper(store)

	var groups []dedup.DuplicateGroup
	if duplicatesKey != "" {
		key, err := models.ParseGroupKey(duplicatesKey)
		if err != nil {
			return err
		}
		group, err := grouper.GetGroup(ctx, duplicatesOrg, key)
		if err != nil {
			return err
		}
		groups = []dedup.DuplicateGroup{*group}
	} else {
		groups, err = grouper.ListGroups(ctx, duplicatesOrg)
		if err != nil {
			return err
		}
	}

	if duplicatesJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(groups)
	}

	if len(groups) == 0 {
		fmt.Println("No duplicate groups found.")
		return nil
	}

	for _, group := range groups {
		suggested := dedup.SuggestedCanonical(&group)
		fmt.Printf("Group %s (%d members)\n", group.Key.String(), group.Size())
		for _, member := range group.Members {
			marker := " "
			if member.ID == suggested.ID {
				marker = "*"
			}
			fmt.Printf("  %s %s  %s %s  created %s  metadata keys %d\n",
				marker, member.ID, member.Amount.StringFixed(2), member.LineType,
				member.CreatedAt.Format("2006-01-02"), member.MetadataRichness())
		}
	}
	fmt.Println("\n* suggested canonical")
	return nil
}
