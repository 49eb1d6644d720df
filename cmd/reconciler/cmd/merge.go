package cmd

import (
	"context"
	"fmt"
	"strings"

	"property-reconciliation-service/cmd/reconciler/config"
	"property-reconciliation-service/internal/dedup"
	"property-reconciliation-service/internal/models"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

// Flags for the merge commands
var (
	mergeOrg       string
	mergeGroup     string
	mergeCanonical string
	mergePolicy    string
	mergeComment   string
	mergeActor     string
	mergeAmount    string
	mergeTaxRate   string

	bulkGroups []string
)

// mergeCmd represents the merge command
var mergeCmd = &cobra.Command{
	Use:   "merge",
	Short: "Merge one duplicate invoice line group",
	Long: `Merge resolves a duplicate group: the canonical line survives, every
other member is soft-deleted, and a tombstone records the pre-merge state
so the merge can be undone within its window.

Policies:
  keep_latest   canonical keeps its own amount, tax rate, and metadata
  sum_amounts   canonical amount becomes the sum across all members
  manual        --amount and --tax-rate replace the canonical values

Examples:
  reconciler merge --org org-1 --group "inv-1|unit-5|rent|miete mai" \
    --canonical line-3 --policy keep_latest --comment "double import" --actor alice

  reconciler merge --org org-1 --group "inv-1|unit-5|rent|miete mai" \
    --canonical line-3 --policy manual --amount 42.50 --tax-rate 19 \
    --comment "corrected amount" --actor alice`,

	PreRunE: validateMergeFlags,
	RunE:    runMerge,
}

// bulkResolveCmd represents the bulk-resolve command
var bulkResolveCmd = &cobra.Command{
	Use:   "bulk-resolve",
	Short: "Merge many duplicate groups with one policy",
	Long: `Bulk-resolve merges every listed group using the suggested canonical,
one shared policy, and one shared comment. Groups that fail are reported
and skipped; the rest proceed.

Example:
  reconciler bulk-resolve --org org-1 --policy keep_latest \
    --comment "bulk cleanup after migration" --actor alice \
    --groups "inv-1|unit-5|rent|miete mai" --groups "inv-2|unit-5|rent|miete juni"`,

	RunE: runBulkResolve,
}

func init() {
	rootCmd.AddCommand(mergeCmd)
	rootCmd.AddCommand(bulkResolveCmd)

	mergeCmd.Flags().StringVar(&mergeOrg, "org", "", "organization id (required)")
	mergeCmd.Flags().StringVar(&mergeGroup, "group", "", "duplicate group key (required)")
	mergeCmd.Flags().StringVar(&mergeCanonical, "canonical", "", "surviving line id (required)")
	mergeCmd.Flags().StringVar(&mergePolicy, "policy", "keep_latest", "merge policy: keep_latest, sum_amounts, manual")
	mergeCmd.Flags().StringVar(&mergeComment, "comment", "", "audit comment, at least 5 characters (required)")
	mergeCmd.Flags().StringVar(&mergeActor, "actor", "", "acting user id (required)")
	mergeCmd.Flags().StringVar(&mergeAmount, "amount", "", "replacement amount (manual policy)")
	mergeCmd.Flags().StringVar(&mergeTaxRate, "tax-rate", "", "replacement tax rate (manual policy)")

	mergeCmd.MarkFlagRequired("org")
	mergeCmd.MarkFlagRequired("group")
	mergeCmd.MarkFlagRequired("canonical")
	mergeCmd.MarkFlagRequired("comment")
	mergeCmd.MarkFlagRequired("actor")

	bulkResolveCmd.Flags().StringVar(&mergeOrg, "org", "", "organization id (required)")
	bulkResolveCmd.Flags().StringArrayVar(&bulkGroups, "groups", nil, "group keys to resolve (repeatable, required)")
	bulkResolveCmd.Flags().StringVar(&mergePolicy, "policy", "keep_latest", "merge policy applied to every group")
	bulkResolveCmd.Flags().StringVar(&mergeComment, "comment", "", "shared audit comment (required)")
	bulkResolveCmd.Flags().StringVar(&mergeActor, "actor", "", "acting user id (required)")

	bulkResolveCmd.MarkFlagRequired("org")
	bulkResolveCmd.MarkFlagRequired("groups")
	bulkResolveCmd.MarkFlagRequired("comment")
	bulkResolveCmd.MarkFlagRequired("actor")
}

func validateMergeFlags(cmd *cobra.Command, args []string) error {
	policy := models.MergePolicy(mergePolicy)
	if !policy.IsValid() {
		return fmt.Errorf("invalid policy %q, valid policies: keep_latest, sum_amounts, manual", mergePolicy)
	}
	if policy == models.PolicyManual && mergeAmount == "" {
		return fmt.Errorf("manual policy requires --amount")
	}
	return nil
}

func runMerge(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	initLogging()

	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	dedupConfig, err := config.CreateDedupConfig()
	if err != nil {
		return err
	}
	merger, err := dedup.NewMerger(store, store, store, dedupConfig)
	if err != nil {
		return err
	}

	key, err := models.ParseGroupKey(mergeGroup)
	if err != nil {
		return err
	}

	request := dedup.MergeRequest{
		OrganizationID: mergeOrg,
		GroupKey:       key,
		CanonicalID:    mergeCanonical,
		Policy:         models.MergePolicy(mergePolicy),
		Comment:        mergeComment,
		ActorID:        mergeActor,
	}
	if request.Policy == models.PolicyManual {
		overrides, err := parseManualValues()
		if err != nil {
			return err
		}
		request.Overrides = overrides
	}

	outcome, err := merger.Merge(ctx, request)
	if err != nil {
		return err
	}

	fmt.Printf("Merged %d lines into %s\n", len(outcome.MergedIDs), outcome.CanonicalID)
	fmt.Printf("  Tombstone: %s (undo until %s)\n",
		outcome.TombstoneID, outcome.TombstoneExpiresAt.Format("2006-01-02 15:04:05 MST"))
	return nil
}

func runBulkResolve(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	initLogging()

	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	dedupConfig, err := config.CreateDedupConfig()
	if err != nil {
		return err
	}
	merger, err := dedup.NewMerger(store, store, store, dedupConfig)
	if err != nil {
		return err
	}

	keys := make([]models.GroupKey, 0, len(bulkGroups))
	for _, raw := range bulkGroups {
		key, err := models.ParseGroupKey(strings.TrimSpace(raw))
		if err != nil {
			return err
		}
		keys = append(keys, key)
	}

	outcome, err := merger.BulkResolve(ctx, dedup.BulkRequest{
		OrganizationID: mergeOrg,
		GroupKeys:      keys,
		Policy:         models.MergePolicy(mergePolicy),
		Comment:        mergeComment,
		ActorID:        mergeActor,
	})
	if err != nil {
		return err
	}

	fmt.Printf("Resolved %d of %d groups\n", outcome.Processed, len(keys))
	for _, failure := range outcome.Failures {
		fmt.Printf("  failed %s: %s\n", failure.GroupKey.String(), failure.Reason)
	}
	return nil
}

func parseManualValues() (*dedup.ManualValues, error) {
	amount, err := decimal.NewFromString(mergeAmount)
	if err != nil {
		return nil, fmt.Errorf("invalid --amount %q: %w", mergeAmount, err)
	}
	overrides := &dedup.ManualValues{Amount: amount}
	if mergeTaxRate != "" {
		taxRate, err := decimal.NewFromString(mergeTaxRate)
		if err != nil {
			return nil, fmt.Errorf("invalid --tax-rate %q: %w", mergeTaxRate, err)
		}
		overrides.TaxRate = taxRate
	}
	return overrides, nil
}
