package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"property-reconciliation-service/cmd/reconciler/config"
	"property-reconciliation-service/internal/importer"
	"property-reconciliation-service/internal/models"
	"property-reconciliation-service/internal/stores"
	"property-reconciliation-service/pkg/logger"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Flags for the import command
var (
	importFile      string
	importOrg       string
	importAccount   string
	importThreshold float64
	importDryRun    bool
	importJSON      bool
)

// importCmd represents the import command
var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import a CAMT.053/054 bank statement",
	Long: `Import parses a CAMT.053 account statement or CAMT.054 credit
notification, matches each credit entry to a tenant and unit, and persists
the accepted matches. Entries the matcher cannot assign confidently are
listed for review and not written. Entries already imported for the
account are skipped, so re-running the same statement is safe.

Examples:
  # Import a statement
  reconciler import --file statement.xml --org org-1 --account acct-1

  # Preview matching without writing anything
  reconciler import --file statement.xml --org org-1 --account acct-1 --dry-run

  # Lower the acceptance threshold
  reconciler import --file statement.xml --org org-1 --account acct-1 --threshold 0.6`,

	PreRunE: validateImportFlags,
	RunE:    runImport,
}

func init() {
	rootCmd.AddCommand(importCmd)

	importCmd.Flags().StringVarP(&importFile, "file", "f", "", "path to the CAMT XML document (required)")
	importCmd.Flags().StringVar(&importOrg, "org", "", "organization id (required)")
	importCmd.Flags().StringVar(&importAccount, "account", "", "bank account id (required)")
	importCmd.Flags().Float64Var(&importThreshold, "threshold", 0, "minimum confidence to accept a match (default from config, 0.70)")
	importCmd.Flags().BoolVar(&importDryRun, "dry-run", false, "match entries but write nothing")
	importCmd.Flags().BoolVar(&importJSON, "json", false, "print the result as JSON")

	importCmd.MarkFlagRequired("file")
	importCmd.MarkFlagRequired("org")
	importCmd.MarkFlagRequired("account")

	viper.BindPFlag("accept-threshold", importCmd.Flags().Lookup("threshold"))
}

func validateImportFlags(cmd *cobra.Command, args []string) error {
	if importFile == "" {
		return fmt.Errorf("file is required")
	}
	info, err := os.Stat(importFile)
	if os.IsNotExist(err) {
		return fmt.Errorf("statement file does not exist: %s", importFile)
	}
	if err != nil {
		return fmt.Errorf("error accessing statement file: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("statement file is a directory: %s", importFile)
	}
	if importThreshold < 0 || importThreshold > 1 {
		return fmt.Errorf("threshold must be between 0 and 1")
	}
	return nil
}

func runImport(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	initLogging()

	document, err := os.ReadFile(importFile)
	if err != nil {
		return fmt.Errorf("failed to read statement file: %w", err)
	}

	importerConfig, err := config.CreateImporterConfig(importThreshold)
	if err != nil {
		return err
	}

	var refs stores.ReferenceStore
	var patterns stores.PatternStore
	var transactions stores.TransactionStore

	store, err := openStore(ctx)
	if err == nil {
		defer store.Close()
		refs, patterns, transactions = store, store, store
		if importDryRun {
			transactions = previewTransactionStore{store}
		}
	} else {
		if !importDryRun {
			return err
		}
		// Dry run without a database still validates the document
		mem := stores.NewMemoryStore()
		refs, patterns, transactions = mem, mem, mem
	}

	orchestrator, err := importer.NewOrchestrator(refs, patterns, transactions, importerConfig)
	if err != nil {
		return err
	}

	result, err := orchestrator.ImportStatement(ctx, string(document), importOrg, importAccount)
	if err != nil {
		return err
	}

	return printImportResult(result)
}

func printImportResult(result *importer.ImportResult) error {
	if importJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	fmt.Printf("Statement %s (%s)\n", result.StatementID, result.AccountIBAN)
	fmt.Printf("  Entries:   %d (%d credits)\n", result.Entries, result.Credits)
	fmt.Printf("  Created:   %d\n", result.Created)
	fmt.Printf("  Skipped:   %d\n", result.Skipped)
	fmt.Printf("  Matched:   %d\n", len(result.Matched))
	fmt.Printf("  Unmatched: %d\n", len(result.Unmatched))
	for _, u := range result.Unmatched {
		fmt.Printf("    %s %s %s (%s, %d%%)\n",
			u.Entry.BookingDate.Format("2006-01-02"), u.Entry.Amount.String(),
			u.Entry.CounterpartyName, u.Method, u.Confidence)
	}
	if result.ParseStats != nil && result.ParseStats.EntriesDegraded > 0 {
		fmt.Printf("  Degraded:  %d entries parsed with defaults\n", result.ParseStats.EntriesDegraded)
	}
	if importDryRun {
		fmt.Println("  (dry run, nothing written)")
	}
	return nil
}

// previewTransactionStore reads duplicates from the real store but makes
// inserts a no-op
type previewTransactionStore struct {
	stores.TransactionStore
}

func (previewTransactionStore) InsertTransaction(context.Context, models.Transaction) error {
	return nil
}

// initLogging reconfigures the global logger from CLI flags
func initLogging() {
	cfg := config.CreateLoggerConfig(viper.GetBool("verbose"))
	if log, err := logger.NewLogger(cfg); err == nil {
		logger.SetGlobalLogger(log)
	}
}
