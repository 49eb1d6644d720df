package cmd

import (
	"fmt"
	"os"
	"strings"

	"property-reconciliation-service/pkg/errors"
	"property-reconciliation-service/pkg/logger"

	"github.com/spf13/viper"
)

// CLIErrorHandler provides user-friendly error handling for CLI operations
type CLIErrorHandler struct {
	logger  logger.Logger
	verbose bool
}

// NewCLIErrorHandler creates a new CLI error handler
func NewCLIErrorHandler() *CLIErrorHandler {
	return &CLIErrorHandler{
		logger:  logger.GetGlobalLogger().WithComponent("cli"),
		verbose: viper.GetBool("verbose"),
	}
}

// HandleError handles errors and returns the process exit code
func (h *CLIErrorHandler) HandleError(err error) int {
	if err == nil {
		return 0
	}

	h.logger.WithError(err).Error("Command failed")

	if reconcilerErr, ok := errors.AsReconcilerError(err); ok {
		return h.handleReconcilerError(reconcilerErr)
	}

	return h.handleGenericError(err)
}

// handleReconcilerError handles ReconcilerError with detailed context
func (h *CLIErrorHandler) handleReconcilerError(err *errors.ReconcilerError) int {
	fmt.Fprintf(os.Stderr, "Error: %s\n", err.Message)

	if len(err.Violations) > 0 {
		fmt.Fprintf(os.Stderr, "\nViolations:\n")
		for _, v := range err.Violations {
			fmt.Fprintf(os.Stderr, "  %s: %s\n", v.Field, v.Message)
		}
	}

	if len(err.Context) > 0 {
		fmt.Fprintf(os.Stderr, "\nContext:\n")
		for key, value := range err.Context {
			fmt.Fprintf(os.Stderr, "  %s: %v\n", key, value)
		}
	}

	if err.Suggestion != "" {
		fmt.Fprintf(os.Stderr, "\nSuggestion: %s\n", err.Suggestion)
	}

	fmt.Fprintf(os.Stderr, "\n%s\n", h.getCategoryHelp(err.Category))

	if h.verbose && err.Cause != nil {
		fmt.Fprintf(os.Stderr, "\nUnderlying error: %v\n", err.Cause)
	}

	return err.GetExitCode()
}

// handleGenericError handles non-ReconcilerError types
func (h *CLIErrorHandler) handleGenericError(err error) int {
	if h.isFileNotFoundError(err) {
		fmt.Fprintf(os.Stderr, "Error: File not found\n")
		fmt.Fprintf(os.Stderr, "Suggestion: Check if the file path is correct and the file exists\n")
		return 2
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)

	if !h.verbose {
		fmt.Fprintf(os.Stderr, "\nFor more details, run with --verbose\n")
	}

	return 1
}

// getCategoryHelp returns category-specific help text
func (h *CLIErrorHandler) getCategoryHelp(category errors.ErrorCategory) string {
	switch category {
	case errors.CategoryParse:
		return `Parse error help:
• Verify the file is a CAMT.053 or CAMT.054 XML export
• Check that the export from the bank is complete and not truncated
• Ensure the file uses UTF-8 encoding`

	case errors.CategoryValidation:
		return `Validation error help:
• Check the listed violations and correct the request
• Policy must be keep_latest, sum_amounts, or manual
• The audit comment must be at least 5 characters
• The canonical id must belong to the group being merged`

	case errors.CategoryNotFound:
		return `Not-found help:
• The group or tombstone may already have been resolved or undone
• Reload the duplicate listing with 'reconciler duplicates'
• Check pending undos with 'reconciler pending-undos'`

	case errors.CategoryExpired:
		return `Expired help:
• The undo window for this merge has closed
• The merge can no longer be reverted automatically
• Recreate the affected lines manually if the merge was wrong`

	case errors.CategoryConflict:
		return `Conflict help:
• Another actor resolved this group concurrently
• Reload the duplicate listing to see the current state
• The operation is safe to retry on a different group`

	case errors.CategoryStore:
		return `Store error help:
• Check the database connection string (--dsn or RECONCILER_DSN)
• Verify the database is reachable and the schema is applied
• Retry once the database is available`

	default:
		return `For more help:
• Use 'reconciler --help' for general help
• Use 'reconciler <command> --help' for command-specific help`
	}
}

func (h *CLIErrorHandler) isFileNotFoundError(err error) bool {
	return os.IsNotExist(err) || strings.Contains(err.Error(), "no such file or directory")
}
