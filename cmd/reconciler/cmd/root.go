package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	verbose bool
	dsn     string
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "reconciler",
	Short: "Bank statement reconciliation for property management",
	Long: `Reconciler imports CAMT.053/054 bank statements, matches incoming rent
payments to tenants and units, and resolves duplicate invoice lines through
audited, reversible merges.

Examples:
  reconciler import --file statement.xml --org org-1 --account acct-1
  reconciler duplicates --org org-1
  reconciler merge --org org-1 --group "inv-1|unit-5|rent|miete mai" --canonical line-3 \
    --policy sum_amounts --comment "same booking imported twice" --actor alice
  reconciler undo --tombstone 8f14e45f --actor alice`,
	Version: getVersionString(),
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (optional)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&dsn, "dsn", "", "postgres connection string (or RECONCILER_DSN)")

	// Bind flags to viper
	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	viper.BindPFlag("dsn", rootCmd.PersistentFlags().Lookup("dsn"))
}

// initConfig reads in config file and ENV variables.
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)

		if err := viper.ReadInConfig(); err != nil {
			fmt.Fprintf(os.Stderr, "Error reading config file: %s\n", err)
			os.Exit(1)
		}

		if viper.GetBool("verbose") {
			fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
		}
	}

	// Read environment variables that match
	viper.SetEnvPrefix("RECONCILER")
	viper.AutomaticEnv()
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = getVersionString()
}

func getVersionString() string {
	if version == "dev" {
		return fmt.Sprintf("%s (commit %s, built %s)", version, commit, date)
	}
	return version
}
