package main

import (
	"os"

	"property-reconciliation-service/cmd/reconciler/cmd"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	cmd.SetVersionInfo(version, commit, date)

	if err := cmd.Execute(); err != nil {
		handler := cmd.NewCLIErrorHandler()
		os.Exit(handler.HandleError(err))
	}
}
