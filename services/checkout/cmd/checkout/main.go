package main

import (
	"os"

	"github.com/spf13/cobra"

	pkgconfig "github.com/Skotchmaster/online_pharmacy/pkg/config"
	"github.com/Skotchmaster/online_pharmacy/services/checkout/internal/config"
)

func main() {
	pkgconfig.LoadDotenv(".env", "services/checkout/.env")
	cfg := config.Load()

	rootCmd := &cobra.Command{
		Use:           "checkout",
		Short:         "pharmacy checkout service",
		SilenceUsage:  true,
	}
	rootCmd.AddCommand(
		serveCommand(cfg),
		sweepCommand(cfg),
		migrateCommand(cfg),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
