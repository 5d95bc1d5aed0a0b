package main

import (
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	var cfgPath string
	var root = &cobra.Command{
		Use:           "groundchat",
		Short:         "Search-grounded chat backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// a missing .env is normal outside development
			_ = godotenv.Load()
		},
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default searches ./config and .)")

	root.AddCommand(serveCMD(&cfgPath), searchCMD(&cfgPath), storeCMD(&cfgPath))
	if err := root.Execute(); err != nil {
		log.Printf("error: %v", err)
		os.Exit(1)
	}
}
