package main

import (
	"strings"

	"github.com/mohammad-safakhou/groundchat/config"
	"github.com/mohammad-safakhou/groundchat/tools/web_search"
	"github.com/spf13/cobra"
)

func searchCMD(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "search <query>",
		Short: "Run one search and print the extracted result as JSON",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(*cfgPath)
			if err != nil {
				return err
			}
			searcher, err := web_search.NewWebSearcher(cfg.Search, nil)
			if err != nil {
				return err
			}
			res, err := searcher.Search(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			return printJSON(res)
		},
	}
}
