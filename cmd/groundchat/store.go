package main

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/mohammad-safakhou/groundchat/config"
	"github.com/spf13/cobra"
)

func storeCMD(cfgPath *string) *cobra.Command {
	var st = &cobra.Command{
		Use:   "store",
		Short: "Inspect the similarity store",
	}

	var stats = &cobra.Command{
		Use:   "stats",
		Short: "Print document, source and vector counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(*cfgPath)
			if err != nil {
				return err
			}
			res, err := openStore(cmd.Context(), cfg, false)
			if err != nil {
				return err
			}
			defer res.Shutdown()
			return printJSON(res.store.Stats())
		},
	}

	var topK int
	var query = &cobra.Command{
		Use:   "query <text>",
		Short: "Print the best matching stored chunks",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(*cfgPath)
			if err != nil {
				return err
			}
			res, err := openStore(cmd.Context(), cfg, false)
			if err != nil {
				return err
			}
			defer res.Shutdown()
			k := topK
			if k <= 0 {
				k = cfg.Store.TopK
			}
			hits, err := res.store.SimilaritySearch(cmd.Context(), strings.Join(args, " "), k)
			if err != nil {
				return err
			}
			return printJSON(hits)
		},
	}
	query.Flags().IntVarP(&topK, "top", "k", 0, "number of hits (default store.top_k)")

	st.AddCommand(stats, query)
	return st
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
