package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and manage the client cache",
	}
	cmd.AddCommand(newCacheStatsCmd(), newCacheClearCmd())
	return cmd
}

func newCacheStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show cache counters and entry ages",
		RunE: func(cmd *cobra.Command, args []string) error {
			if viper.GetString("cache-db") == "" {
				return fmt.Errorf("cache stats need a persistent cache; pass --cache-db")
			}
			db, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			s := db.CacheStats(cmd.Context())
			fmt.Println(labelStyle.Render("entries:   ") + fmt.Sprint(s.Entries))
			fmt.Println(labelStyle.Render("hits:      ") + fmt.Sprint(s.Hits))
			fmt.Println(labelStyle.Render("misses:    ") + fmt.Sprint(s.Misses))
			fmt.Println(labelStyle.Render("evictions: ") + fmt.Sprint(s.Evictions))
			if s.Entries > 0 {
				fmt.Println(labelStyle.Render("oldest:    ") + s.OldestEntry.String())
				fmt.Println(labelStyle.Render("newest:    ") + s.NewestEntry.String())
			}
			return nil
		},
	}
}

func newCacheClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Drop every cached entry",
		RunE: func(cmd *cobra.Command, args []string) error {
			if viper.GetString("cache-db") == "" {
				return fmt.Errorf("cache clear needs a persistent cache; pass --cache-db")
			}
			db, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			db.InvalidateCacheAll(cmd.Context())
			fmt.Println(renderOK("cache cleared"))
			return nil
		},
	}
}
