package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newPingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Round-trip a ping to the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			start := time.Now()
			if err := db.Ping(cmd.Context()); err != nil {
				return err
			}
			fmt.Println(renderOK(fmt.Sprintf("pong in %v", time.Since(start).Round(time.Microsecond))))
			return nil
		},
	}
}
