package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newVersionCmd() *cobra.Command {
	var clientOnly bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show client and server versions",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(labelStyle.Render("client: ") + Version)
			if clientOnly {
				return nil
			}
			db, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			server, err := db.Version(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Println(labelStyle.Render("server: ") + server)
			return nil
		},
	}
	cmd.Flags().BoolVar(&clientOnly, "client", false, "print only the client version")
	return cmd
}
