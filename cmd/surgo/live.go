package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/steveyegge/surgo/codec"
)

func newLiveCmd() *cobra.Command {
	var diff bool
	cmd := &cobra.Command{
		Use:   "live <table>",
		Short: "Tail live changes on a table until interrupted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			lq, err := db.Live(cmd.Context(), args[0], diff)
			if err != nil {
				return err
			}
			fmt.Println(dimStyle.Render("subscribed as " + lq.ID() + " (ctrl-c to stop)"))

			for {
				select {
				case <-cmd.Context().Done():
					// The command context is already canceled; kill the
					// subscription on a fresh one so the RPC can finish.
					return db.Kill(context.Background(), lq.ID())
				case n, ok := <-lq.Ch():
					if !ok {
						fmt.Println(dimStyle.Render("subscription closed"))
						return nil
					}
					var body any
					if err := codec.Decode(n.Result, &body); err != nil {
						body = fmt.Sprintf("<undecodable: %v>", err)
					}
					fmt.Printf("%s %s\n", labelStyle.Render(string(n.Action)), renderJSON(body))
				}
			}
		},
	}
	cmd.Flags().BoolVar(&diff, "diff", false, "receive JSON-patch diffs instead of full records")
	return cmd
}
