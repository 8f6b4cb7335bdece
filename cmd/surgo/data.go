package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newSelectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "select <table|record-id>",
		Short: "Read a table or a single record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			var out any
			if err := db.Select(cmd.Context(), args[0], &out); err != nil {
				return err
			}
			fmt.Println(renderJSON(out))
			return nil
		},
	}
}

func newCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create <table|record-id> [json]",
		Short: "Create a record, optionally with a JSON content payload",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var data any
			if len(args) == 2 {
				if err := json.Unmarshal([]byte(args[1]), &data); err != nil {
					return fmt.Errorf("parse content payload: %w", err)
				}
			}
			db, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			var out any
			if err := db.Create(cmd.Context(), args[0], data, &out); err != nil {
				return err
			}
			fmt.Println(renderJSON(out))
			return nil
		},
	}
}

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <table|record-id>",
		Short: "Delete a record or every record of a table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			if err := db.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Println(renderOK("deleted " + args[0]))
			return nil
		},
	}
}
