package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newSQLCmd() *cobra.Command {
	var vars []string
	cmd := &cobra.Command{
		Use:   "sql <query>",
		Short: "Execute query text",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bindings, err := parseVars(vars)
			if err != nil {
				return err
			}
			db, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			results, err := db.Query(cmd.Context(), args[0], bindings)
			if err != nil {
				return err
			}
			for i, r := range results {
				header := fmt.Sprintf("-- statement %d", i+1)
				if r.Time != "" {
					header += " (" + r.Time + ")"
				}
				fmt.Println(dimStyle.Render(header))
				if !r.OK() {
					fmt.Println(errStyle.Render(r.Status))
					continue
				}
				var out any
				if err := r.DecodeInto(&out); err != nil {
					return err
				}
				fmt.Println(renderJSON(out))
			}
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&vars, "var", nil, "query variable as name=json (repeatable)")
	return cmd
}

// parseVars turns repeated name=json flags into a variable map. Values
// that do not parse as JSON are taken as literal strings.
func parseVars(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		name, raw, ok := strings.Cut(pair, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("malformed --var %q (want name=value)", pair)
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			v = raw
		}
		out[name] = v
	}
	return out, nil
}
