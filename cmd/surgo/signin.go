package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/steveyegge/surgo"
)

func newSigninCmd() *cobra.Command {
	var (
		user string
		pass string
		ns   string
		db   string
	)
	cmd := &cobra.Command{
		Use:   "signin",
		Short: "Authenticate and print the session token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if user == "" {
				return fmt.Errorf("--user is required")
			}
			if pass == "" {
				fmt.Fprint(os.Stderr, "password: ")
				raw, err := term.ReadPassword(int(os.Stdin.Fd()))
				fmt.Fprintln(os.Stderr)
				if err != nil {
					return fmt.Errorf("read password: %w", err)
				}
				pass = string(raw)
			}

			conn, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer conn.Close()

			var creds surgo.Credentials
			switch {
			case ns != "" && db != "":
				creds = surgo.DatabaseAuth{Namespace: ns, Database: db, Username: user, Password: pass}
			case ns != "":
				creds = surgo.NamespaceAuth{Namespace: ns, Username: user, Password: pass}
			default:
				creds = surgo.RootAuth{Username: user, Password: pass}
			}

			token, err := conn.Signin(cmd.Context(), creds)
			if err != nil {
				return err
			}
			// The token goes to stdout alone so it can be captured by
			// scripts; everything else stays on stderr.
			fmt.Fprintln(os.Stderr, renderOK("signed in"))
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "username")
	cmd.Flags().StringVar(&pass, "pass", "", "password (prompted when omitted)")
	cmd.Flags().StringVar(&ns, "auth-ns", "", "authenticate at namespace level")
	cmd.Flags().StringVar(&db, "auth-db", "", "authenticate at database level (requires --auth-ns)")
	return cmd
}
