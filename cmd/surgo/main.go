// Command surgo is a thin CLI over the client library: connect to a
// server, run queries, tail live changes, and inspect the client
// cache. Configuration comes from flags, SURGO_* environment
// variables, and an optional YAML config file, in that precedence.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/steveyegge/surgo"
	"github.com/steveyegge/surgo/internal/debug"
)

// Version is the CLI version, overridden at build time via -ldflags.
var Version = "0.1.0"

var (
	rootCtx    context.Context
	rootCancel context.CancelFunc

	rootCmd = &cobra.Command{
		Use:           "surgo",
		Short:         "Client CLI for multi-model database servers",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if viper.GetBool("debug") {
				debug.SetEnabled(true)
			}
			return loadFileConfig(viper.GetString("config"))
		},
	}
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.String("endpoint", "ws://localhost:8000", "server endpoint (ws://, wss://, http://, https://)")
	pf.String("ns", "", "namespace to use")
	pf.String("db", "", "database to use")
	pf.String("token", "", "authentication token")
	pf.String("encoding", "json", "wire encoding: json or cbor")
	pf.Duration("timeout", 30*time.Second, "per-request timeout")
	pf.String("cache-db", "", "path to a sqlite file backing the client cache (default in-memory)")
	pf.String("config", "", "path to a YAML config file")
	pf.Bool("debug", false, "enable debug logging to stderr")

	viper.SetEnvPrefix("SURGO")
	viper.AutomaticEnv()
	for _, name := range []string{"endpoint", "ns", "db", "token", "encoding", "timeout", "cache-db", "config", "debug"} {
		if err := viper.BindPFlag(name, pf.Lookup(name)); err != nil {
			panic(err)
		}
	}

	rootCmd.AddCommand(
		newPingCmd(),
		newVersionCmd(),
		newSQLCmd(),
		newSelectCmd(),
		newCreateCmd(),
		newDeleteCmd(),
		newLiveCmd(),
		newSigninCmd(),
		newCacheCmd(),
	)
}

func main() {
	rootCtx, rootCancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer rootCancel()

	if err := rootCmd.ExecuteContext(rootCtx); err != nil {
		fmt.Fprintln(os.Stderr, renderError(err))
		os.Exit(1)
	}
}

// connect builds a client from the effective configuration, connects,
// and applies token and namespace selection when present.
func connect(ctx context.Context) (*surgo.DB, error) {
	cfg, err := buildConfig()
	if err != nil {
		return nil, err
	}
	db, err := surgo.New(viper.GetString("endpoint"), cfg)
	if err != nil {
		return nil, err
	}
	if err := db.Connect(ctx); err != nil {
		return nil, err
	}
	if token := viper.GetString("token"); token != "" {
		if err := db.Authenticate(ctx, token); err != nil {
			db.Close()
			return nil, err
		}
	}
	ns, dbName := viper.GetString("ns"), viper.GetString("db")
	if ns != "" && dbName != "" {
		if err := db.Use(ctx, ns, dbName); err != nil {
			db.Close()
			return nil, err
		}
	}
	return db, nil
}
