// Package cli implements the salah command line.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/salah-ledger/salah/internal/daemon"
)

// Persistent flags.
var (
	flagHome     string
	flagUser     string
	flagTimezone string
	flagTrace    bool
)

var rootCmd = &cobra.Command{
	Use:   "salah",
	Short: "Track daily prayers and consistency credits",
	Long: `salah logs the five daily prayers, turns them into consistency credits
and keeps a streak. With no [sync].remote_url it works offline against a
local SQLite store in $SALAH_HOME (default ~/.salah); otherwise it syncs
with a salah store server.`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagHome, "home", "", "State directory (default $SALAH_HOME or ~/.salah)")
	rootCmd.PersistentFlags().StringVarP(&flagUser, "user", "u", "", "User id (overrides [sync].user_id)")
	rootCmd.PersistentFlags().StringVar(&flagTimezone, "tz", "", "IANA timezone for the prayer day (overrides [sync].timezone)")
	rootCmd.PersistentFlags().BoolVar(&flagTrace, "trace", false, "Print sync spans after the command")
}

// Execute runs the root command and exits non-zero on failure. Errors are
// printed in their user-facing form.
func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, UserMessage(err))
		os.Exit(1)
	}
}

// homeDir resolves --home over $SALAH_HOME.
func homeDir() string {
	if flagHome != "" {
		return flagHome
	}
	return daemon.Home()
}

// loadConfig loads the config and applies flag overrides.
func loadConfig() (daemon.Config, error) {
	cfg, err := daemon.Load(homeDir())
	if err != nil {
		return daemon.Config{}, err
	}
	if flagUser != "" {
		cfg.Sync.UserID = flagUser
	}
	if flagTimezone != "" {
		cfg.Sync.Timezone = flagTimezone
	}
	return cfg, nil
}
