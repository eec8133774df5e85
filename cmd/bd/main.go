// Command bd is the replicator's operator CLI: a thin Cobra front end over
// internal/replicate, primarily useful for replaying a captured item
// (metadata + body pair) through the decision engine outside of whatever
// transport normally drives it.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/beadslog/replicator/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "bd",
	Short: "Replication engine operator CLI",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Initialize(); err != nil {
			return fmt.Errorf("load configuration: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddGroup(&cobra.Group{ID: "replicate", Title: "Replication:"})
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
