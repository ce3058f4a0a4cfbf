package main

import (
	"fmt"

	"github.com/karastat/heatmap/internal/store"
	"github.com/spf13/cobra"
)

var (
	flagRecordDB     string
	flagRecordDriver string
	flagDelta        int
)

var recordCmd = &cobra.Command{
	Use:   "record KEY [KEY...]",
	Short: "Increment key counts in a statistics database",
	Long:  "Adds --delta to each named key, creating the database and table if needed. Useful for populating a database while developing layouts.",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRecord,
}

func init() {
	recordCmd.Flags().StringVar(&flagRecordDB, "db", "", "database path (default: the KaraStat location)")
	recordCmd.Flags().StringVar(&flagRecordDriver, "driver", store.DriverSQLite, "database driver: sqlite|duckdb")
	recordCmd.Flags().IntVar(&flagDelta, "delta", 1, "amount added to each key")
}

func runRecord(cmd *cobra.Command, args []string) error {
	path := flagRecordDB
	if path == "" {
		path = store.DefaultDatabasePath()
	}

	rec, err := store.OpenRecorder(cmd.Context(), flagRecordDriver, path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer rec.Close()

	for _, key := range args {
		if err := rec.Increment(cmd.Context(), key, flagDelta); err != nil {
			return fmt.Errorf("recording %s: %w", key, err)
		}
	}
	fmt.Printf("[Record] Added %d to %d keys in %s\n", flagDelta, len(args), path)
	return nil
}
