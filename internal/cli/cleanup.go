package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var cleanupOlderThan time.Duration

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete uploaded objects older than the retention period",
	Long: `Delete uploaded objects older than the retention period.

The period defaults to STORAGE_RETENTION. Database rows are kept; only the
objects under the storage folder are removed.

Examples:
  receiptctl cleanup
  receiptctl cleanup --older-than 720h`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		age := cleanupOlderThan
		if age <= 0 {
			age = current.retention
		}
		if age <= 0 {
			return fmt.Errorf("cleanup: retention must be positive")
		}

		prefix := ""
		if current.folder != "" {
			prefix = strings.TrimSuffix(current.folder, "/") + "/"
		}
		n, err := current.storage.CleanupBefore(cmd.Context(), prefix, time.Now().Add(-age))
		if err != nil {
			return fmt.Errorf("cleanup: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d object(s) older than %s.\n", n, age)
		return nil
	},
}

func init() {
	cleanupCmd.Flags().DurationVar(&cleanupOlderThan, "older-than", 0, "minimum object age (default: storage retention)")
}
